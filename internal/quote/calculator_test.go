package quote

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"perpmm/internal/config"
	"perpmm/internal/core"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func btcMeta() *core.SymbolMeta {
	return &core.SymbolMeta{
		Symbol:   "BTC-USD",
		TickSize: dec("0.1"),
		QtyStep:  dec("0.001"),
		MinQty:   dec("0.001"),
	}
}

func baseInputs(cfg *config.Config) Inputs {
	return Inputs{
		Mid:     dec("100001.0"),
		BestBid: dec("100000.0"),
		BestAsk: dec("100002.0"),
		Meta:    btcMeta(),
		Cfg:     cfg,
	}
}

func TestUptimeModeColdStart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = false

	q := NewCalculator().Compute(baseInputs(cfg))

	// 8 bps off mid: bid = 100001*(1-0.0008) = 99920.9992, floored to tick;
	// ask = 100001*(1+0.0008) = 100081.0008, ceiled to tick
	assert.True(t, q.AllowBid)
	assert.True(t, q.AllowAsk)
	assert.True(t, q.BidPrice.Equal(dec("99920.9")), "bid %s", q.BidPrice)
	assert.True(t, q.AskPrice.Equal(dec("100081.1")), "ask %s", q.AskPrice)
	assert.True(t, q.BidQty.Equal(dec("0.01")))
	assert.True(t, q.AskQty.Equal(dec("0.01")))
}

func TestTickAlignment(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = false

	q := NewCalculator().Compute(baseInputs(cfg))

	tick := dec("0.1")
	assert.True(t, q.BidPrice.Mod(tick).IsZero())
	assert.True(t, q.AskPrice.Mod(tick).IsZero())
	assert.True(t, q.BidPrice.LessThan(dec("100002.0")))
	assert.True(t, q.AskPrice.GreaterThan(dec("100000.0")))
}

func TestRebateModeJoinsTop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Quote.StrategyMode = "rebate"
	cfg.Skew.Enabled = false

	q := NewCalculator().Compute(baseInputs(cfg))

	assert.True(t, q.BidPrice.Equal(dec("100000.0")))
	assert.True(t, q.AskPrice.Equal(dec("100002.0")))
}

func TestInventorySkewPushesBidAway(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = true
	cfg.Skew.PushBps = 6
	cfg.Skew.PullBps = 2

	flat := baseInputs(cfg)
	long := baseInputs(cfg)
	long.Position = dec("0.01") // r = 0.2 against max_position 0.05

	c := NewCalculator()
	qFlat := c.Compute(flat)
	qLong := c.Compute(long)

	// Effective bid distance grows from 8 to roughly 8 + 6*0.2 = 9.2 bps
	assert.True(t, qLong.BidPrice.LessThan(qFlat.BidPrice))
	gotBps, _ := DistanceBps(qLong.BidPrice, long.Mid).Float64()
	assert.InDelta(t, 9.2, gotBps, 0.02)
}

func TestSoftStopGatesWrongWaySide(t *testing.T) {
	cfg := config.DefaultConfig()

	long := baseInputs(cfg)
	long.Position = dec("0.05") // at max_position

	q := NewCalculator().Compute(long)
	assert.False(t, q.AllowBid, "bid must be gated at the long cap")
	assert.True(t, q.AllowAsk, "ask stays open for de-risking")

	short := baseInputs(cfg)
	short.Position = dec("-0.05")
	q = NewCalculator().Compute(short)
	assert.True(t, q.AllowBid)
	assert.False(t, q.AllowAsk)
}

func TestBreakevenFloorsAskWhenLong(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = false
	cfg.Quote.BreakevenOffsetBps = 1

	in := baseInputs(cfg)
	in.Position = dec("0.01")
	in.EntryPrice = dec("100090.0") // above the natural ask

	q := NewCalculator().Compute(in)

	// Natural ask would be ~100081.1; break-even floor lifts it
	floor := dec("100090.0").Mul(dec("1.0001"))
	assert.True(t, q.AskPrice.GreaterThanOrEqual(floor.Sub(dec("0.1"))), "ask %s", q.AskPrice)
}

func TestBreakevenCapsBidWhenShort(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = false
	cfg.Quote.BreakevenOffsetBps = 1

	in := baseInputs(cfg)
	in.Position = dec("-0.01")
	in.EntryPrice = dec("99900.0") // below the natural bid

	q := NewCalculator().Compute(in)

	cap := dec("99900.0").Mul(dec("0.9999"))
	assert.True(t, q.BidPrice.LessThanOrEqual(cap), "bid %s", q.BidPrice)
}

func TestVolatilityWidening(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Skew.Enabled = false
	cfg.Volatility.PauseThresholdBps = 5

	calm := baseInputs(cfg)
	calm.VolatilityBps = dec("1")

	hot := baseInputs(cfg)
	hot.VolatilityBps = dec("5") // at the pause threshold: full 2x widening

	c := NewCalculator()
	qCalm := c.Compute(calm)
	qHot := c.Compute(hot)

	calmBps, _ := DistanceBps(qCalm.BidPrice, calm.Mid).Float64()
	hotBps, _ := DistanceBps(qHot.BidPrice, hot.Mid).Float64()
	assert.InDelta(t, 2*calmBps, hotBps, 0.05)

	// Beyond the threshold widening stays capped at 2x
	extreme := baseInputs(cfg)
	extreme.VolatilityBps = dec("50")
	qExtreme := c.Compute(extreme)
	extremeBps, _ := DistanceBps(qExtreme.BidPrice, extreme.Mid).Float64()
	assert.InDelta(t, hotBps, extremeBps, 0.05)
}

func TestCrossedQuoteSuppressed(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Quote.StrategyMode = "rebate"
	cfg.Skew.Enabled = true
	cfg.Skew.PushBps = 500 // absurd skew forces the ask through the book

	in := baseInputs(cfg)
	in.Position = dec("-0.05") // heavy short pulls the ask below best bid

	q := NewCalculator().Compute(in)
	if q.AskPrice.LessThanOrEqual(in.BestBid) {
		assert.False(t, q.AllowAsk)
	}
}

func TestQtyBelowMinSuppressesBothSides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Position.OrderSize = 0.0001 // below min_qty

	q := NewCalculator().Compute(baseInputs(cfg))
	assert.False(t, q.AllowBid)
	assert.False(t, q.AllowAsk)
}

func TestDistanceBps(t *testing.T) {
	got, _ := DistanceBps(dec("99920"), dec("100000")).Float64()
	assert.InDelta(t, 8.0, got, 0.0001)
	got, _ = DistanceBps(dec("100080"), dec("100000")).Float64()
	assert.InDelta(t, 8.0, got, 0.0001)
}
