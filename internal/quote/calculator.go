// Package quote converts book state, position, and volatility into target quotes
package quote

import (
	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/internal/core"
)

var (
	bpsFactor = decimal.NewFromInt(10000)
	two       = decimal.NewFromInt(2)
	one       = decimal.NewFromInt(1)
)

// Inputs are everything one pricing pass needs. All values are read-only.
type Inputs struct {
	Mid           decimal.Decimal
	BestBid       decimal.Decimal
	BestAsk       decimal.Decimal
	Position      decimal.Decimal // signed primary position
	EntryPrice    decimal.Decimal // zero when flat
	VolatilityBps decimal.Decimal
	Meta          *core.SymbolMeta
	Cfg           *config.Config
}

// Quote is the pricing result. A side with Allow=false must not be quoted
// this tick; the opposite side stays open for de-risking.
type Quote struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
	BidQty   decimal.Decimal
	AskQty   decimal.Decimal
	AllowBid bool
	AllowAsk bool
}

// Calculator is a pure pricing function over decimals
type Calculator struct{}

// NewCalculator creates a calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute runs the pricing pipeline: base distance, inventory skew,
// break-even reversion, volatility widening, tick alignment, quantity
// rounding, and the soft-stop gates.
func (c *Calculator) Compute(in Inputs) Quote {
	q := Quote{AllowBid: true, AllowAsk: true}

	bid, ask := c.baseQuotes(in)
	bid, ask = c.applySkew(in, bid, ask)
	bid, ask = c.applyBreakeven(in, bid, ask)
	bid, ask = c.applyVolatilityWidening(in, bid, ask)

	// Tick alignment: bid rounds down, ask rounds up, so neither side
	// tightens past its target distance.
	bid = roundDownToStep(bid, in.Meta.TickSize)
	ask = roundUpToStep(ask, in.Meta.TickSize)

	if !bid.IsPositive() || bid.GreaterThanOrEqual(in.BestAsk) {
		q.AllowBid = false
	}
	if ask.LessThanOrEqual(in.BestBid) {
		q.AllowAsk = false
	}

	qty := roundDownToStep(decimal.NewFromFloat(in.Cfg.Position.OrderSize), in.Meta.QtyStep)
	if qty.LessThan(in.Meta.MinQty) {
		q.AllowBid = false
		q.AllowAsk = false
	}

	// Soft-stop gates: at the cap, only the de-risking side stays open
	maxPos := decimal.NewFromFloat(in.Cfg.Position.MaxPosition)
	if in.Position.GreaterThanOrEqual(maxPos) {
		q.AllowBid = false
	}
	if in.Position.LessThanOrEqual(maxPos.Neg()) {
		q.AllowAsk = false
	}

	q.BidPrice = bid
	q.AskPrice = ask
	q.BidQty = qty
	q.AskQty = qty
	return q
}

func (c *Calculator) baseQuotes(in Inputs) (bid, ask decimal.Decimal) {
	if in.Cfg.Quote.StrategyMode == "rebate" {
		// Join the top of book
		return in.BestBid, in.BestAsk
	}
	d := decimal.NewFromFloat(in.Cfg.Quote.OrderDistanceBps).Div(bpsFactor)
	bid = in.Mid.Mul(one.Sub(d))
	ask = in.Mid.Mul(one.Add(d))
	return bid, ask
}

// applySkew shifts quotes as a function of inventory. With
// r = clamp(position/max_position, -1, 1):
//
//	bid *= 1 - (r*push - min(0,r)*pull) / 10000
//	ask *= 1 + (r*push + min(0,r)*pull) / 10000
func (c *Calculator) applySkew(in Inputs, bid, ask decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !in.Cfg.Skew.Enabled {
		return bid, ask
	}
	maxPos := decimal.NewFromFloat(in.Cfg.Position.MaxPosition)
	if !maxPos.IsPositive() {
		return bid, ask
	}

	r := in.Position.Div(maxPos)
	if r.GreaterThan(one) {
		r = one
	} else if r.LessThan(one.Neg()) {
		r = one.Neg()
	}

	push := decimal.NewFromFloat(in.Cfg.Skew.PushBps)
	pull := decimal.NewFromFloat(in.Cfg.Skew.PullBps)
	minR := decimal.Min(decimal.Zero, r)

	bidAdj := r.Mul(push).Sub(minR.Mul(pull)).Div(bpsFactor)
	askAdj := r.Mul(push).Add(minR.Mul(pull)).Div(bpsFactor)

	return bid.Mul(one.Sub(bidAdj)), ask.Mul(one.Add(askAdj))
}

// applyBreakeven keeps the closing side from quoting through the tracked
// entry price, padded by breakeven_offset_bps, so a round trip cannot lock
// in a loss.
func (c *Calculator) applyBreakeven(in Inputs, bid, ask decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if in.EntryPrice.IsZero() || in.Position.IsZero() {
		return bid, ask
	}
	offset := decimal.NewFromFloat(in.Cfg.Quote.BreakevenOffsetBps).Div(bpsFactor)

	if in.Position.IsPositive() {
		// Long: the ask closes the position, keep it at or above break-even
		floor := in.EntryPrice.Mul(one.Add(offset))
		if ask.LessThan(floor) {
			ask = floor
		}
	} else {
		// Short: the bid closes the position, keep it at or below break-even
		cap := in.EntryPrice.Mul(one.Sub(offset))
		if bid.GreaterThan(cap) {
			bid = cap
		}
	}
	return bid, ask
}

// applyVolatilityWidening widens both sides linearly once volatility exceeds
// 70% of the pause threshold, capped at 2x at and beyond the threshold.
func (c *Calculator) applyVolatilityWidening(in Inputs, bid, ask decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	pause := decimal.NewFromFloat(in.Cfg.Volatility.PauseThresholdBps)
	if !pause.IsPositive() {
		return bid, ask
	}
	onset := pause.Mul(decimal.NewFromFloat(0.7))
	if in.VolatilityBps.LessThanOrEqual(onset) {
		return bid, ask
	}

	// Scale 1.0 at the onset to 2.0 at the pause threshold
	span := pause.Sub(onset)
	factor := one.Add(in.VolatilityBps.Sub(onset).Div(span))
	if factor.GreaterThan(two) {
		factor = two
	}

	bid = in.Mid.Sub(in.Mid.Sub(bid).Mul(factor))
	ask = in.Mid.Add(ask.Sub(in.Mid).Mul(factor))
	return bid, ask
}

// DistanceBps returns |price - mid| / mid in basis points
func DistanceBps(price, mid decimal.Decimal) decimal.Decimal {
	if !mid.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(mid).Abs().Div(mid).Mul(bpsFactor)
}

func roundDownToStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

func roundUpToStep(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}
