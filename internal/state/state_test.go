package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmm/internal/core"
)

func buyFill(price, qty string) *core.FillEvent {
	return &core.FillEvent{
		OrderID:   "o1",
		Symbol:    "BTC-USD",
		Side:      core.SideBuy,
		Price:     dec(price),
		Qty:       dec(qty),
		IsMaker:   true,
		Timestamp: time.Now(),
	}
}

func sellFill(price, qty string) *core.FillEvent {
	f := buyFill(price, qty)
	f.Side = core.SideSell
	return f
}

func TestApplyFillUpdatesPosition(t *testing.T) {
	s := NewMMState()

	pos := s.ApplyFill("primary", buyFill("100000", "0.01"))
	assert.True(t, pos.Equal(dec("0.01")))

	pos = s.ApplyFill("primary", sellFill("100010", "0.03"))
	assert.True(t, pos.Equal(dec("-0.02")))
	assert.True(t, s.Position("primary", "BTC-USD").Equal(dec("-0.02")))
}

func TestEntryPriceIsVolumeWeighted(t *testing.T) {
	s := NewMMState()

	s.ApplyFill("primary", buyFill("100000", "0.01"))
	s.ApplyFill("primary", buyFill("100100", "0.01"))

	// (100000*0.01 + 100100*0.01) / 0.02 = 100050
	assert.True(t, s.EntryPrice().Equal(dec("100050")), "got %s", s.EntryPrice())

	// Reducing fills do not move the entry
	s.ApplyFill("primary", sellFill("100200", "0.01"))
	assert.True(t, s.EntryPrice().Equal(dec("100050")))

	// Flat resets it
	s.ApplyFill("primary", sellFill("100200", "0.01"))
	assert.True(t, s.EntryPrice().IsZero())
}

func TestEntryPriceRestartsOnSignFlip(t *testing.T) {
	s := NewMMState()

	s.ApplyFill("primary", buyFill("100000", "0.01"))
	s.ApplyFill("primary", sellFill("99000", "0.03"))

	// Position flipped long 0.01 to short 0.02; entry restarts at the flip price
	assert.True(t, s.EntryPrice().Equal(dec("99000")))
}

func TestFillAccounting(t *testing.T) {
	s := NewMMState()

	f := buyFill("100000", "0.01")
	f.Fee = dec("-0.2") // maker rebate
	s.ApplyFill("primary", f)

	g := sellFill("100000", "0.01")
	g.IsMaker = false
	g.Fee = dec("0.5")
	s.ApplyFill("primary", g)

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Counters.Fills)
	assert.True(t, snap.Counters.MakerVolume.Equal(dec("1000")))
	assert.True(t, snap.Counters.TakerVolume.Equal(dec("1000")))
	assert.True(t, snap.Counters.RebatesReceived.Equal(dec("0.2")))
	assert.True(t, snap.Counters.FeesPaid.Equal(dec("0.5")))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewMMState()
	s.SetOrder(core.SideBuy, &core.OrderInfo{
		ClientOrderID: "c1",
		Side:          core.SideBuy,
		Price:         dec("99921.0"),
		Qty:           dec("0.01"),
		Status:        core.OrderStatusOpen,
	})

	snap := s.Snapshot()
	require.NotNil(t, snap.Bid)

	// Mutating the snapshot must not leak into live state
	snap.Bid.Price = dec("1")
	assert.True(t, s.Order(core.SideBuy).Price.Equal(dec("99921.0")))

	// And clearing the live slot must not affect the snapshot
	s.ClearOrder(core.SideBuy)
	assert.NotNil(t, snap.Bid)
	assert.Nil(t, s.Order(core.SideBuy))
}

func TestLiveOrderCount(t *testing.T) {
	s := NewMMState()
	assert.Equal(t, 0, s.LiveOrderCount())

	s.SetOrder(core.SideBuy, &core.OrderInfo{Status: core.OrderStatusPending})
	s.SetOrder(core.SideSell, &core.OrderInfo{Status: core.OrderStatusFilled})
	assert.Equal(t, 1, s.LiveOrderCount())
}

func TestHardStopTransitions(t *testing.T) {
	s := NewMMState()
	s.SetRunning()

	s.SetPaused(core.PauseHardStop)
	rs, reason := s.RunState()
	assert.Equal(t, core.StatePaused, rs)
	assert.Equal(t, core.PauseHardStop, reason)
	assert.False(t, s.HardStopEnteredAt().IsZero())

	assert.Equal(t, 1, s.BumpResumeConfirm())
	assert.Equal(t, 2, s.BumpResumeConfirm())
	s.ResetResumeConfirm()
	assert.Equal(t, 1, s.BumpResumeConfirm())
}

func TestOperationHistoryIsBounded(t *testing.T) {
	s := NewMMState()
	for i := 0; i < operationHistoryLimit+20; i++ {
		s.RecordOperation(core.OperationRecord{Action: core.OpPlace})
	}
	snap := s.Snapshot()
	assert.Len(t, snap.Operations, operationHistoryLimit)
}

func TestUptimeTierClassification(t *testing.T) {
	tests := []struct {
		name       string
		bothQuoted bool
		worstBps   string
		want       UptimeTier
	}{
		{"boosted", true, "8", TierBoosted},
		{"boosted boundary", true, "10", TierBoosted},
		{"standard", true, "25", TierStandard},
		{"basic", true, "99", TierBasic},
		{"too wide", true, "150", TierOutOfRange},
		{"one-sided", false, "5", TierOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyTier(tt.bothQuoted, decimal.RequireFromString(tt.worstBps))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUptimeAccumulation(t *testing.T) {
	s := NewMMState()
	base := time.Now()

	s.RecordQuoteDistance(base, true, dec("8"))
	s.RecordQuoteDistance(base.Add(10*time.Second), true, dec("25"))
	s.RecordQuoteDistance(base.Add(20*time.Second), true, dec("25"))

	snap := s.Snapshot()
	assert.InDelta(t, 10, snap.Uptime.SecondsPerTier["boosted"], 0.001)
	assert.InDelta(t, 10, snap.Uptime.SecondsPerTier["standard"], 0.001)
	// 10s at weight 1.0 + 10s at weight 0.5 over 20s tracked = 75%
	assert.InDelta(t, 75, snap.Uptime.EffectivePercent, 0.001)
	assert.Equal(t, "standard", snap.Uptime.CurrentTier)
}
