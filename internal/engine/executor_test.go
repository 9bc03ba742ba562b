package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/exchange/mock"
	"perpmm/internal/risk"
	"perpmm/internal/state"
	"perpmm/pkg/apperrors"
	"perpmm/pkg/logging"
	"perpmm/pkg/telemetry"
)

func newTestExecutor(t *testing.T, cfg *config.Config) (*Executor, *mock.Adapter) {
	t.Helper()
	require.NoError(t, telemetry.GetGlobalMetrics().InitMetrics(telemetry.GetMeter("test")))

	adapter := mock.NewAdapter(cfg.App.Symbol)
	st := state.NewMMState()
	guard := risk.NewLiquidationGuard(
		cfg.Liquidation.MarginRatioThreshold,
		cfg.Liquidation.LiqDistanceThresholdPct,
		logging.NewNopLogger())

	e := NewExecutor(cfg, adapter, st, guard, nil, nil, logging.NewNopLogger())
	e.meta = &core.SymbolMeta{
		Symbol:   cfg.App.Symbol,
		TickSize: decimal.RequireFromString("0.1"),
		QtyStep:  decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	}
	e.st.SetRunning()
	return e, adapter
}

func bookAt(bestBid, bestAsk string) *core.OrderBookSnapshot {
	return &core.OrderBookSnapshot{
		Symbol: "BTC-USD",
		Bids: []core.BookLevel{
			{Price: decimal.RequireFromString(bestBid), Qty: decimal.RequireFromString("1")},
		},
		Asks: []core.BookLevel{
			{Price: decimal.RequireFromString(bestAsk), Qty: decimal.RequireFromString("1")},
		},
		ReceivedAt: time.Now(),
	}
}

// bookSeenAt stamps the snapshot with a simulated receive time so tests that
// advance the tick clock keep the book fresh
func bookSeenAt(bestBid, bestAsk string, seen time.Time) *core.OrderBookSnapshot {
	ob := bookAt(bestBid, bestAsk)
	ob.ReceivedAt = seen
	return ob
}

func TestTickPlacesQuotesAtConfiguredDistance(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	// Mid 100001.0, distance 8 bps, tick 0.1
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	bid := e.st.Order(core.SideBuy)
	ask := e.st.Order(core.SideSell)
	require.NotNil(t, bid)
	require.NotNil(t, ask)
	assert.Equal(t, "99920.9", bid.Price.String())
	assert.Equal(t, "100081.1", ask.Price.String())
	assert.Equal(t, core.OrderStatusOpen, bid.Status)
	assert.Equal(t, core.OrderStatusOpen, ask.Status)
	assert.NotEmpty(t, bid.OrderID)
	assert.Equal(t, 2, adapter.OpenOrderCount())
}

func TestTickHardStopCancelsAndPauses(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	require.Equal(t, 2, adapter.OpenOrderCount())

	// 0.044 >= hard stop 0.035
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.044"))
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	runState, reason := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
	assert.Equal(t, core.PauseHardStop, reason)
	assert.Equal(t, 0, e.st.LiveOrderCount())
	assert.Equal(t, 0, adapter.OpenOrderCount())
}

func TestHardStopResumeNeedsConsecutiveConfirms(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Position.HardStopCooldownSec = 0
	e, _ := newTestExecutor(t, cfg)

	e.st.SetPaused(core.PauseHardStop)
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.01"))

	for i := 0; i < 2; i++ {
		e.queues.PushDepth(bookAt("100000.9", "100001.1"))
		e.Tick(time.Now())
		runState, _ := e.st.RunState()
		assert.Equal(t, core.StatePaused, runState, "tick %d", i)
	}

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	runState, _ := e.st.RunState()
	assert.Equal(t, core.StateRunning, runState)
}

func TestHardStopConfirmResetOnSpike(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Position.HardStopCooldownSec = 0
	e, _ := newTestExecutor(t, cfg)

	e.st.SetPaused(core.PauseHardStop)
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.01"))

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	// Position jumps back above the resume threshold
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.03"))
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	// Back below: the count restarts from scratch
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.01"))
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	runState, _ := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
}

func TestVolatilitySpikePausesQuoting(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	e.queues.PushDepth(bookAt("99999.9", "100000.1"))
	e.Tick(time.Now())
	require.Equal(t, 2, adapter.OpenOrderCount())

	// Mid jumps 60 quote units, roughly 6 bps over a 5 bps threshold
	e.queues.PushDepth(bookAt("100059.9", "100060.1"))
	e.Tick(time.Now())

	runState, reason := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
	assert.Equal(t, core.PauseVolatilityHigh, reason)
	assert.Equal(t, 0, adapter.OpenOrderCount())
	assert.Equal(t, 0, e.st.LiveOrderCount())
}

func TestDuplicateFillAppliesOnce(t *testing.T) {
	e, _ := newTestExecutor(t, config.DefaultConfig())

	fill := &core.FillEvent{
		OrderID:   "f-1",
		Symbol:    e.symbol,
		Side:      core.SideBuy,
		Price:     decimal.RequireFromString("100000"),
		Qty:       decimal.RequireFromString("0.01"),
		CumFilled: decimal.RequireFromString("0.01"),
		Fee:       decimal.RequireFromString("-0.05"),
		IsMaker:   true,
		Timestamp: time.Now(),
	}
	e.queues.PushFill(fill)
	e.queues.PushFill(fill)

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	snap := e.st.Snapshot()
	assert.Equal(t, int64(1), snap.Counters.Fills)
	assert.True(t, e.st.Position(VenuePrimary, e.symbol).Equal(decimal.RequireFromString("0.01")))

	// Exactly one copy reaches the hedge channel
	var published int
	for {
		select {
		case <-e.Fills():
			published++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, published)
}

func TestUnknownPlaceOutcomeLeavesPendingSlot(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())
	adapter.FailNext("PlaceOrder", context.DeadlineExceeded, -1)

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	bid := e.st.Order(core.SideBuy)
	require.NotNil(t, bid)
	assert.Equal(t, core.OrderStatusPending, bid.Status)
	assert.Empty(t, bid.OrderID)
	assert.Equal(t, int64(0), e.st.Snapshot().Counters.OrdersPlaced)
}

func TestPostOnlyRejectionFreesSlot(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())
	adapter.FailNext("PlaceOrder", apperrors.ErrPostOnlyRejected, -1)

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	assert.Nil(t, e.st.Order(core.SideBuy))
	assert.Nil(t, e.st.Order(core.SideSell))
	assert.Equal(t, int64(2), e.st.Snapshot().Counters.PostOnlyRejects)
}

func TestAccountRejectionPausesEngine(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())
	adapter.FailNext("PlaceOrder", apperrors.ErrInsufficientFunds, -1)

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	runState, reason := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
	assert.Equal(t, core.PauseAdapterUnhealthy, reason)
}

func TestSafeModeBlocksPlacement(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())
	adapter.FailNext("GetOpenOrders", apperrors.ErrTransient, -1)

	for i := 0; i < 4; i++ {
		e.queues.PushDepth(bookAt("100000.9", "100001.1"))
		e.Tick(time.Now())
	}

	assert.Equal(t, 0, adapter.OpenOrderCount())
	assert.Equal(t, int64(0), e.st.Snapshot().Counters.OrdersPlaced)
}

func TestThrottleBlocksImmediateReplace(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	now := time.Now()
	e.queues.PushDepth(bookSeenAt("100000.9", "100001.1", now))
	e.Tick(now)
	require.Equal(t, 2, adapter.OpenOrderCount())

	// Orders vanish without a fill; after the grace the slots clear, but the
	// per-side throttle still blocks a same-instant replacement
	require.NoError(t, adapter.CancelAllOrders(context.Background(), e.symbol))
	e.st.ClearOrder(core.SideBuy)
	e.st.ClearOrder(core.SideSell)

	e.queues.PushDepth(bookSeenAt("100000.9", "100001.1", now.Add(100*time.Millisecond)))
	e.Tick(now.Add(100 * time.Millisecond))
	assert.Equal(t, 0, adapter.OpenOrderCount())

	e.queues.PushDepth(bookSeenAt("100000.9", "100001.1", now.Add(1100*time.Millisecond)))
	e.Tick(now.Add(1100 * time.Millisecond))
	assert.Equal(t, 2, adapter.OpenOrderCount())
}

func TestRebalanceCancelsDriftedOrder(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	now := time.Now()
	e.queues.PushDepth(bookSeenAt("100000.9", "100001.1", now))
	e.Tick(now)
	require.Equal(t, 2, adapter.OpenOrderCount())

	// Mid moves 200 quote units: the old quotes sit ~20 bps off target,
	// past the 12 bps rebalance threshold
	e.queues.PushDepth(bookSeenAt("100200.9", "100201.1", now.Add(6*time.Second)))
	e.Tick(now.Add(6 * time.Second))

	snap := e.st.Snapshot()
	assert.Greater(t, snap.Counters.OrdersCanceled, int64(0))
	require.NotNil(t, snap.Bid)
	assert.Equal(t, "100120.8", snap.Bid.Price.String())
}

func TestRebalanceTriggersAtExactThreshold(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())
	now := time.Now()

	// Mid 100000: target bid 99920 (8 bps). An order resting at 99800 sits
	// 20 bps out, exactly rebalance_distance_bps from the target.
	adapter.SeedOrder(&core.RemoteOrder{
		OrderID:       "seed-1",
		ClientOrderID: "seed-c1",
		Symbol:        e.symbol,
		Side:          core.SideBuy,
		Price:         decimal.RequireFromString("99800"),
		Qty:           decimal.RequireFromString("0.01"),
	})
	e.st.SetOrder(core.SideBuy, &core.OrderInfo{
		OrderID:          "seed-1",
		ClientOrderID:    "seed-c1",
		Side:             core.SideBuy,
		Price:            decimal.RequireFromString("99800"),
		Qty:              decimal.RequireFromString("0.01"),
		Status:           core.OrderStatusOpen,
		PlacedAt:         now,
		LastSeenRemoteAt: now,
	})

	e.queues.PushDepth(bookSeenAt("99999.9", "100000.1", now))
	e.Tick(now)

	snap := e.st.Snapshot()
	assert.Greater(t, snap.Counters.OrdersCanceled, int64(0))
	require.NotNil(t, snap.Bid)
	assert.True(t, snap.Bid.Price.Equal(decimal.RequireFromString("99920")),
		"bid re-placed at %s", snap.Bid.Price)
}

func TestLiquidationGuardForcesFlat(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	require.Equal(t, 2, adapter.OpenOrderCount())

	adapter.SetPositionSize(decimal.RequireFromString("0.02"))
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.02"))

	// Margin ratio 0.9 over the 0.8 threshold
	e.queues.PushPosition(&core.PositionUpdate{
		Venue:       "primary",
		Symbol:      e.symbol,
		Size:        decimal.RequireFromString("0.02"),
		MarginRatio: decimal.RequireFromString("0.9"),
		Timestamp:   time.Now(),
	})
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())

	runState, reason := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
	assert.Equal(t, core.PauseLiquidationGuard, reason)
	assert.Equal(t, 0, adapter.OpenOrderCount())
	assert.Equal(t, 0, e.st.LiveOrderCount())

	pos, err := adapter.GetPosition(context.Background(), e.symbol)
	require.NoError(t, err)
	assert.True(t, pos.IsZero(), "venue position not flattened: %s", pos)
}

func TestStaleCancelEventKeepsPendingSlot(t *testing.T) {
	e, _ := newTestExecutor(t, config.DefaultConfig())

	// Pending slot with no venue ID yet
	e.st.SetOrder(core.SideBuy, &core.OrderInfo{
		ClientOrderID: "new-cid",
		Side:          core.SideBuy,
		Price:         decimal.RequireFromString("99920.9"),
		Qty:           decimal.RequireFromString("0.01"),
		Status:        core.OrderStatusPending,
		PlacedAt:      time.Now(),
	})

	// A late cancel ack for a previous order on the same side
	e.applyOrderUpdate(&core.OrderUpdateEvent{
		OrderID:       "old-1",
		ClientOrderID: "old-cid",
		Symbol:        e.symbol,
		Side:          core.SideBuy,
		Status:        core.OrderStatusCanceledOrUnknown,
	})

	bid := e.st.Order(core.SideBuy)
	require.NotNil(t, bid)
	assert.Equal(t, core.OrderStatusPending, bid.Status)
	assert.Equal(t, "new-cid", bid.ClientOrderID)

	// The matching ack still clears the slot
	e.applyOrderUpdate(&core.OrderUpdateEvent{
		OrderID:       "v-9",
		ClientOrderID: "new-cid",
		Symbol:        e.symbol,
		Side:          core.SideBuy,
		Status:        core.OrderStatusCanceledOrUnknown,
	})
	assert.Nil(t, e.st.Order(core.SideBuy))
}

func TestHardStopHoldsAtResumeBoundary(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Position.HardStopCooldownSec = 0
	e, _ := newTestExecutor(t, cfg)

	e.st.SetPaused(core.PauseHardStop)
	// Exactly at resume_position: not strictly below, so no confirm counts
	e.st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.02"))

	for i := 0; i < 4; i++ {
		e.queues.PushDepth(bookAt("100000.9", "100001.1"))
		e.Tick(time.Now())
	}

	runState, reason := e.st.RunState()
	assert.Equal(t, core.StatePaused, runState)
	assert.Equal(t, core.PauseHardStop, reason)
}

func TestOperatorPauseCancelsQuotes(t *testing.T) {
	e, adapter := newTestExecutor(t, config.DefaultConfig())

	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	require.Equal(t, 2, adapter.OpenOrderCount())

	e.Pause()
	e.queues.PushDepth(bookAt("100000.9", "100001.1"))
	e.Tick(time.Now())
	assert.Equal(t, 0, adapter.OpenOrderCount())

	require.NoError(t, e.Resume())
	runState, _ := e.st.RunState()
	assert.Equal(t, core.StateRunning, runState)
}

func TestResumeRefusesRiskPauses(t *testing.T) {
	e, _ := newTestExecutor(t, config.DefaultConfig())
	e.st.SetPaused(core.PauseHardStop)
	assert.Error(t, e.Resume())
}

func TestUpdateConfigSwapsSnapshot(t *testing.T) {
	e, _ := newTestExecutor(t, config.DefaultConfig())

	dist := 15.0
	next, err := e.UpdateConfig(&config.Patch{OrderDistanceBps: &dist})
	require.NoError(t, err)
	assert.Equal(t, 15.0, next.Quote.OrderDistanceBps)
	assert.Equal(t, 15.0, e.Config().Quote.OrderDistanceBps)

	bad := -1.0
	_, err = e.UpdateConfig(&config.Patch{OrderDistanceBps: &bad})
	assert.Error(t, err)
	assert.Equal(t, 15.0, e.Config().Quote.OrderDistanceBps)
}
