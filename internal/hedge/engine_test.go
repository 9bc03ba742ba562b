package hedge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/exchange/mock"
	"perpmm/internal/state"
	"perpmm/pkg/apperrors"
	"perpmm/pkg/logging"
	"perpmm/pkg/telemetry"
)

type capturingSink struct {
	mu     sync.Mutex
	titles []string
}

func (s *capturingSink) Alert(ctx context.Context, title, message, level string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func newTestEngine(t *testing.T) (*Engine, *mock.Adapter, *state.MMState, *capturingSink) {
	t.Helper()
	require.NoError(t, telemetry.GetGlobalMetrics().InitMetrics(telemetry.GetMeter("test")))

	cfg := config.DefaultConfig()
	cfg.Hedge.Enabled = true
	cfg.Hedge.RetryMax = 1

	adapter := mock.NewAdapter(cfg.App.Symbol)
	st := state.NewMMState()
	sink := &capturingSink{}
	fills := make(chan *core.FillEvent, 8)

	meta := &core.SymbolMeta{
		Symbol:   cfg.App.Symbol,
		TickSize: decimal.RequireFromString("0.1"),
		QtyStep:  decimal.RequireFromString("0.001"),
		MinQty:   decimal.RequireFromString("0.001"),
	}
	e := NewEngine(adapter, cfg.App.Symbol, meta, fills, st,
		func() *config.Config { return cfg }, sink, logging.NewNopLogger())
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, adapter, st, sink
}

func TestHedgeFillPlacesOpposingOrder(t *testing.T) {
	e, adapter, st, _ := newTestEngine(t)

	e.hedgeFill(&core.FillEvent{
		OrderID:   "p-1",
		Symbol:    e.symbol,
		Side:      core.SideBuy,
		Price:     decimal.RequireFromString("100000"),
		Qty:       decimal.RequireFromString("0.01"),
		Timestamp: time.Now(),
	})

	pos, err := adapter.GetPosition(context.Background(), e.symbol)
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.RequireFromString("-0.01")), "got %s", pos)
	assert.True(t, st.Position(VenueHedge, e.symbol).Equal(decimal.RequireFromString("-0.01")))
}

func TestHedgeFailureCountsAndAlerts(t *testing.T) {
	e, adapter, st, sink := newTestEngine(t)
	adapter.FailNext("PlaceOrder", apperrors.ErrInvalidRequest, -1)

	e.hedgeFill(&core.FillEvent{
		OrderID: "p-2",
		Symbol:  e.symbol,
		Side:    core.SideSell,
		Price:   decimal.RequireFromString("100000"),
		Qty:     decimal.RequireFromString("0.01"),
	})

	assert.Equal(t, int64(1), st.Snapshot().Counters.HedgeFailures)
	assert.Equal(t, 1, sink.count())
}

func TestHedgeFillRoundsToQtyStep(t *testing.T) {
	e, adapter, _, _ := newTestEngine(t)

	e.hedgeFill(&core.FillEvent{
		OrderID: "p-3",
		Symbol:  e.symbol,
		Side:    core.SideBuy,
		Price:   decimal.RequireFromString("100000"),
		Qty:     decimal.RequireFromString("0.0107"),
	})

	pos, err := adapter.GetPosition(context.Background(), e.symbol)
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.RequireFromString("-0.010")), "got %s", pos)
}

func TestSweepFlattensNetExposure(t *testing.T) {
	e, adapter, st, _ := newTestEngine(t)

	st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.05"))
	adapter.SetPositionSize(decimal.RequireFromString("-0.02"))

	// Net 0.03 long against a 0.01 limit: sell 0.03 on the hedge account
	e.sweep()

	pos, err := adapter.GetPosition(context.Background(), e.symbol)
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.RequireFromString("-0.05")), "got %s", pos)
	assert.True(t, st.Position(VenueHedge, e.symbol).Equal(decimal.RequireFromString("-0.05")))
}

func TestSweepLeavesSmallImbalanceAlone(t *testing.T) {
	e, adapter, st, _ := newTestEngine(t)

	st.SetPosition(VenuePrimary, e.symbol, decimal.RequireFromString("0.005"))
	adapter.SetPositionSize(decimal.Zero)

	e.sweep()

	pos, err := adapter.GetPosition(context.Background(), e.symbol)
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
}
