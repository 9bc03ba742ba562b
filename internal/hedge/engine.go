// Package hedge keeps net exposure near zero on a secondary account
package hedge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/state"
	"perpmm/pkg/apperrors"
	"perpmm/pkg/retry"
	"perpmm/pkg/telemetry"
)

// VenuePrimary and VenueHedge name the two accounts in the position map
const (
	VenuePrimary = "primary"
	VenueHedge   = "hedge"
)

// Engine consumes the executor's fill channel and mirrors each primary fill
// with an opposing order on the hedge account. It also runs a periodic sweep
// that corrects residual net exposure. Hedge failures alert and count; they
// never touch the quoting loop.
type Engine struct {
	adapter core.IExchangeAdapter
	symbol  string
	meta    *core.SymbolMeta

	fills <-chan *core.FillEvent
	st    *state.MMState
	cfgFn func() *config.Config

	logger  core.ILogger
	alerts  core.IAlertSink
	metrics *telemetry.MetricsHolder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a hedge engine. cfgFn returns the current config
// snapshot; it is re-read for every fill and sweep so runtime toggles apply
// without restarting the engine.
func NewEngine(
	adapter core.IExchangeAdapter,
	symbol string,
	meta *core.SymbolMeta,
	fills <-chan *core.FillEvent,
	st *state.MMState,
	cfgFn func() *config.Config,
	alerts core.IAlertSink,
	logger core.ILogger,
) *Engine {
	return &Engine{
		adapter: adapter,
		symbol:  symbol,
		meta:    meta,
		fills:   fills,
		st:      st,
		cfgFn:   cfgFn,
		alerts:  alerts,
		logger:  logger.WithField("component", "hedge_engine"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// Start launches the fill consumer and the sweep loop
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	e.logger.Info("Hedge engine started", "symbol", e.symbol)
	return nil
}

// Stop halts the engine and waits for in-flight work
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()

	cfg := e.cfgFn()
	sweepEvery := time.Duration(cfg.Hedge.SweepIntervalSec) * time.Second
	if sweepEvery <= 0 {
		sweepEvery = 30 * time.Second
	}
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case fill, ok := <-e.fills:
			if !ok {
				return
			}
			if e.cfgFn().Hedge.Enabled {
				e.hedgeFill(fill)
			}
		case <-ticker.C:
			if e.cfgFn().Hedge.Enabled {
				e.sweep()
			}
		}
	}
}

// hedgeFill submits an opposing IOC order for the fill quantity, retrying
// transient failures with backoff up to retry_max attempts
func (e *Engine) hedgeFill(fill *core.FillEvent) {
	cfg := e.cfgFn()

	qty := fill.Qty
	if e.meta != nil && e.meta.QtyStep.IsPositive() {
		qty = qty.Div(e.meta.QtyStep).Floor().Mul(e.meta.QtyStep)
	}
	if !qty.IsPositive() {
		return
	}

	req := &core.PlaceOrderRequest{
		Symbol:        e.symbol,
		Side:          fill.Side.Opposite(),
		Type:          "MARKET",
		Qty:           qty,
		ClientOrderID: "hedge-" + uuid.New().String(),
	}

	policy := retry.RetryPolicy{
		MaxAttempts:    cfg.Hedge.RetryMax,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	timeout := time.Duration(cfg.Hedge.TimeoutMs) * time.Millisecond

	err := retry.Do(e.ctx, policy, apperrors.IsTransient, func() error {
		ctx, cancel := context.WithTimeout(e.ctx, timeout)
		defer cancel()
		_, placeErr := e.adapter.PlaceOrder(ctx, req)
		return placeErr
	})
	if err != nil {
		e.recordFailure(fmt.Errorf("hedge fill %s %s: %w", req.Side, qty, err))
		return
	}

	e.logger.Info("Hedged fill",
		"side", req.Side,
		"qty", qty.String(),
		"primary_order_id", fill.OrderID)
	e.st.RecordOperation(core.OperationRecord{
		Timestamp: time.Now(),
		Action:    core.OpHedge,
		Side:      req.Side,
		Price:     fill.Price,
		Reason:    "fill",
	})
	e.refreshHedgePosition()
}

// sweep compares net exposure across both accounts and places a reducing
// order on the hedge account when it exceeds max_unhedged
func (e *Engine) sweep() {
	cfg := e.cfgFn()

	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	hedgePos, err := e.adapter.GetPosition(ctx, e.symbol)
	cancel()
	if err != nil {
		e.logger.Warn("Sweep position query failed", "error", err)
		return
	}
	e.st.SetPosition(VenueHedge, e.symbol, hedgePos)

	primaryPos := e.st.Position(VenuePrimary, e.symbol)
	net := primaryPos.Add(hedgePos)
	e.metrics.SetNetExposure(e.symbol, netFloat(net))

	maxUnhedged := decimal.NewFromFloat(cfg.Hedge.MaxUnhedged)
	if net.Abs().LessThanOrEqual(maxUnhedged) {
		return
	}

	side := core.SideSell
	if net.IsNegative() {
		side = core.SideBuy
	}
	qty := net.Abs()
	if e.meta != nil && e.meta.QtyStep.IsPositive() {
		qty = qty.Div(e.meta.QtyStep).Floor().Mul(e.meta.QtyStep)
	}
	if !qty.IsPositive() {
		return
	}

	e.logger.Warn("Net exposure above limit, sweeping",
		"net", net.String(),
		"max_unhedged", maxUnhedged.String(),
		"side", side,
		"qty", qty.String())

	ctx, cancel = context.WithTimeout(e.ctx, time.Duration(cfg.Hedge.TimeoutMs)*time.Millisecond)
	defer cancel()
	_, err = e.adapter.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Type:          "MARKET",
		Qty:           qty,
		ReduceOnly:    true,
		ClientOrderID: "sweep-" + uuid.New().String(),
	})
	if err != nil {
		e.recordFailure(fmt.Errorf("sweep %s %s: %w", side, qty, err))
		return
	}

	e.st.RecordOperation(core.OperationRecord{
		Timestamp: time.Now(),
		Action:    core.OpHedge,
		Side:      side,
		Reason:    "sweep",
	})
	e.refreshHedgePosition()
}

func (e *Engine) recordFailure(err error) {
	e.st.IncHedgeFailures()
	e.metrics.HedgeFailuresTotal.Add(e.ctx, 1)
	e.logger.Error("Hedge submission failed", "error", err)
	if e.alerts != nil {
		e.alerts.Alert(e.ctx, "Hedge failure", err.Error(), "ERROR", map[string]string{
			"symbol": e.symbol,
		})
	}
}

func (e *Engine) refreshHedgePosition() {
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	defer cancel()
	pos, err := e.adapter.GetPosition(ctx, e.symbol)
	if err != nil {
		return
	}
	e.st.SetPosition(VenueHedge, e.symbol, pos)
}

func netFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
