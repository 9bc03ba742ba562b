// Package engine drives the quoting loop
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/quote"
	"perpmm/internal/risk"
	"perpmm/internal/state"
	"perpmm/pkg/apperrors"
	"perpmm/pkg/telemetry"
)

// VenuePrimary keys the quoting account in the position map
const VenuePrimary = "primary"

// Executor owns the tick loop: it drains stream queues, enforces the risk
// controls, reconciles against REST, and maintains one resting order per
// side. All state mutation happens on the tick goroutine; control methods
// only flip flags or swap the config snapshot.
type Executor struct {
	cfg    atomic.Pointer[config.Config]
	symbol string
	meta   *core.SymbolMeta

	primary core.IExchangeAdapter

	st       *state.MMState
	dedup    *state.EventDeduplicator
	throttle *state.OrderThrottle
	vol      *state.VolatilityTracker
	calc     *quote.Calculator
	gate     *ReconcileGate
	guard    *risk.LiquidationGuard
	queues   *StreamQueues

	// fillOut republishes deduplicated primary fills for the hedge engine.
	// Sends never block the tick.
	fillOut chan *core.FillEvent

	limiter *rate.Limiter

	logger  core.ILogger
	alerts  core.IAlertSink
	audit   core.ITradeLog
	metrics *telemetry.MetricsHolder
	tracer  trace.Tracer

	lastBook *core.OrderBookSnapshot

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewExecutor wires the executor from its collaborators. The audit log and
// alert sink may be nil.
func NewExecutor(
	cfg *config.Config,
	primary core.IExchangeAdapter,
	st *state.MMState,
	guard *risk.LiquidationGuard,
	alerts core.IAlertSink,
	audit core.ITradeLog,
	logger core.ILogger,
) *Executor {
	e := &Executor{
		symbol:   cfg.App.Symbol,
		primary:  primary,
		st:       st,
		guard:    guard,
		queues:   NewStreamQueues(),
		fillOut:  make(chan *core.FillEvent, fillQueueCap),
		calc:     quote.NewCalculator(),
		alerts:   alerts,
		audit:    audit,
		logger:   logger.WithField("component", "executor"),
		metrics:  telemetry.GetGlobalMetrics(),
		tracer:   telemetry.GetTracer("executor"),
		dedup:    state.NewEventDeduplicator(secDuration(cfg.Execution.EventDedupTTLSec)),
		throttle: state.NewOrderThrottle(secDuration(cfg.Execution.OrderThrottleSec)),
		vol: state.NewVolatilityTracker(
			secDuration(cfg.Volatility.WindowSec),
			cfg.Volatility.PauseThresholdBps,
			cfg.Volatility.ResumeThresholdBps,
			secDuration(cfg.Volatility.StableSeconds)),
		limiter: rate.NewLimiter(rate.Limit(cfg.Execution.RateLimitPerSec), cfg.Execution.RateLimitBurst),
	}
	e.cfg.Store(cfg.Clone())
	e.gate = NewReconcileGate(primary, st, cfg.Execution.SafeModeThreshold,
		secDuration(cfg.Execution.DisappearGraceSec), logger)
	return e
}

// Config returns the current config snapshot. Safe from any goroutine.
func (e *Executor) Config() *config.Config {
	return e.cfg.Load()
}

// Fills exposes the deduplicated primary fill stream for the hedge engine
func (e *Executor) Fills() <-chan *core.FillEvent {
	return e.fillOut
}

// Snapshot returns a copy-on-read view of the full engine state
func (e *Executor) Snapshot() *state.Snapshot {
	return e.st.Snapshot()
}

// Start fetches symbol metadata, clears stale venue state, subscribes the
// streams, and launches the tick loop in RUNNING state.
func (e *Executor) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	cfg := e.cfg.Load()

	callCtx, cancel := e.callContext()
	meta, err := e.primary.GetSymbolMeta(callCtx, e.symbol)
	cancel()
	if err != nil {
		e.running.Store(false)
		return fmt.Errorf("fetch symbol meta: %w", err)
	}
	e.meta = meta

	// A previous session may have left orders on the book
	callCtx, cancel = e.callContext()
	if err := e.primary.CancelAllOrders(callCtx, e.symbol); err != nil {
		e.logger.Warn("Startup cancel-all failed", "error", err)
	}
	cancel()

	callCtx, cancel = e.callContext()
	pos, err := e.primary.GetPosition(callCtx, e.symbol)
	cancel()
	if err != nil {
		e.running.Store(false)
		return fmt.Errorf("fetch position: %w", err)
	}
	e.st.SetPosition(VenuePrimary, e.symbol, pos)
	e.logger.Info("Session start position", "position", pos.String())

	if err := e.startStreams(); err != nil {
		e.running.Store(false)
		return err
	}

	e.st.SetRunning()
	e.wg.Add(1)
	go e.run(time.Duration(cfg.Execution.TickIntervalMs) * time.Millisecond)

	e.logger.Info("Executor started",
		"symbol", e.symbol,
		"tick_size", meta.TickSize.String(),
		"strategy_mode", cfg.Quote.StrategyMode)
	return nil
}

// Stop cancels both resting orders, stops the streams, and halts the loop
func (e *Executor) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()

	// Best effort cleanup with a fresh context; e.ctx is already canceled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.primary.CancelAllOrders(ctx, e.symbol); err != nil {
		e.logger.Warn("Shutdown cancel-all failed", "error", err)
	}
	if err := e.primary.StopStreams(); err != nil {
		e.logger.Warn("Stream shutdown failed", "error", err)
	}
	e.st.ClearOrder(core.SideBuy)
	e.st.ClearOrder(core.SideSell)
	e.st.SetStopped()
	close(e.fillOut)
	e.logger.Info("Executor stopped")
}

// Pause suspends quoting on operator request. Both resting orders are
// canceled on the next tick.
func (e *Executor) Pause() {
	e.st.SetPaused(core.PauseOperatorStop)
	e.logger.Warn("Paused by operator")
}

// Resume returns to RUNNING from an operator pause. Risk pauses (hard stop,
// liquidation guard) cannot be bypassed here; they clear through their own
// conditions.
func (e *Executor) Resume() error {
	st, reason := e.st.RunState()
	if st != core.StatePaused {
		return fmt.Errorf("not paused")
	}
	if reason != core.PauseOperatorStop && reason != core.PauseAdapterUnhealthy {
		return fmt.Errorf("paused for %s, cannot resume by operator", reason)
	}
	e.st.SetRunning()
	e.logger.Info("Resumed by operator")
	return nil
}

// UpdateConfig applies a runtime patch. The new snapshot takes effect at the
// next tick boundary.
func (e *Executor) UpdateConfig(p *config.Patch) (*config.Config, error) {
	next, err := p.Apply(e.cfg.Load())
	if err != nil {
		return nil, err
	}
	e.cfg.Store(next)
	e.throttle.SetInterval(secDuration(next.Execution.OrderThrottleSec))
	e.vol.SetThresholds(next.Volatility.PauseThresholdBps, next.Volatility.ResumeThresholdBps)
	e.gate.SetParams(next.Execution.SafeModeThreshold, secDuration(next.Execution.DisappearGraceSec))
	e.logger.Info("Config updated")
	return next, nil
}

// ClearLiquidationGuard re-arms the guard on operator request
func (e *Executor) ClearLiquidationGuard() {
	e.guard.Clear()
	st, reason := e.st.RunState()
	if st == core.StatePaused && reason == core.PauseLiquidationGuard {
		e.st.SetPaused(core.PauseOperatorStop)
	}
}

// CloseAll cancels everything and flattens the primary position at market.
// Quoting is left paused for the operator to resume.
func (e *Executor) CloseAll(ctx context.Context) error {
	e.st.SetPaused(core.PauseOperatorStop)
	if err := e.primary.CancelAllOrders(ctx, e.symbol); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	e.st.ClearOrder(core.SideBuy)
	e.st.ClearOrder(core.SideSell)
	if err := e.primary.MarketCloseAll(ctx, e.symbol); err != nil {
		return fmt.Errorf("market close: %w", err)
	}
	e.logger.Warn("Position flattened by operator")
	return nil
}

func (e *Executor) startStreams() error {
	if err := e.primary.StartDepthStream(e.ctx, e.symbol, e.queues.PushDepth); err != nil {
		return fmt.Errorf("depth stream: %w", err)
	}
	if err := e.primary.StartOrderStream(e.ctx, e.queues.PushOrder); err != nil {
		return fmt.Errorf("order stream: %w", err)
	}
	if err := e.primary.StartFillStream(e.ctx, e.queues.PushFill); err != nil {
		return fmt.Errorf("fill stream: %w", err)
	}
	if err := e.primary.StartPositionStream(e.ctx, e.queues.PushPosition); err != nil {
		return fmt.Errorf("position stream: %w", err)
	}
	return nil
}

func (e *Executor) run(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Tick(time.Now())
		}
	}
}

// Tick runs one full pass. Exported for tests; production calls come only
// from the loop goroutine.
func (e *Executor) Tick(now time.Time) {
	ctx, span := e.tracer.Start(e.baseContext(), "executor.tick")
	start := time.Now()
	defer func() {
		e.metrics.TickDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	cfg := e.cfg.Load()

	e.drainStreams(ctx, now)

	book := e.currentBook(ctx, cfg, now)
	if book != nil && book.Valid() {
		e.vol.Update(now, book.Mid())
		e.metrics.SetVolatilityBps(e.symbol, decToFloat(e.vol.CurrentBps()))
	}

	pos := e.st.Position(VenuePrimary, e.symbol)
	e.metrics.SetPositionSize(e.symbol, decToFloat(pos))

	e.checkHardStop(ctx, cfg, pos, now)
	e.checkLiquidationGuard(ctx, now)
	e.checkVolatility(ctx, cfg, now)

	runState, _ := e.st.RunState()
	e.metrics.SetEnginePaused(e.symbol, runState != core.StateRunning)

	if runState != core.StateRunning {
		// While paused or stopped nothing rests on the book
		e.cancelSide(ctx, core.SideBuy, "not running")
		e.cancelSide(ctx, core.SideSell, "not running")
		e.recordUptime(now, nil)
		e.st.MarkTick(now)
		return
	}

	if book == nil || !book.Valid() {
		e.logger.Warn("No usable order book, skipping quote pass")
		e.recordUptime(now, nil)
		e.st.MarkTick(now)
		return
	}

	target := e.calc.Compute(quote.Inputs{
		Mid:           book.Mid(),
		BestBid:       book.BestBid(),
		BestAsk:       book.BestAsk(),
		Position:      pos,
		EntryPrice:    e.st.EntryPrice(),
		VolatilityBps: e.vol.CurrentBps(),
		Meta:          e.meta,
		Cfg:           cfg,
	})

	e.checkCancels(ctx, cfg, book, target)

	gate := e.gate.Reconcile(ctx, e.symbol, now)
	if gate.SafeMode {
		e.recordUptime(now, book)
		e.st.MarkTick(now)
		return
	}

	if target.AllowBid && !gate.RemoteBid {
		e.maybePlace(ctx, core.SideBuy, target.BidPrice, target.BidQty, book, now)
	}
	if target.AllowAsk && !gate.RemoteAsk {
		e.maybePlace(ctx, core.SideSell, target.AskPrice, target.AskQty, book, now)
	}

	e.metrics.SetActiveOrders(e.symbol, int64(e.st.LiveOrderCount()))
	e.recordUptime(now, book)
	e.st.MarkTick(now)
}

// drainStreams applies all queued private events before any decision
func (e *Executor) drainStreams(ctx context.Context, now time.Time) {
	for _, ev := range e.queues.DrainOrders() {
		e.applyOrderUpdate(ev)
	}
	for _, fill := range e.queues.DrainFills() {
		e.applyFill(ctx, fill, now)
	}
	for _, p := range e.queues.DrainPositions() {
		e.st.SetPosition(VenuePrimary, p.Symbol, p.Size)
		if e.guard.Observe(p) {
			e.latchLiquidationGuard(ctx, now)
		}
	}
}

func (e *Executor) applyOrderUpdate(ev *core.OrderUpdateEvent) {
	local := e.st.Order(ev.Side)
	if local == nil {
		return
	}
	// A client-ID mismatch always means a different order, even while the
	// slot is still Pending with no venue ID; a stale event for a prior
	// order must not touch the fresh slot
	if ev.ClientOrderID != "" && local.ClientOrderID != ev.ClientOrderID {
		return
	}
	if ev.ClientOrderID == "" && local.OrderID != "" && local.OrderID != ev.OrderID {
		return
	}

	updated := local.Clone()
	if updated.OrderID == "" && ev.OrderID != "" {
		updated.OrderID = ev.OrderID
	}
	if ev.CumFilled.GreaterThan(updated.CumFilled) {
		updated.CumFilled = ev.CumFilled
	}
	switch ev.Status {
	case core.OrderStatusFilled, core.OrderStatusCanceledOrUnknown:
		e.st.ClearOrder(ev.Side)
		return
	case core.OrderStatusOpen, core.OrderStatusPartiallyFilled:
		if updated.Status == core.OrderStatusPending || ev.Status == core.OrderStatusPartiallyFilled {
			updated.Status = ev.Status
		}
	}
	e.st.SetOrder(ev.Side, updated)
}

// applyFill deduplicates, applies to state, updates the tracked order slot,
// and republishes for the hedge engine
func (e *Executor) applyFill(ctx context.Context, fill *core.FillEvent, now time.Time) {
	if e.dedup.IsDuplicate(fill.OrderID, fill.CumFilled, now) {
		e.logger.Debug("Duplicate fill suppressed",
			"order_id", fill.OrderID,
			"cum_filled", fill.CumFilled.String())
		return
	}

	newPos := e.st.ApplyFill(VenuePrimary, fill)
	e.metrics.FillsTotal.Add(ctx, 1)
	e.metrics.MakerVolumeTotal.Add(ctx, decToFloat(fill.Price.Mul(fill.Qty)))
	if fill.IsMaker && fill.Fee.IsNegative() {
		e.metrics.RebatesTotal.Add(ctx, decToFloat(fill.Fee.Neg()))
	}

	e.logger.Info("Fill",
		"side", fill.Side,
		"price", fill.Price.String(),
		"qty", fill.Qty.String(),
		"position", newPos.String())

	e.st.RecordOperation(core.OperationRecord{
		Timestamp: fill.Timestamp,
		Action:    core.OpFill,
		Side:      fill.Side,
		Price:     fill.Price,
	})
	if e.audit != nil {
		if err := e.audit.RecordFill(ctx, fill); err != nil {
			e.logger.Warn("Audit write failed", "error", err)
		}
	}

	// Update the order slot: full fill frees the side
	if local := e.st.Order(fill.Side); local != nil && local.OrderID == fill.OrderID {
		updated := local.Clone()
		if fill.CumFilled.GreaterThan(updated.CumFilled) {
			updated.CumFilled = fill.CumFilled
		}
		if updated.CumFilled.GreaterThanOrEqual(updated.Qty) {
			e.st.ClearOrder(fill.Side)
		} else {
			updated.Status = core.OrderStatusPartiallyFilled
			e.st.SetOrder(fill.Side, updated)
		}
	}

	select {
	case e.fillOut <- fill:
	default:
		e.logger.Warn("Hedge fill channel full, dropping", "order_id", fill.OrderID)
	}
}

// currentBook returns the freshest snapshot: the stream cache when recent
// enough, otherwise a REST fetch
func (e *Executor) currentBook(ctx context.Context, cfg *config.Config, now time.Time) *core.OrderBookSnapshot {
	if ob := e.queues.PopDepth(); ob != nil {
		e.lastBook = ob
	}
	stale := time.Duration(cfg.Execution.BookStaleMs) * time.Millisecond
	if e.lastBook != nil && now.Sub(e.lastBook.ReceivedAt) <= stale {
		return e.lastBook
	}

	callCtx, cancel := e.callContext()
	defer cancel()
	ob, err := e.primary.GetOrderBook(callCtx, e.symbol, cfg.Execution.BookDepth)
	if err != nil {
		e.logger.Warn("Order book fetch failed", "error", err)
		return nil
	}
	e.lastBook = ob
	return ob
}

// checkHardStop handles both directions: entering the hard stop when the
// position breaches the limit, and the cooldown-plus-confirmation resume.
func (e *Executor) checkHardStop(ctx context.Context, cfg *config.Config, pos decimal.Decimal, now time.Time) {
	hardStop := decimal.NewFromFloat(cfg.Position.HardStopPosition)
	resume := decimal.NewFromFloat(cfg.Position.ResumePosition)
	runState, reason := e.st.RunState()

	if runState == core.StatePaused && reason == core.PauseHardStop {
		cooldown := time.Duration(cfg.Position.HardStopCooldownSec) * time.Second
		if pos.Abs().LessThan(resume) && now.Sub(e.st.HardStopEnteredAt()) >= cooldown {
			if e.st.BumpResumeConfirm() >= cfg.Position.ResumeConfirmCount {
				e.st.SetRunning()
				e.st.RecordOperation(core.OperationRecord{Timestamp: now, Action: core.OpResume, Reason: "hard_stop_recovered"})
				e.logger.Info("Hard stop cleared, resuming", "position", pos.String())
			}
		} else {
			e.st.ResetResumeConfirm()
		}
		return
	}

	if runState == core.StateRunning && pos.Abs().GreaterThanOrEqual(hardStop) {
		e.st.SetPaused(core.PauseHardStop)
		e.st.RecordOperation(core.OperationRecord{Timestamp: now, Action: core.OpPause, Reason: "hard_stop"})
		e.logger.Error("Hard stop: position breached limit",
			"position", pos.String(),
			"hard_stop", hardStop.String())
		e.alert(ctx, "Hard stop", fmt.Sprintf("position %s breached limit %s", pos, hardStop), "ERROR")
	}
}

func (e *Executor) checkLiquidationGuard(ctx context.Context, now time.Time) {
	runState, reason := e.st.RunState()
	if e.guard.Breached() && !(runState == core.StatePaused && reason == core.PauseLiquidationGuard) {
		if runState == core.StateRunning {
			e.latchLiquidationGuard(ctx, now)
		}
	}
}

// latchLiquidationGuard pauses quoting, pulls both orders, and force-flattens
// the primary position at market. The pause clears only through the operator
// guard-clear endpoint.
func (e *Executor) latchLiquidationGuard(ctx context.Context, now time.Time) {
	e.st.SetPaused(core.PauseLiquidationGuard)
	e.st.RecordOperation(core.OperationRecord{Timestamp: now, Action: core.OpPause, Reason: "liquidation_guard"})
	e.logger.Error("Liquidation guard latched", "reason", e.guard.Reason())
	e.alert(ctx, "Liquidation guard", e.guard.Reason(), "ERROR")

	callCtx, cancel := e.callContext()
	if err := e.primary.CancelAllOrders(callCtx, e.symbol); err != nil {
		e.logger.Error("Guard cancel-all failed", "error", err)
	}
	cancel()
	e.st.ClearOrder(core.SideBuy)
	e.st.ClearOrder(core.SideSell)

	callCtx, cancel = e.callContext()
	defer cancel()
	if err := e.primary.MarketCloseAll(callCtx, e.symbol); err != nil {
		e.logger.Error("Guard forced flatten failed", "error", err)
		e.alert(ctx, "Liquidation guard", "forced market close failed: "+err.Error(), "ERROR")
	}
}

func (e *Executor) checkVolatility(ctx context.Context, cfg *config.Config, now time.Time) {
	runState, reason := e.st.RunState()

	if runState == core.StateRunning && e.vol.ShouldPause() {
		e.st.SetPaused(core.PauseVolatilityHigh)
		e.st.RecordOperation(core.OperationRecord{Timestamp: now, Action: core.OpPause, Reason: "volatility"})
		e.logger.Warn("Volatility pause",
			"volatility_bps", e.vol.CurrentBps().StringFixed(2),
			"threshold_bps", cfg.Volatility.PauseThresholdBps)
		e.alert(ctx, "Volatility pause",
			fmt.Sprintf("range %s bps over threshold %.1f", e.vol.CurrentBps().StringFixed(2), cfg.Volatility.PauseThresholdBps), "WARN")
		return
	}

	if runState == core.StatePaused && reason == core.PauseVolatilityHigh && e.vol.ShouldResume(now) {
		e.st.SetRunning()
		e.st.RecordOperation(core.OperationRecord{Timestamp: now, Action: core.OpResume, Reason: "volatility_settled"})
		e.logger.Info("Volatility settled, resuming",
			"volatility_bps", e.vol.CurrentBps().StringFixed(2))
	}
}

// checkCancels evaluates the three cancellation triggers for each live order:
// the quote drifting too close to mid, slipping too deep in the queue, or
// sitting too far from the recomputed target.
func (e *Executor) checkCancels(ctx context.Context, cfg *config.Config, book *core.OrderBookSnapshot, target quote.Quote) {
	mid := book.Mid()
	cancelDist := decimal.NewFromFloat(cfg.Quote.CancelDistanceBps)
	rebalanceDist := decimal.NewFromFloat(cfg.Quote.RebalanceDistanceBps)

	check := func(side core.Side, targetPrice decimal.Decimal) {
		o := e.st.Order(side)
		if o == nil || !o.Status.IsLive() {
			return
		}

		if cancelDist.IsPositive() && quote.DistanceBps(o.Price, mid).LessThan(cancelDist) {
			e.cancelSide(ctx, side, "cancel_distance")
			return
		}

		if cfg.Quote.QueuePositionLimit > 0 && e.levelsAhead(book, side, o.Price) > cfg.Quote.QueuePositionLimit {
			e.cancelSide(ctx, side, "queue_position")
			return
		}

		if rebalanceDist.IsPositive() && quote.DistanceBps(o.Price, mid).Sub(quote.DistanceBps(targetPrice, mid)).Abs().GreaterThanOrEqual(rebalanceDist) {
			e.st.RecordOperation(core.OperationRecord{
				Timestamp: time.Now(),
				Action:    core.OpRebalance,
				Side:      side,
				Price:     o.Price,
				BestBid:   book.BestBid(),
				BestAsk:   book.BestAsk(),
			})
			e.cancelSide(ctx, side, "rebalance_distance")
		}
	}

	check(core.SideBuy, target.BidPrice)
	check(core.SideSell, target.AskPrice)
}

// levelsAhead counts book levels priced strictly better than ours
func (e *Executor) levelsAhead(book *core.OrderBookSnapshot, side core.Side, price decimal.Decimal) int {
	n := 0
	if side == core.SideBuy {
		for _, l := range book.Bids {
			if l.Price.GreaterThan(price) {
				n++
			}
		}
	} else {
		for _, l := range book.Asks {
			if l.Price.LessThan(price) {
				n++
			}
		}
	}
	return n
}

// cancelSide cancels the live order on a side and clears the slot. A venue
// "order not found" means it is already gone and counts as success.
func (e *Executor) cancelSide(ctx context.Context, side core.Side, reason string) {
	o := e.st.Order(side)
	if o == nil || !o.Status.IsLive() {
		return
	}
	if o.OrderID == "" {
		// Still pending ack; reconciliation resolves it
		return
	}

	callCtx, cancel := e.callContext()
	err := e.primary.CancelOrder(callCtx, e.symbol, o.OrderID, o.ClientOrderID)
	cancel()
	if err != nil && apperrors.Classify(err) != apperrors.CategoryOrderNotFound {
		e.logger.Warn("Cancel failed",
			"side", side,
			"order_id", o.OrderID,
			"reason", reason,
			"error", err)
		return
	}

	e.st.ClearOrder(side)
	e.st.IncOrdersCanceled()
	e.metrics.OrdersCanceledTotal.Add(ctx, 1)
	e.st.RecordOperation(core.OperationRecord{
		Timestamp: time.Now(),
		Action:    core.OpCancel,
		Side:      side,
		Price:     o.Price,
		Reason:    reason,
	})
	e.logger.Info("Canceled order", "side", side, "price", o.Price.String(), "reason", reason)
}

// maybePlace submits a post-only limit order on an empty side. The throttle
// is recorded and the Pending slot installed before the request goes out, so
// a timeout cannot double-place.
func (e *Executor) maybePlace(ctx context.Context, side core.Side, price, qty decimal.Decimal, book *core.OrderBookSnapshot, now time.Time) {
	if o := e.st.Order(side); o != nil && o.Status.IsLive() {
		return
	}
	if !e.throttle.TryAcquire(side, now) {
		return
	}
	if !e.limiter.Allow() {
		e.logger.Warn("Rate limit reached, deferring placement", "side", side)
		return
	}

	clientID := uuid.New().String()
	e.st.SetOrder(side, &core.OrderInfo{
		ClientOrderID: clientID,
		Side:          side,
		Price:         price,
		Qty:           qty,
		Status:        core.OrderStatusPending,
		PlacedAt:      now,
	})

	callCtx, cancel := e.callContext()
	callStart := time.Now()
	remote, err := e.primary.PlaceOrder(callCtx, &core.PlaceOrderRequest{
		Symbol:        e.symbol,
		Side:          side,
		Type:          "LIMIT",
		Price:         price,
		Qty:           qty,
		PostOnly:      true,
		ClientOrderID: clientID,
	})
	cancel()
	e.metrics.LatencyExchange.Record(ctx, float64(time.Since(callStart).Milliseconds()))

	if err != nil {
		e.handlePlaceError(ctx, side, price, err)
		return
	}

	o := e.st.Order(side)
	if o == nil || o.ClientOrderID != clientID {
		return
	}
	updated := o.Clone()
	updated.OrderID = remote.OrderID
	if updated.Status == core.OrderStatusPending {
		updated.Status = core.OrderStatusOpen
	}
	updated.LastSeenRemoteAt = time.Now()
	e.st.SetOrder(side, updated)

	e.st.IncOrdersPlaced()
	e.metrics.OrdersPlacedTotal.Add(ctx, 1)
	e.st.RecordOperation(core.OperationRecord{
		Timestamp: now,
		Action:    core.OpPlace,
		Side:      side,
		Price:     price,
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
	})
	e.logger.Info("Placed order",
		"side", side,
		"price", price.String(),
		"qty", qty.String(),
		"order_id", remote.OrderID)
	if e.audit != nil {
		op := &core.OperationRecord{Timestamp: now, Action: core.OpPlace, Side: side, Price: price}
		if auditErr := e.audit.RecordOperation(ctx, op); auditErr != nil {
			e.logger.Warn("Audit write failed", "error", auditErr)
		}
	}
}

// handlePlaceError maps the failure category to slot and run-state changes
func (e *Executor) handlePlaceError(ctx context.Context, side core.Side, price decimal.Decimal, err error) {
	switch apperrors.Classify(err) {
	case apperrors.CategoryUnknown:
		// Outcome unknown: the Pending slot stays and the next
		// reconciliation pass resolves it either way
		e.logger.Warn("Place outcome unknown, awaiting reconciliation",
			"side", side, "price", price.String(), "error", err)
	case apperrors.CategoryPostOnlyRejected:
		e.st.ClearOrder(side)
		e.st.IncPostOnlyRejects()
		e.logger.Info("Post-only rejected", "side", side, "price", price.String())
	case apperrors.CategoryInsufficientFunds, apperrors.CategoryPositionLimit:
		e.st.ClearOrder(side)
		e.st.SetPaused(core.PauseAdapterUnhealthy)
		e.logger.Error("Account rejected placement, pausing", "side", side, "error", err)
		e.alert(ctx, "Account rejection", err.Error(), "ERROR")
	case apperrors.CategoryInvalidRequest:
		e.st.ClearOrder(side)
		e.logger.Error("Invalid order request", "side", side, "price", price.String(), "error", err)
	default:
		// Transient and rate-limited: try again next tick
		e.st.ClearOrder(side)
		e.logger.Warn("Place failed", "side", side, "error", err)
	}
}

// recordUptime feeds the tier tracker with the worse quote distance. With a
// nil book or a missing side the sample counts as out of range.
func (e *Executor) recordUptime(now time.Time, book *core.OrderBookSnapshot) {
	bid := e.st.Order(core.SideBuy)
	ask := e.st.Order(core.SideSell)
	bothQuoted := book != nil && book.Valid() &&
		bid != nil && bid.Status.IsLive() &&
		ask != nil && ask.Status.IsLive()

	worst := decimal.Zero
	if bothQuoted {
		mid := book.Mid()
		worst = decimal.Max(quote.DistanceBps(bid.Price, mid), quote.DistanceBps(ask.Price, mid))
	}
	e.st.RecordQuoteDistance(now, bothQuoted, worst)
	e.metrics.SetUptimeTier(e.symbol, int64(e.st.CurrentUptimeTier()))
}

func (e *Executor) alert(ctx context.Context, title, message, level string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(ctx, title, message, level, map[string]string{"symbol": e.symbol})
}

func (e *Executor) callContext() (context.Context, context.CancelFunc) {
	timeout := time.Duration(e.cfg.Load().Execution.AdapterTimeoutMs) * time.Millisecond
	return context.WithTimeout(e.baseContext(), timeout)
}

func (e *Executor) baseContext() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func secDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
