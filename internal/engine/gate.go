package engine

import (
	"context"
	"fmt"
	"time"

	"perpmm/internal/core"
	"perpmm/internal/state"
	"perpmm/pkg/apperrors"
)

// GateResult reports the outcome of one reconciliation pass
type GateResult struct {
	SafeMode  bool
	RemoteBid bool // a remote bid survives after cleanup
	RemoteAsk bool // a remote ask survives after cleanup
}

// ReconcileGate resolves local/remote open-order disagreement once per tick,
// before any placement. REST is authoritative: a local order missing from
// the remote view (beyond a grace window) is cleared, a remote order with no
// local owner is canceled, and duplicates on a side are trimmed to the one
// the local slot knows about.
type ReconcileGate struct {
	adapter core.IExchangeAdapter
	st      *state.MMState
	logger  core.ILogger

	consecutiveFailures int
	safeModeThreshold   int
	disappearGrace      time.Duration
}

// NewReconcileGate creates a gate
func NewReconcileGate(adapter core.IExchangeAdapter, st *state.MMState, safeModeThreshold int, disappearGrace time.Duration, logger core.ILogger) *ReconcileGate {
	return &ReconcileGate{
		adapter:           adapter,
		st:                st,
		logger:            logger.WithField("component", "reconcile_gate"),
		safeModeThreshold: safeModeThreshold,
		disappearGrace:    disappearGrace,
	}
}

// SetParams updates the gate thresholds at a tick boundary
func (g *ReconcileGate) SetParams(safeModeThreshold int, disappearGrace time.Duration) {
	g.safeModeThreshold = safeModeThreshold
	g.disappearGrace = disappearGrace
}

// ConsecutiveFailures returns the current REST failure streak
func (g *ReconcileGate) ConsecutiveFailures() int {
	return g.consecutiveFailures
}

// Reconcile runs one pass. Called only from the executor tick.
func (g *ReconcileGate) Reconcile(ctx context.Context, symbol string, now time.Time) GateResult {
	remote, err := g.adapter.GetOpenOrders(ctx, symbol)
	if err != nil {
		g.consecutiveFailures++
		safe := g.consecutiveFailures >= g.safeModeThreshold
		g.logger.Warn("Open-orders query failed",
			"error", err,
			"consecutive_failures", g.consecutiveFailures,
			"safe_mode", safe)
		// In Safe Mode: no placements, existing orders left alone. Streams
		// are still honoured by the drain step.
		return GateResult{SafeMode: safe, RemoteBid: true, RemoteAsk: true}
	}
	g.consecutiveFailures = 0

	var bids, asks []*core.RemoteOrder
	for _, o := range remote {
		if o.Side == core.SideBuy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}

	res := GateResult{}
	res.RemoteBid = g.reconcileSide(ctx, symbol, core.SideBuy, bids, now)
	res.RemoteAsk = g.reconcileSide(ctx, symbol, core.SideSell, asks, now)
	return res
}

// reconcileSide applies the per-side rules and reports whether a remote
// order survives on the side.
func (g *ReconcileGate) reconcileSide(ctx context.Context, symbol string, side core.Side, remote []*core.RemoteOrder, now time.Time) bool {
	local := g.st.Order(side)
	localLive := local != nil && local.Status.IsLive()

	if len(remote) == 0 {
		if localLive {
			g.handleDisappeared(side, local, now)
		}
		return false
	}

	if !localLive {
		// Orphans from a restart or an out-of-band placement: cancel, never adopt
		for _, o := range remote {
			g.cancelRemote(ctx, symbol, side, o, "orphan")
		}
		return false
	}

	var match *core.RemoteOrder
	for _, o := range remote {
		if g.matchesLocal(local, o) {
			if match == nil || o.CreatedAt.After(match.CreatedAt) {
				match = o
			}
		}
	}

	for _, o := range remote {
		if o != match {
			g.cancelRemote(ctx, symbol, side, o, "duplicate")
		}
	}

	if match == nil {
		// Our order is gone and strangers held the side
		g.handleDisappeared(side, local, now)
		return false
	}

	g.refreshFromRemote(side, local, match, now)
	return true
}

func (g *ReconcileGate) matchesLocal(local *core.OrderInfo, remote *core.RemoteOrder) bool {
	if local.OrderID != "" && local.OrderID == remote.OrderID {
		return true
	}
	return local.ClientOrderID != "" && local.ClientOrderID == remote.ClientOrderID
}

// handleDisappeared clears a local order missing from the remote view once
// the grace window elapses without an explanatory fill. Fills clear the slot
// through the drain path, so anything still here after the grace is gone.
func (g *ReconcileGate) handleDisappeared(side core.Side, local *core.OrderInfo, now time.Time) {
	updated := local.Clone()
	if updated.DisappearedSince.IsZero() {
		updated.DisappearedSince = now
		g.st.SetOrder(side, updated)
		return
	}
	if now.Sub(updated.DisappearedSince) >= g.disappearGrace {
		g.logger.Warn("Local order vanished from venue, clearing",
			"side", side,
			"order_id", updated.OrderID,
			"client_order_id", updated.ClientOrderID)
		updated.Status = core.OrderStatusCanceledOrUnknown
		g.st.ClearOrder(side)
	} else {
		g.st.SetOrder(side, updated)
	}
}

// refreshFromRemote promotes Pending to Open and syncs the authoritative
// remote fields into the local slot
func (g *ReconcileGate) refreshFromRemote(side core.Side, local *core.OrderInfo, remote *core.RemoteOrder, now time.Time) {
	updated := local.Clone()
	updated.LastSeenRemoteAt = now
	updated.DisappearedSince = time.Time{}
	if updated.OrderID == "" {
		updated.OrderID = remote.OrderID
	}
	if updated.Status == core.OrderStatusPending {
		updated.Status = core.OrderStatusOpen
	}
	if remote.CumFilled.GreaterThan(updated.CumFilled) {
		updated.CumFilled = remote.CumFilled
		if updated.CumFilled.IsPositive() && updated.Status == core.OrderStatusOpen {
			updated.Status = core.OrderStatusPartiallyFilled
		}
	}
	g.st.SetOrder(side, updated)
}

func (g *ReconcileGate) cancelRemote(ctx context.Context, symbol string, side core.Side, o *core.RemoteOrder, why string) {
	err := g.adapter.CancelOrder(ctx, symbol, o.OrderID, o.ClientOrderID)
	if err != nil && apperrors.Classify(err) != apperrors.CategoryOrderNotFound {
		g.logger.Error("Failed to cancel remote order",
			"side", side,
			"order_id", o.OrderID,
			"reason", why,
			"error", fmt.Errorf("cancel: %w", err))
		return
	}
	g.logger.Info("Canceled remote order", "side", side, "order_id", o.OrderID, "reason", why)
}
