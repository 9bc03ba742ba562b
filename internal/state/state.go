// Package state holds the authoritative in-process view of the quoting engine
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpmm/internal/core"
)

const (
	operationHistoryLimit = 50
	fillHistoryLimit      = 100
)

// PositionKey identifies a position by venue account and symbol
type PositionKey struct {
	Venue  string
	Symbol string
}

// Counters are the aggregate session counters
type Counters struct {
	OrdersPlaced    int64           `json:"orders_placed"`
	OrdersCanceled  int64           `json:"orders_canceled"`
	Fills           int64           `json:"fills"`
	PostOnlyRejects int64           `json:"post_only_rejects"`
	HedgeFailures   int64           `json:"hedge_failures"`
	MakerVolume     decimal.Decimal `json:"maker_volume"`
	TakerVolume     decimal.Decimal `json:"taker_volume"`
	RebatesReceived decimal.Decimal `json:"rebates_received"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
	HedgeFees       decimal.Decimal `json:"hedge_fees"`
}

// MMState is the authoritative in-process state: per-side order slots, the
// position map, counters, and the run status. The executor tick owns all
// mutations; other goroutines read copy-on-read snapshots.
type MMState struct {
	mu sync.RWMutex

	orders    map[core.Side]*core.OrderInfo
	positions map[PositionKey]decimal.Decimal

	runState    core.RunState
	pauseReason core.PauseReason

	hardStopEnteredAt    time.Time
	resumeConfirmCounter int

	// Volume-weighted entry price of the current primary position. Reset
	// when the position returns to flat or flips sign.
	entryPrice decimal.Decimal
	entryQty   decimal.Decimal

	counters Counters
	uptime   uptimeTracker

	operations []core.OperationRecord
	fills      []core.FillEvent

	lastTickAt time.Time
}

// NewMMState creates a stopped state with empty order slots
func NewMMState() *MMState {
	return &MMState{
		orders:    make(map[core.Side]*core.OrderInfo),
		positions: make(map[PositionKey]decimal.Decimal),
		runState:  core.StateStopped,
	}
}

// Order returns the tracked order for a side, or nil
func (s *MMState) Order(side core.Side) *core.OrderInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[side]
}

// SetOrder installs or replaces the order slot for a side
func (s *MMState) SetOrder(side core.Side, o *core.OrderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o == nil {
		delete(s.orders, side)
		return
	}
	s.orders[side] = o
}

// ClearOrder empties the order slot for a side
func (s *MMState) ClearOrder(side core.Side) {
	s.SetOrder(side, nil)
}

// LiveOrderCount returns the number of sides with a live order
func (s *MMState) LiveOrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.orders {
		if o != nil && o.Status.IsLive() {
			n++
		}
	}
	return n
}

// Position returns the signed position for a venue/symbol
func (s *MMState) Position(venue, symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[PositionKey{Venue: venue, Symbol: symbol}]
}

// SetPosition overwrites the signed position for a venue/symbol. Used for
// position-query polls and private position events; fills go through ApplyFill.
func (s *MMState) SetPosition(venue, symbol string, size decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[PositionKey{Venue: venue, Symbol: symbol}] = size
}

// ApplyFill applies a deduplicated fill to position, entry price, counters,
// and the fill history ring
func (s *MMState) ApplyFill(venue string, fill *core.FillEvent) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := PositionKey{Venue: venue, Symbol: fill.Symbol}
	pos := s.positions[key]

	delta := fill.Qty
	if fill.Side == core.SideSell {
		delta = delta.Neg()
	}
	newPos := pos.Add(delta)
	s.positions[key] = newPos

	s.updateEntryPriceLocked(pos, newPos, fill)

	s.counters.Fills++
	notional := fill.Price.Mul(fill.Qty)
	if fill.IsMaker {
		s.counters.MakerVolume = s.counters.MakerVolume.Add(notional)
		if fill.Fee.IsNegative() {
			// Negative fee is a rebate
			s.counters.RebatesReceived = s.counters.RebatesReceived.Add(fill.Fee.Neg())
		} else {
			s.counters.FeesPaid = s.counters.FeesPaid.Add(fill.Fee)
		}
	} else {
		s.counters.TakerVolume = s.counters.TakerVolume.Add(notional)
		s.counters.FeesPaid = s.counters.FeesPaid.Add(fill.Fee)
	}

	s.fills = append(s.fills, *fill)
	if len(s.fills) > fillHistoryLimit {
		s.fills = s.fills[len(s.fills)-fillHistoryLimit:]
	}

	return newPos
}

// updateEntryPriceLocked maintains the volume-weighted entry price. Fills
// that increase position magnitude blend into the average; fills that reduce
// it leave the entry untouched; crossing zero restarts tracking from the
// overshoot quantity.
func (s *MMState) updateEntryPriceLocked(oldPos, newPos decimal.Decimal, fill *core.FillEvent) {
	switch {
	case newPos.IsZero():
		s.entryPrice = decimal.Zero
		s.entryQty = decimal.Zero
	case oldPos.IsZero() || oldPos.Sign() != newPos.Sign():
		s.entryPrice = fill.Price
		s.entryQty = newPos.Abs()
	case newPos.Abs().GreaterThan(oldPos.Abs()):
		added := newPos.Abs().Sub(oldPos.Abs())
		total := s.entryQty.Add(added)
		s.entryPrice = s.entryPrice.Mul(s.entryQty).Add(fill.Price.Mul(added)).Div(total)
		s.entryQty = total
	default:
		s.entryQty = newPos.Abs()
	}
}

// EntryPrice returns the tracked volume-weighted entry price, zero when flat
func (s *MMState) EntryPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entryPrice
}

// RunState returns the current run state and pause reason
func (s *MMState) RunState() (core.RunState, core.PauseReason) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runState, s.pauseReason
}

// SetRunning transitions to RUNNING and clears the pause reason
func (s *MMState) SetRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState = core.StateRunning
	s.pauseReason = core.PauseNone
	s.resumeConfirmCounter = 0
}

// SetPaused transitions to PAUSED with a reason
func (s *MMState) SetPaused(reason core.PauseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState = core.StatePaused
	s.pauseReason = reason
	if reason == core.PauseHardStop {
		s.hardStopEnteredAt = time.Now()
		s.resumeConfirmCounter = 0
	}
}

// SetStopped transitions to STOPPED
func (s *MMState) SetStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState = core.StateStopped
	s.pauseReason = core.PauseNone
}

// HardStopEnteredAt returns when the hard stop latched
func (s *MMState) HardStopEnteredAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardStopEnteredAt
}

// BumpResumeConfirm increments the consecutive-tick resume counter and
// returns its new value
func (s *MMState) BumpResumeConfirm() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeConfirmCounter++
	return s.resumeConfirmCounter
}

// ResetResumeConfirm clears the consecutive-tick resume counter
func (s *MMState) ResetResumeConfirm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeConfirmCounter = 0
}

// IncOrdersPlaced increments the placed counter
func (s *MMState) IncOrdersPlaced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.OrdersPlaced++
}

// IncOrdersCanceled increments the canceled counter
func (s *MMState) IncOrdersCanceled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.OrdersCanceled++
}

// IncPostOnlyRejects increments the post-only reject counter
func (s *MMState) IncPostOnlyRejects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.PostOnlyRejects++
}

// IncHedgeFailures increments the hedge failure counter
func (s *MMState) IncHedgeFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.HedgeFailures++
}

// AddHedgeFee accumulates fees paid on the hedge account
func (s *MMState) AddHedgeFee(fee decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.HedgeFees = s.counters.HedgeFees.Add(fee)
}

// RecordOperation appends to the bounded operation history
func (s *MMState) RecordOperation(op core.OperationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, op)
	if len(s.operations) > operationHistoryLimit {
		s.operations = s.operations[len(s.operations)-operationHistoryLimit:]
	}
}

// RecordQuoteDistance feeds the uptime tier tracker; see uptime.go
func (s *MMState) RecordQuoteDistance(now time.Time, bothQuoted bool, worstBps decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uptime.record(now, bothQuoted, worstBps)
}

// MarkTick records the wall-clock time of the latest completed tick
func (s *MMState) MarkTick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTickAt = now
}
