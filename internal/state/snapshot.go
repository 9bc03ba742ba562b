package state

import (
	"time"

	"github.com/shopspring/decimal"

	"perpmm/internal/core"
)

// Snapshot is a copy-on-read view of the full state for the status surface.
// It shares no memory with the live state.
type Snapshot struct {
	RunState    core.RunState    `json:"run_state"`
	PauseReason core.PauseReason `json:"pause_reason,omitempty"`

	Bid *core.OrderInfo `json:"bid,omitempty"`
	Ask *core.OrderInfo `json:"ask,omitempty"`

	Positions map[string]decimal.Decimal `json:"positions"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	Counters   Counters        `json:"counters"`
	Uptime     UptimeStats     `json:"uptime"`

	Operations []core.OperationRecord `json:"operations"`
	Fills      []core.FillEvent       `json:"fills"`

	LastTickAt time.Time `json:"last_tick_ts"`
}

// Snapshot returns a deep copy of the current state
func (s *MMState) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make(map[string]decimal.Decimal, len(s.positions))
	for k, v := range s.positions {
		positions[k.Venue+":"+k.Symbol] = v
	}

	ops := make([]core.OperationRecord, len(s.operations))
	copy(ops, s.operations)

	fills := make([]core.FillEvent, len(s.fills))
	copy(fills, s.fills)

	return &Snapshot{
		RunState:    s.runState,
		PauseReason: s.pauseReason,
		Bid:         s.orders[core.SideBuy].Clone(),
		Ask:         s.orders[core.SideSell].Clone(),
		Positions:   positions,
		EntryPrice:  s.entryPrice,
		Counters:    s.counters,
		Uptime:      s.uptime.stats(),
		Operations:  ops,
		Fills:       fills,
		LastTickAt:  s.lastTickAt,
	}
}
