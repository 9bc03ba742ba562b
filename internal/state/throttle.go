package state

import (
	"sync"
	"time"

	"perpmm/internal/core"
)

// OrderThrottle enforces a per-side cool-down between order submissions.
// Record must be called before issuing the async place request, not after
// the reply, so that two nearly simultaneous checks cannot both pass.
type OrderThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[core.Side]time.Time
}

// NewOrderThrottle creates a throttle with the given per-side interval
func NewOrderThrottle(interval time.Duration) *OrderThrottle {
	return &OrderThrottle{
		interval: interval,
		last:     make(map[core.Side]time.Time),
	}
}

// CanPlace reports whether a placement on the side is currently allowed
func (t *OrderThrottle) CanPlace(side core.Side, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[side]
	return !ok || now.Sub(last) >= t.interval
}

// Record marks a placement attempt on the side
func (t *OrderThrottle) Record(side core.Side, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[side] = now
}

// TryAcquire atomically checks and records a placement attempt
func (t *OrderThrottle) TryAcquire(side core.Side, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[side]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[side] = now
	return true
}

// SetInterval updates the cool-down, effective for subsequent checks
func (t *OrderThrottle) SetInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
}
