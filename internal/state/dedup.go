package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const dedupMaxEntries = 4096

// EventDeduplicator collapses duplicate fill notifications. The key is
// (order_id, cumulative filled qty): the same fill delivered over multiple
// channels, or replayed after a reconnect, carries the same cumulative
// quantity and is dropped. Entries expire lazily after the TTL so memory
// stays bounded.
type EventDeduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewEventDeduplicator creates a deduplicator with the given TTL
func NewEventDeduplicator(ttl time.Duration) *EventDeduplicator {
	return &EventDeduplicator{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate checks whether the (orderID, cumFilled) key was seen within
// the TTL and records it if not. Returns true for duplicates.
func (d *EventDeduplicator) IsDuplicate(orderID string, cumFilled decimal.Decimal, now time.Time) bool {
	key := orderID + ":" + cumFilled.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if seen, ok := d.entries[key]; ok && now.Sub(seen) < d.ttl {
		return true
	}

	d.cleanupLocked(now)
	d.entries[key] = now
	return false
}

// Len returns the number of live entries, for tests and introspection
func (d *EventDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *EventDeduplicator) cleanupLocked(now time.Time) {
	if len(d.entries) < dedupMaxEntries {
		return
	}
	for k, seen := range d.entries {
		if now.Sub(seen) >= d.ttl {
			delete(d.entries, k)
		}
	}
}
