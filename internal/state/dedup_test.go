package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDedupSuppressesRepeatedKey(t *testing.T) {
	d := NewEventDeduplicator(60 * time.Second)
	now := time.Now()
	qty := decimal.RequireFromString("0.01")

	assert.False(t, d.IsDuplicate("X", qty, now))
	assert.True(t, d.IsDuplicate("X", qty, now.Add(time.Millisecond)))
	assert.True(t, d.IsDuplicate("X", qty, now.Add(59*time.Second)))
}

func TestDedupDistinguishesCumFilled(t *testing.T) {
	d := NewEventDeduplicator(60 * time.Second)
	now := time.Now()

	assert.False(t, d.IsDuplicate("X", decimal.RequireFromString("0.01"), now))
	assert.False(t, d.IsDuplicate("X", decimal.RequireFromString("0.02"), now))
	assert.False(t, d.IsDuplicate("Y", decimal.RequireFromString("0.01"), now))
}

func TestDedupKeyExpiresAfterTTL(t *testing.T) {
	d := NewEventDeduplicator(60 * time.Second)
	now := time.Now()
	qty := decimal.RequireFromString("0.01")

	assert.False(t, d.IsDuplicate("X", qty, now))
	// After the TTL the same key is treated as fresh again
	assert.False(t, d.IsDuplicate("X", qty, now.Add(61*time.Second)))
}

func TestDedupBoundsMemory(t *testing.T) {
	d := NewEventDeduplicator(time.Second)
	now := time.Now()

	for i := 0; i < dedupMaxEntries; i++ {
		d.IsDuplicate(fmt.Sprintf("order-%d", i), decimal.NewFromInt(1), now)
	}
	// Expired entries are evicted once the map hits the cap
	d.IsDuplicate("late", decimal.NewFromInt(1), now.Add(2*time.Second))
	assert.Less(t, d.Len(), dedupMaxEntries)
}
