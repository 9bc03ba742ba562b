package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpmm/internal/core"
)

func TestDepthQueueKeepsOnlyLatest(t *testing.T) {
	q := NewStreamQueues()

	q.PushDepth(&core.OrderBookSnapshot{Symbol: "old"})
	q.PushDepth(&core.OrderBookSnapshot{Symbol: "new"})

	ob := q.PopDepth()
	assert.Equal(t, "new", ob.Symbol)
	assert.Nil(t, q.PopDepth())
}

func TestFillQueueDropsOldestWhenFull(t *testing.T) {
	q := NewStreamQueues()

	for i := 0; i < fillQueueCap+5; i++ {
		q.PushFill(&core.FillEvent{OrderID: "x"})
	}

	assert.Equal(t, int64(5), q.Dropped())
	assert.Len(t, q.DrainFills(), fillQueueCap)
}

func TestDrainReturnsAllQueuedEvents(t *testing.T) {
	q := NewStreamQueues()

	q.PushOrder(&core.OrderUpdateEvent{OrderID: "a"})
	q.PushOrder(&core.OrderUpdateEvent{OrderID: "b"})

	evs := q.DrainOrders()
	assert.Len(t, evs, 2)
	assert.Equal(t, "a", evs[0].OrderID)
	assert.Empty(t, q.DrainOrders())
}
