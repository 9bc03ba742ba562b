package engine

import (
	"sync/atomic"

	"perpmm/internal/core"
)

const (
	orderQueueCap    = 256
	fillQueueCap     = 1024
	positionQueueCap = 256
)

// StreamQueues buffer adapter stream callbacks for the tick drain. Depth
// keeps only the latest snapshot (old books are worthless); order, fill, and
// position queues are bounded with drop-oldest under backpressure. Drops are
// counted so reconciliation pressure is visible.
type StreamQueues struct {
	depth     chan *core.OrderBookSnapshot
	orders    chan *core.OrderUpdateEvent
	fills     chan *core.FillEvent
	positions chan *core.PositionUpdate

	dropped atomic.Int64
}

// NewStreamQueues creates the bounded queues
func NewStreamQueues() *StreamQueues {
	return &StreamQueues{
		depth:     make(chan *core.OrderBookSnapshot, 1),
		orders:    make(chan *core.OrderUpdateEvent, orderQueueCap),
		fills:     make(chan *core.FillEvent, fillQueueCap),
		positions: make(chan *core.PositionUpdate, positionQueueCap),
	}
}

// PushDepth replaces any queued snapshot with the newest one
func (q *StreamQueues) PushDepth(ob *core.OrderBookSnapshot) {
	for {
		select {
		case q.depth <- ob:
			return
		default:
			select {
			case <-q.depth:
			default:
			}
		}
	}
}

// PushOrder enqueues an order update, dropping the oldest when full
func (q *StreamQueues) PushOrder(ev *core.OrderUpdateEvent) {
	pushDropOldest(q.orders, ev, &q.dropped)
}

// PushFill enqueues a fill, dropping the oldest when full. The capacity is
// far above any realistic tick backlog; a drop here means the executor has
// stalled and the next reconciliation pass resyncs from REST anyway.
func (q *StreamQueues) PushFill(ev *core.FillEvent) {
	pushDropOldest(q.fills, ev, &q.dropped)
}

// PushPosition enqueues a position update, dropping the oldest when full
func (q *StreamQueues) PushPosition(ev *core.PositionUpdate) {
	pushDropOldest(q.positions, ev, &q.dropped)
}

// PopDepth returns the latest queued snapshot, or nil
func (q *StreamQueues) PopDepth() *core.OrderBookSnapshot {
	select {
	case ob := <-q.depth:
		return ob
	default:
		return nil
	}
}

// DrainOrders returns all queued order updates
func (q *StreamQueues) DrainOrders() []*core.OrderUpdateEvent {
	out := make([]*core.OrderUpdateEvent, 0, len(q.orders))
	for {
		select {
		case ev := <-q.orders:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// DrainFills returns all queued fills
func (q *StreamQueues) DrainFills() []*core.FillEvent {
	out := make([]*core.FillEvent, 0, len(q.fills))
	for {
		select {
		case ev := <-q.fills:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// DrainPositions returns all queued position updates
func (q *StreamQueues) DrainPositions() []*core.PositionUpdate {
	out := make([]*core.PositionUpdate, 0, len(q.positions))
	for {
		select {
		case ev := <-q.positions:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Dropped returns the cumulative number of dropped events
func (q *StreamQueues) Dropped() int64 {
	return q.dropped.Load()
}

func pushDropOldest[T any](ch chan T, v T, dropped *atomic.Int64) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
				dropped.Add(1)
			default:
			}
		}
	}
}
