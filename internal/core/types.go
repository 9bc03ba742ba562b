package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order or fill
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the local lifecycle status of a tracked order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusOpen              OrderStatus = "OPEN"
	OrderStatusPartiallyFilled   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled            OrderStatus = "FILLED"
	OrderStatusCanceledOrUnknown OrderStatus = "CANCELED_OR_UNKNOWN"
)

// IsLive reports whether the order still occupies its side slot
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusPending || s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// RunState is the coarse engine state
type RunState string

const (
	StateRunning RunState = "RUNNING"
	StatePaused  RunState = "PAUSED"
	StateStopped RunState = "STOPPED"
)

// PauseReason explains a PAUSED state
type PauseReason string

const (
	PauseNone             PauseReason = ""
	PauseVolatilityHigh   PauseReason = "VOLATILITY_HIGH"
	PauseHardStop         PauseReason = "HARD_STOP"
	PauseLiquidationGuard PauseReason = "LIQUIDATION_GUARD"
	PauseOperatorStop     PauseReason = "OPERATOR_STOP"
	PauseAdapterUnhealthy PauseReason = "ADAPTER_UNHEALTHY"
)

// SymbolMeta holds immutable per-symbol contract metadata, fetched once per session
type SymbolMeta struct {
	Symbol   string
	TickSize decimal.Decimal
	QtyStep  decimal.Decimal
	MinQty   decimal.Decimal
}

// BookLevel is a single price level of an order book
type BookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookSnapshot is a point-in-time view of the book. Bids are sorted
// descending, asks ascending.
type OrderBookSnapshot struct {
	Symbol     string
	Bids       []BookLevel
	Asks       []BookLevel
	ReceivedAt time.Time
}

// BestBid returns the highest bid, or zero if the book side is empty
func (ob *OrderBookSnapshot) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the book side is empty
func (ob *OrderBookSnapshot) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// Mid returns the arithmetic mean of best bid and best ask
func (ob *OrderBookSnapshot) Mid() decimal.Decimal {
	return ob.BestBid().Add(ob.BestAsk()).Div(decimal.NewFromInt(2))
}

// Valid reports whether the snapshot satisfies best_ask > best_bid > 0
func (ob *OrderBookSnapshot) Valid() bool {
	return ob.BestBid().IsPositive() && ob.BestAsk().GreaterThan(ob.BestBid())
}

// PlaceOrderRequest is the adapter-level order submission request
type PlaceOrderRequest struct {
	Symbol        string
	Side          Side
	Type          string // "LIMIT" or "MARKET"
	Price         decimal.Decimal
	Qty           decimal.Decimal
	PostOnly      bool
	ReduceOnly    bool
	ClientOrderID string
}

// RemoteOrder is a venue-side open order as returned by the REST open-orders query
type RemoteOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	CumFilled     decimal.Decimal
	CreatedAt     time.Time
}

// OrderInfo is the locally tracked order for one quoting side.
// Mutated only by the executor tick.
type OrderInfo struct {
	OrderID          string // empty until acked by the venue
	ClientOrderID    string
	Side             Side
	Price            decimal.Decimal
	Qty              decimal.Decimal
	CumFilled        decimal.Decimal
	Status           OrderStatus
	PlacedAt         time.Time
	LastSeenRemoteAt time.Time
	DisappearedSince time.Time // first tick the order was missing from the remote view
}

// Remaining returns the unfilled quantity
func (o *OrderInfo) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.CumFilled)
}

// Clone returns a deep copy for copy-on-read snapshots
func (o *OrderInfo) Clone() *OrderInfo {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// FillEvent is a private trade execution notification
type FillEvent struct {
	OrderID   string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
	CumFilled decimal.Decimal
	Fee       decimal.Decimal
	IsMaker   bool
	Timestamp time.Time
}

// OrderUpdateEvent is a private order status transition notification
type OrderUpdateEvent struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        OrderStatus
	Price         decimal.Decimal
	CumFilled     decimal.Decimal
	Timestamp     time.Time
}

// PositionUpdate is a private account position notification
type PositionUpdate struct {
	Venue            string
	Symbol           string
	Size             decimal.Decimal // signed, positive = long
	EntryPrice       decimal.Decimal
	MarginRatio      decimal.Decimal
	LiquidationPrice decimal.Decimal
	MarkPrice        decimal.Decimal
	Timestamp        time.Time
}

// OperationAction labels entries of the operation log
type OperationAction string

const (
	OpPlace     OperationAction = "place"
	OpCancel    OperationAction = "cancel"
	OpRebalance OperationAction = "rebalance"
	OpFill      OperationAction = "fill"
	OpHedge     OperationAction = "hedge"
	OpPause     OperationAction = "pause"
	OpResume    OperationAction = "resume"
)

// OperationRecord is one entry of the bounded operation history
type OperationRecord struct {
	Timestamp time.Time       `json:"ts"`
	Action    OperationAction `json:"action"`
	Side      Side            `json:"side,omitempty"`
	Price     decimal.Decimal `json:"price"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Reason    string          `json:"reason,omitempty"`
}
