// Package core defines the domain types and interfaces shared across the engine
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchangeAdapter is the uniform capability surface of a venue account.
// One instance per account (primary, hedge). All calls accept a context with
// a deadline; a timeout surfaces as apperrors.ErrUnknownOutcome and the
// caller reconciles on the next tick. REST is authoritative on any
// disagreement with stream-delivered state.
type IExchangeAdapter interface {
	// Identity
	Name() string
	CheckHealth(ctx context.Context) error
	GetSymbolMeta(ctx context.Context, symbol string) (*SymbolMeta, error)

	// Order operations
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*RemoteOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]*RemoteOrder, error)

	// Account operations
	GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error)
	MarketCloseAll(ctx context.Context, symbol string) error

	// Market data
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBookSnapshot, error)

	// Streams. Callbacks run on the adapter's reader goroutine and must not
	// block; the engine buffers into bounded queues.
	StartDepthStream(ctx context.Context, symbol string, callback func(*OrderBookSnapshot)) error
	StartOrderStream(ctx context.Context, callback func(*OrderUpdateEvent)) error
	StartFillStream(ctx context.Context, callback func(*FillEvent)) error
	StartPositionStream(ctx context.Context, callback func(*PositionUpdate)) error
	StopStreams() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IAlertSink receives operational alerts (hedge failure, hard stop,
// liquidation guard). Implementations must not block the caller.
type IAlertSink interface {
	Alert(ctx context.Context, title, message, level string, fields map[string]string)
}

// ITradeLog is the per-session append-only audit log
type ITradeLog interface {
	RecordFill(ctx context.Context, fill *FillEvent) error
	RecordOperation(ctx context.Context, op *OperationRecord) error
	Close() error
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
