// Package mock provides an in-memory venue for development and tests
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perpmm/internal/core"
	"perpmm/pkg/apperrors"
)

// Adapter is an in-memory IExchangeAdapter. Orders rest until canceled or
// explicitly filled through SimulateFill; market data arrives through
// SimulateDepth. Failure injection covers every REST call by name.
type Adapter struct {
	mu sync.Mutex

	name   string
	meta   *core.SymbolMeta
	orders map[string]*core.RemoteOrder // order ID -> order
	pos    decimal.Decimal
	book   *core.OrderBookSnapshot

	// failures maps a call name ("PlaceOrder", "GetOpenOrders", ...) to the
	// error returned for the next N invocations
	failures map[string]*failurePlan

	nextID atomic.Int64

	depthCB    func(*core.OrderBookSnapshot)
	orderCB    func(*core.OrderUpdateEvent)
	fillCB     func(*core.FillEvent)
	positionCB func(*core.PositionUpdate)
}

type failurePlan struct {
	err       error
	remaining int // negative means forever
}

// NewAdapter creates a mock venue for one symbol
func NewAdapter(symbol string) *Adapter {
	return &Adapter{
		name: "mock",
		meta: &core.SymbolMeta{
			Symbol:   symbol,
			TickSize: decimal.RequireFromString("0.1"),
			QtyStep:  decimal.RequireFromString("0.001"),
			MinQty:   decimal.RequireFromString("0.001"),
		},
		orders:   make(map[string]*core.RemoteOrder),
		failures: make(map[string]*failurePlan),
	}
}

// SetMeta overrides the contract metadata
func (a *Adapter) SetMeta(meta *core.SymbolMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta = meta
}

// FailNext makes the named call return err for the next n invocations.
// n < 0 fails forever until cleared with n == 0.
func (a *Adapter) FailNext(call string, err error, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n == 0 {
		delete(a.failures, call)
		return
	}
	a.failures[call] = &failurePlan{err: err, remaining: n}
}

func (a *Adapter) failureFor(call string) error {
	plan, ok := a.failures[call]
	if !ok {
		return nil
	}
	if plan.remaining > 0 {
		plan.remaining--
		if plan.remaining == 0 {
			delete(a.failures, call)
		}
	}
	return plan.err
}

// Name implements IExchangeAdapter
func (a *Adapter) Name() string { return a.name }

// CheckHealth implements IExchangeAdapter
func (a *Adapter) CheckHealth(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failureFor("CheckHealth")
}

// GetSymbolMeta implements IExchangeAdapter
func (a *Adapter) GetSymbolMeta(ctx context.Context, symbol string) (*core.SymbolMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("GetSymbolMeta"); err != nil {
		return nil, err
	}
	return a.meta, nil
}

// PlaceOrder implements IExchangeAdapter
func (a *Adapter) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.RemoteOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("PlaceOrder"); err != nil {
		return nil, err
	}

	if req.Type == "MARKET" {
		// Market orders fill immediately against the position
		delta := req.Qty
		if req.Side == core.SideSell {
			delta = delta.Neg()
		}
		a.pos = a.pos.Add(delta)
		return &core.RemoteOrder{
			OrderID:       fmt.Sprintf("m-%d", a.nextID.Add(1)),
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Qty:           req.Qty,
			CreatedAt:     time.Now(),
		}, nil
	}

	o := &core.RemoteOrder{
		OrderID:       fmt.Sprintf("m-%d", a.nextID.Add(1)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Qty:           req.Qty,
		CreatedAt:     time.Now(),
	}
	a.orders[o.OrderID] = o
	return o, nil
}

// CancelOrder implements IExchangeAdapter. Canceling an unknown order
// returns ErrOrderNotFound, which callers treat as success.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("CancelOrder"); err != nil {
		return err
	}

	if _, ok := a.orders[orderID]; ok {
		delete(a.orders, orderID)
		return nil
	}
	for id, o := range a.orders {
		if clientOrderID != "" && o.ClientOrderID == clientOrderID {
			delete(a.orders, id)
			return nil
		}
	}
	return apperrors.ErrOrderNotFound
}

// CancelAllOrders implements IExchangeAdapter
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("CancelAllOrders"); err != nil {
		return err
	}
	a.orders = make(map[string]*core.RemoteOrder)
	return nil
}

// GetOpenOrders implements IExchangeAdapter
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]*core.RemoteOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("GetOpenOrders"); err != nil {
		return nil, err
	}
	out := make([]*core.RemoteOrder, 0, len(a.orders))
	for _, o := range a.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// GetPosition implements IExchangeAdapter
func (a *Adapter) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("GetPosition"); err != nil {
		return decimal.Zero, err
	}
	return a.pos, nil
}

// MarketCloseAll implements IExchangeAdapter
func (a *Adapter) MarketCloseAll(ctx context.Context, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("MarketCloseAll"); err != nil {
		return err
	}
	a.pos = decimal.Zero
	return nil
}

// GetOrderBook implements IExchangeAdapter
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failureFor("GetOrderBook"); err != nil {
		return nil, err
	}
	if a.book == nil {
		return nil, apperrors.ErrTransient
	}
	cp := *a.book
	cp.ReceivedAt = time.Now()
	return &cp, nil
}

// StartDepthStream implements IExchangeAdapter
func (a *Adapter) StartDepthStream(ctx context.Context, symbol string, callback func(*core.OrderBookSnapshot)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.depthCB = callback
	return nil
}

// StartOrderStream implements IExchangeAdapter
func (a *Adapter) StartOrderStream(ctx context.Context, callback func(*core.OrderUpdateEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orderCB = callback
	return nil
}

// StartFillStream implements IExchangeAdapter
func (a *Adapter) StartFillStream(ctx context.Context, callback func(*core.FillEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillCB = callback
	return nil
}

// StartPositionStream implements IExchangeAdapter
func (a *Adapter) StartPositionStream(ctx context.Context, callback func(*core.PositionUpdate)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionCB = callback
	return nil
}

// StopStreams implements IExchangeAdapter
func (a *Adapter) StopStreams() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.depthCB = nil
	a.orderCB = nil
	a.fillCB = nil
	a.positionCB = nil
	return nil
}

// SimulateDepth installs a book and delivers it on the depth stream
func (a *Adapter) SimulateDepth(ob *core.OrderBookSnapshot) {
	a.mu.Lock()
	a.book = ob
	cb := a.depthCB
	a.mu.Unlock()
	if cb != nil {
		cb(ob)
	}
}

// SimulateFill fills qty of a resting order, removes it when fully filled,
// updates the position, and delivers the fill event
func (a *Adapter) SimulateFill(orderID string, qty, fee decimal.Decimal) error {
	a.mu.Lock()
	o, ok := a.orders[orderID]
	if !ok {
		a.mu.Unlock()
		return apperrors.ErrOrderNotFound
	}
	o.CumFilled = o.CumFilled.Add(qty)
	if o.CumFilled.GreaterThanOrEqual(o.Qty) {
		delete(a.orders, orderID)
	}

	delta := qty
	if o.Side == core.SideSell {
		delta = delta.Neg()
	}
	a.pos = a.pos.Add(delta)

	ev := &core.FillEvent{
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Price:     o.Price,
		Qty:       qty,
		CumFilled: o.CumFilled,
		Fee:       fee,
		IsMaker:   true,
		Timestamp: time.Now(),
	}
	cb := a.fillCB
	a.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
	return nil
}

// SimulatePosition delivers a position update on the position stream
func (a *Adapter) SimulatePosition(p *core.PositionUpdate) {
	a.mu.Lock()
	cb := a.positionCB
	a.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// SeedOrder installs a resting order directly, as if placed out of band
func (a *Adapter) SeedOrder(o *core.RemoteOrder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o.OrderID == "" {
		o.OrderID = fmt.Sprintf("m-%d", a.nextID.Add(1))
	}
	a.orders[o.OrderID] = o
}

// OpenOrderCount returns the number of resting orders
func (a *Adapter) OpenOrderCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.orders)
}

// SetPositionSize overwrites the venue-side position
func (a *Adapter) SetPositionSize(pos decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = pos
}
