// Package standx implements the exchange adapter for the StandX perpetual venue
package standx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/internal/core"
	pkghttp "perpmm/pkg/http"
	"perpmm/pkg/websocket"
)

const restTimeout = 10 * time.Second

// Adapter is one account's connection to the venue: a signed REST client
// plus public and private WebSocket streams.
type Adapter struct {
	name string
	rest *pkghttp.Client

	wsURL  string
	apiKey string

	logger core.ILogger

	mu        sync.Mutex
	publicWS  *websocket.Client
	privateWS *websocket.Client

	depthCB    func(*core.OrderBookSnapshot)
	orderCB    func(*core.OrderUpdateEvent)
	fillCB     func(*core.FillEvent)
	positionCB func(*core.PositionUpdate)

	depthSymbol string
}

// NewAdapter creates an adapter for one account
func NewAdapter(name string, acct config.AccountConfig, logger core.ILogger) *Adapter {
	signer := newRequestSigner(acct.APIKey, acct.SecretKey)
	return &Adapter{
		name:   name,
		rest:   pkghttp.NewClient(acct.BaseURL, restTimeout, signer),
		wsURL:  acct.WSURL,
		apiKey: acct.APIKey,
		logger: logger.WithField("component", "standx_"+name),
	}
}

// Name implements IExchangeAdapter
func (a *Adapter) Name() string { return "standx/" + a.name }

// CheckHealth implements IExchangeAdapter
func (a *Adapter) CheckHealth(ctx context.Context) error {
	_, err := a.rest.Get(ctx, "/api/v1/ping", nil)
	return mapVenueError(err)
}

// GetSymbolMeta implements IExchangeAdapter
func (a *Adapter) GetSymbolMeta(ctx context.Context, symbol string) (*core.SymbolMeta, error) {
	body, err := a.rest.Get(ctx, "/api/v1/symbol", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var meta restSymbolMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode symbol meta: %w", err)
	}
	return &core.SymbolMeta{
		Symbol:   meta.Symbol,
		TickSize: meta.TickSize,
		QtyStep:  meta.QtyStep,
		MinQty:   meta.MinQty,
	}, nil
}

// PlaceOrder implements IExchangeAdapter
func (a *Adapter) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.RemoteOrder, error) {
	payload := placeOrderBody{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          req.Type,
		Qty:           req.Qty.String(),
		PostOnly:      req.PostOnly,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == "LIMIT" {
		payload.Price = req.Price.String()
	}

	body, err := a.rest.Post(ctx, "/api/v1/order", payload)
	if err != nil {
		return nil, mapVenueError(err)
	}
	var o restOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return o.toRemote(), nil
}

// CancelOrder implements IExchangeAdapter
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error {
	params := map[string]string{"symbol": symbol}
	if orderID != "" {
		params["order_id"] = orderID
	} else {
		params["client_order_id"] = clientOrderID
	}
	_, err := a.rest.Delete(ctx, "/api/v1/order", params)
	return mapVenueError(err)
}

// CancelAllOrders implements IExchangeAdapter
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := a.rest.Delete(ctx, "/api/v1/orders", map[string]string{"symbol": symbol})
	return mapVenueError(err)
}

// GetOpenOrders implements IExchangeAdapter
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]*core.RemoteOrder, error) {
	body, err := a.rest.Get(ctx, "/api/v1/orders/open", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var raw []restOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]*core.RemoteOrder, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toRemote())
	}
	return out, nil
}

// GetPosition implements IExchangeAdapter
func (a *Adapter) GetPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := a.rest.Get(ctx, "/api/v1/position", map[string]string{"symbol": symbol})
	if err != nil {
		return decimal.Zero, mapVenueError(err)
	}
	var p restPosition
	if err := json.Unmarshal(body, &p); err != nil {
		return decimal.Zero, fmt.Errorf("decode position: %w", err)
	}
	return p.Size, nil
}

// MarketCloseAll implements IExchangeAdapter
func (a *Adapter) MarketCloseAll(ctx context.Context, symbol string) error {
	_, err := a.rest.Post(ctx, "/api/v1/position/close", map[string]string{"symbol": symbol})
	return mapVenueError(err)
}

// GetOrderBook implements IExchangeAdapter
func (a *Adapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	body, err := a.rest.Get(ctx, "/api/v1/depth", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(depth),
	})
	if err != nil {
		return nil, mapVenueError(err)
	}
	var b restBook
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}
	return b.toSnapshot(), nil
}
