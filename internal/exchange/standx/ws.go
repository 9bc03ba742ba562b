package standx

import (
	"context"
	"encoding/json"
	"time"

	"perpmm/internal/core"
	"perpmm/pkg/websocket"
)

// StartDepthStream implements IExchangeAdapter. The public socket carries the
// depth channel; it is dialed on the first subscription.
func (a *Adapter) StartDepthStream(ctx context.Context, symbol string, callback func(*core.OrderBookSnapshot)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.depthCB = callback
	a.depthSymbol = symbol
	if a.publicWS != nil {
		return nil
	}

	ws := websocket.NewClient(a.wsURL+"/ws/public", a.handlePublicMessage, a.logger)
	ws.SetOnConnected(func() {
		if err := ws.Send(wsSubscribe{Op: "subscribe", Channels: []string{"depth"}, Symbol: symbol}); err != nil {
			a.logger.Error("Depth subscribe failed", "error", err)
		}
	})
	a.publicWS = ws
	ws.Start()
	return nil
}

// StartOrderStream implements IExchangeAdapter
func (a *Adapter) StartOrderStream(ctx context.Context, callback func(*core.OrderUpdateEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orderCB = callback
	return a.ensurePrivateWSLocked()
}

// StartFillStream implements IExchangeAdapter
func (a *Adapter) StartFillStream(ctx context.Context, callback func(*core.FillEvent)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillCB = callback
	return a.ensurePrivateWSLocked()
}

// StartPositionStream implements IExchangeAdapter
func (a *Adapter) StartPositionStream(ctx context.Context, callback func(*core.PositionUpdate)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionCB = callback
	return a.ensurePrivateWSLocked()
}

// StopStreams implements IExchangeAdapter
func (a *Adapter) StopStreams() error {
	a.mu.Lock()
	publicWS, privateWS := a.publicWS, a.privateWS
	a.publicWS, a.privateWS = nil, nil
	a.depthCB, a.orderCB, a.fillCB, a.positionCB = nil, nil, nil, nil
	a.mu.Unlock()

	if publicWS != nil {
		publicWS.Stop()
	}
	if privateWS != nil {
		privateWS.Stop()
	}
	return nil
}

// ensurePrivateWSLocked dials the private socket once; the subscription is
// replayed by the onConnected callback after every reconnect
func (a *Adapter) ensurePrivateWSLocked() error {
	if a.privateWS != nil {
		return nil
	}

	ws := websocket.NewClient(a.wsURL+"/ws/private?api_key="+a.apiKey, a.handlePrivateMessage, a.logger)
	ws.SetOnConnected(func() {
		if err := ws.Send(wsSubscribe{Op: "subscribe", Channels: []string{"orders", "fills", "position"}}); err != nil {
			a.logger.Error("Private subscribe failed", "error", err)
		}
	})
	a.privateWS = ws
	ws.Start()
	return nil
}

func (a *Adapter) handlePublicMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		a.logger.Warn("Bad public WS frame", "error", err)
		return
	}
	if env.Channel != "depth" {
		return
	}

	var b restBook
	if err := json.Unmarshal(env.Data, &b); err != nil {
		a.logger.Warn("Bad depth frame", "error", err)
		return
	}

	a.mu.Lock()
	cb := a.depthCB
	a.mu.Unlock()
	if cb != nil {
		cb(b.toSnapshot())
	}
}

func (a *Adapter) handlePrivateMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		a.logger.Warn("Bad private WS frame", "error", err)
		return
	}

	switch env.Channel {
	case "orders":
		var u wsOrderUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			a.logger.Warn("Bad order frame", "error", err)
			return
		}
		a.mu.Lock()
		cb := a.orderCB
		a.mu.Unlock()
		if cb != nil {
			cb(&core.OrderUpdateEvent{
				OrderID:       u.OrderID,
				ClientOrderID: u.ClientOrderID,
				Symbol:        u.Symbol,
				Side:          core.Side(u.Side),
				Status:        mapOrderStatus(u.Status),
				Price:         u.Price,
				CumFilled:     u.CumFilled,
				Timestamp:     time.UnixMilli(u.TsMs),
			})
		}

	case "fills":
		var f wsFill
		if err := json.Unmarshal(env.Data, &f); err != nil {
			a.logger.Warn("Bad fill frame", "error", err)
			return
		}
		a.mu.Lock()
		cb := a.fillCB
		a.mu.Unlock()
		if cb != nil {
			cb(&core.FillEvent{
				OrderID:   f.OrderID,
				Symbol:    f.Symbol,
				Side:      core.Side(f.Side),
				Price:     f.Price,
				Qty:       f.Qty,
				CumFilled: f.CumFilled,
				Fee:       f.Fee,
				IsMaker:   f.IsMaker,
				Timestamp: time.UnixMilli(f.TsMs),
			})
		}

	case "position":
		var p restPosition
		if err := json.Unmarshal(env.Data, &p); err != nil {
			a.logger.Warn("Bad position frame", "error", err)
			return
		}
		a.mu.Lock()
		cb := a.positionCB
		a.mu.Unlock()
		if cb != nil {
			cb(&core.PositionUpdate{
				Venue:            a.Name(),
				Symbol:           p.Symbol,
				Size:             p.Size,
				EntryPrice:       p.EntryPrice,
				MarginRatio:      p.MarginRatio,
				LiquidationPrice: p.LiquidationPrice,
				MarkPrice:        p.MarkPrice,
				Timestamp:        time.Now(),
			})
		}
	}
}
