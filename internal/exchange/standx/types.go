package standx

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpmm/internal/core"
	"perpmm/pkg/apperrors"
	pkghttp "perpmm/pkg/http"
)

// Venue error codes carried in the REST error body and WS error frames
const (
	codeInvalidRequest    = 1001
	codeOrderNotFound     = 2001
	codePostOnlyRejected  = 2008
	codeInsufficientFunds = 3001
	codePositionLimit     = 3002
)

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// mapVenueError converts a REST failure into the engine error taxonomy.
// Timeouts pass through untouched so they classify as unknown-outcome.
func mapVenueError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return fmt.Errorf("%s: %w", apiErr.Error(), apperrors.ErrRateLimited)
		}
		if apiErr.StatusCode >= 500 {
			return fmt.Errorf("%s: %w", apiErr.Error(), apperrors.ErrTransient)
		}

		var body apiErrorBody
		if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr == nil {
			switch body.Code {
			case codeOrderNotFound:
				return fmt.Errorf("%s: %w", body.Msg, apperrors.ErrOrderNotFound)
			case codePostOnlyRejected:
				return fmt.Errorf("%s: %w", body.Msg, apperrors.ErrPostOnlyRejected)
			case codeInsufficientFunds:
				return fmt.Errorf("%s: %w", body.Msg, apperrors.ErrInsufficientFunds)
			case codePositionLimit:
				return fmt.Errorf("%s: %w", body.Msg, apperrors.ErrPositionLimit)
			case codeInvalidRequest:
				return fmt.Errorf("%s: %w", body.Msg, apperrors.ErrInvalidRequest)
			}
		}
		return fmt.Errorf("%s: %w", apiErr.Error(), apperrors.ErrInvalidRequest)
	}

	return err
}

// REST wire types

type restSymbolMeta struct {
	Symbol   string          `json:"symbol"`
	TickSize decimal.Decimal `json:"tick_size"`
	QtyStep  decimal.Decimal `json:"qty_step"`
	MinQty   decimal.Decimal `json:"min_qty"`
}

type restOrder struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Qty           decimal.Decimal `json:"qty"`
	CumFilled     decimal.Decimal `json:"cum_filled_qty"`
	Status        string          `json:"status"`
	CreatedAtMs   int64           `json:"created_at"`
}

func (o *restOrder) toRemote() *core.RemoteOrder {
	return &core.RemoteOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          core.Side(o.Side),
		Price:         o.Price,
		Qty:           o.Qty,
		CumFilled:     o.CumFilled,
		CreatedAt:     time.UnixMilli(o.CreatedAtMs),
	}
}

type restPosition struct {
	Symbol           string          `json:"symbol"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarginRatio      decimal.Decimal `json:"margin_ratio"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
}

type restBook struct {
	Symbol string              `json:"symbol"`
	Bids   [][]decimal.Decimal `json:"bids"` // [price, qty]
	Asks   [][]decimal.Decimal `json:"asks"`
	TsMs   int64               `json:"ts"`
}

func (b *restBook) toSnapshot() *core.OrderBookSnapshot {
	ob := &core.OrderBookSnapshot{
		Symbol:     b.Symbol,
		Bids:       make([]core.BookLevel, 0, len(b.Bids)),
		Asks:       make([]core.BookLevel, 0, len(b.Asks)),
		ReceivedAt: time.Now(),
	}
	for _, l := range b.Bids {
		if len(l) >= 2 {
			ob.Bids = append(ob.Bids, core.BookLevel{Price: l[0], Qty: l[1]})
		}
	}
	for _, l := range b.Asks {
		if len(l) >= 2 {
			ob.Asks = append(ob.Asks, core.BookLevel{Price: l[0], Qty: l[1]})
		}
	}
	return ob
}

type placeOrderBody struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Qty           string `json:"qty"`
	PostOnly      bool   `json:"post_only,omitempty"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// WS wire types

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsSubscribe struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Symbol   string   `json:"symbol,omitempty"`
}

type wsFill struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	CumFilled decimal.Decimal `json:"cum_filled_qty"`
	Fee       decimal.Decimal `json:"fee"`
	IsMaker   bool            `json:"is_maker"`
	TsMs      int64           `json:"ts"`
}

type wsOrderUpdate struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	CumFilled     decimal.Decimal `json:"cum_filled_qty"`
	TsMs          int64           `json:"ts"`
}

// mapOrderStatus converts the venue status vocabulary to the local one
func mapOrderStatus(s string) core.OrderStatus {
	switch s {
	case "NEW", "OPEN":
		return core.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return core.OrderStatusPartiallyFilled
	case "FILLED":
		return core.OrderStatusFilled
	default:
		return core.OrderStatusCanceledOrUnknown
	}
}
