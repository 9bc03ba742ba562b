package standx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmm/internal/core"
	"perpmm/pkg/apperrors"
	pkghttp "perpmm/pkg/http"
)

func apiErr(status int, code int, msg string) error {
	return &pkghttp.APIError{
		StatusCode: status,
		Body:       []byte(fmt.Sprintf(`{"code":%d,"msg":%q}`, code, msg)),
	}
}

func TestMapVenueErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"order not found", apiErr(400, codeOrderNotFound, "no such order"), apperrors.ErrOrderNotFound},
		{"post only", apiErr(400, codePostOnlyRejected, "would cross"), apperrors.ErrPostOnlyRejected},
		{"insufficient funds", apiErr(400, codeInsufficientFunds, "margin"), apperrors.ErrInsufficientFunds},
		{"position limit", apiErr(400, codePositionLimit, "limit"), apperrors.ErrPositionLimit},
		{"invalid", apiErr(400, codeInvalidRequest, "bad price"), apperrors.ErrInvalidRequest},
		{"rate limited", apiErr(429, 0, ""), apperrors.ErrRateLimited},
		{"server error", apiErr(503, 0, ""), apperrors.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(mapVenueError(tt.in), tt.want))
		})
	}
}

func TestMapVenueErrorPassesTimeoutsThrough(t *testing.T) {
	err := mapVenueError(fmt.Errorf("request failed: %w", context.DeadlineExceeded))
	assert.Equal(t, apperrors.CategoryUnknown, apperrors.Classify(err))
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, core.OrderStatusOpen, mapOrderStatus("NEW"))
	assert.Equal(t, core.OrderStatusOpen, mapOrderStatus("OPEN"))
	assert.Equal(t, core.OrderStatusPartiallyFilled, mapOrderStatus("PARTIALLY_FILLED"))
	assert.Equal(t, core.OrderStatusFilled, mapOrderStatus("FILLED"))
	assert.Equal(t, core.OrderStatusCanceledOrUnknown, mapOrderStatus("CANCELED"))
	assert.Equal(t, core.OrderStatusCanceledOrUnknown, mapOrderStatus("EXPIRED"))
}

func TestRestBookToSnapshot(t *testing.T) {
	var b restBook
	raw := []byte(`{"symbol":"BTC-USD","bids":[["100000.9","1.5"],["100000.8","2"]],"asks":[["100001.1","0.7"]],"ts":1}`)
	require.NoError(t, json.Unmarshal(raw, &b))

	ob := b.toSnapshot()
	assert.Equal(t, "BTC-USD", ob.Symbol)
	assert.Len(t, ob.Bids, 2)
	assert.Equal(t, "100000.9", ob.BestBid().String())
	assert.Equal(t, "100001.1", ob.BestAsk().String())
	assert.True(t, ob.Valid())
	assert.Equal(t, "100001", ob.Mid().String())
}
