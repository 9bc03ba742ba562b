package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"perpmm/internal/core"
	"perpmm/pkg/logging"
)

func update(marginRatio, mark, liq, size string) *core.PositionUpdate {
	return &core.PositionUpdate{
		Venue:            "primary",
		Symbol:           "BTC-USD",
		Size:             decimal.RequireFromString(size),
		MarginRatio:      decimal.RequireFromString(marginRatio),
		MarkPrice:        decimal.RequireFromString(mark),
		LiquidationPrice: decimal.RequireFromString(liq),
	}
}

func TestGuardTripsOnMarginRatio(t *testing.T) {
	g := NewLiquidationGuard(0.8, 1.5, logging.NewNopLogger())

	assert.False(t, g.Observe(update("0.5", "100000", "0", "0.01")))
	assert.False(t, g.Breached())

	assert.True(t, g.Observe(update("0.85", "100000", "0", "0.01")))
	assert.True(t, g.Breached())
}

func TestGuardTripsOnLiquidationDistance(t *testing.T) {
	g := NewLiquidationGuard(0.8, 1.5, logging.NewNopLogger())

	// 5% away: safe
	assert.False(t, g.Observe(update("0.1", "100000", "95000", "0.01")))
	// 1% away: breach
	assert.True(t, g.Observe(update("0.1", "100000", "99000", "0.01")))
}

func TestGuardIgnoresFlatPosition(t *testing.T) {
	g := NewLiquidationGuard(0.8, 1.5, logging.NewNopLogger())
	assert.False(t, g.Observe(update("0.1", "100000", "99900", "0")))
}

func TestGuardIsOneShotLatch(t *testing.T) {
	g := NewLiquidationGuard(0.8, 1.5, logging.NewNopLogger())

	assert.True(t, g.Observe(update("0.9", "100000", "0", "0.01")))
	// Already latched: Observe no longer fires
	assert.False(t, g.Observe(update("0.9", "100000", "0", "0.01")))
	assert.True(t, g.Breached())

	g.Clear()
	assert.False(t, g.Breached())
	assert.True(t, g.Observe(update("0.9", "100000", "0", "0.01")))
}
