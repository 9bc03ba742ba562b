// Package risk holds the liquidation guard
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"perpmm/internal/core"
)

var hundred = decimal.NewFromInt(100)

// LiquidationGuard watches margin ratio and distance to the liquidation
// price. It is a one-shot latch: once breached it stays latched until an
// operator explicitly clears it.
type LiquidationGuard struct {
	mu sync.Mutex

	marginRatioThreshold decimal.Decimal
	liqDistancePct       decimal.Decimal

	latched bool
	reason  string

	logger core.ILogger
}

// NewLiquidationGuard creates a guard from the configured thresholds
func NewLiquidationGuard(marginRatioThreshold, liqDistancePct float64, logger core.ILogger) *LiquidationGuard {
	return &LiquidationGuard{
		marginRatioThreshold: decimal.NewFromFloat(marginRatioThreshold),
		liqDistancePct:       decimal.NewFromFloat(liqDistancePct),
		logger:               logger.WithField("component", "liquidation_guard"),
	}
}

// Observe evaluates one position update and returns true the first time a
// threshold is breached. Subsequent calls return false; use Breached for
// the latched state.
func (g *LiquidationGuard) Observe(p *core.PositionUpdate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.latched {
		return false
	}

	if g.marginRatioThreshold.IsPositive() && p.MarginRatio.GreaterThanOrEqual(g.marginRatioThreshold) {
		g.latched = true
		g.reason = "margin ratio " + p.MarginRatio.String()
		g.logger.Error("Liquidation guard tripped", "margin_ratio", p.MarginRatio.String())
		return true
	}

	if g.liqDistancePct.IsPositive() && p.LiquidationPrice.IsPositive() && p.MarkPrice.IsPositive() && !p.Size.IsZero() {
		dist := p.MarkPrice.Sub(p.LiquidationPrice).Abs().Div(p.MarkPrice).Mul(hundred)
		if dist.LessThanOrEqual(g.liqDistancePct) {
			g.latched = true
			g.reason = "liquidation distance " + dist.StringFixed(4) + "%"
			g.logger.Error("Liquidation guard tripped",
				"mark_price", p.MarkPrice.String(),
				"liquidation_price", p.LiquidationPrice.String(),
				"distance_pct", dist.StringFixed(4))
			return true
		}
	}

	return false
}

// Breached reports the latched state
func (g *LiquidationGuard) Breached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latched
}

// Reason returns why the guard latched
func (g *LiquidationGuard) Reason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Clear resets the latch. Operator action only.
func (g *LiquidationGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latched {
		g.logger.Warn("Liquidation guard cleared by operator", "previous_reason", g.reason)
	}
	g.latched = false
	g.reason = ""
}
