package config

// Patch is a partial runtime configuration update accepted by the control
// surface. Nil fields are left unchanged. Applied copies take effect at the
// next tick boundary.
type Patch struct {
	StrategyMode         *string  `json:"strategy_mode,omitempty"`
	OrderDistanceBps     *float64 `json:"order_distance_bps,omitempty"`
	CancelDistanceBps    *float64 `json:"cancel_distance_bps,omitempty"`
	RebalanceDistanceBps *float64 `json:"rebalance_distance_bps,omitempty"`
	QueuePositionLimit   *int     `json:"queue_position_limit,omitempty"`
	OrderSize            *float64 `json:"order_size,omitempty"`
	MaxPosition          *float64 `json:"max_position,omitempty"`
	HardStopPosition     *float64 `json:"hard_stop_position,omitempty"`
	ResumePosition       *float64 `json:"resume_position,omitempty"`
	PauseThresholdBps    *float64 `json:"pause_threshold_bps,omitempty"`
	ResumeThresholdBps   *float64 `json:"resume_threshold_bps,omitempty"`
	SkewEnabled          *bool    `json:"skew_enabled,omitempty"`
	SkewPushBps          *float64 `json:"skew_push_bps,omitempty"`
	SkewPullBps          *float64 `json:"skew_pull_bps,omitempty"`
	HedgeEnabled         *bool    `json:"hedge_enabled,omitempty"`
	MaxUnhedged          *float64 `json:"max_unhedged,omitempty"`
}

// Apply merges the patch into a config copy and validates the result.
// The receiver config is not modified on validation failure.
func (p *Patch) Apply(c *Config) (*Config, error) {
	next := c.Clone()

	if p.StrategyMode != nil {
		next.Quote.StrategyMode = *p.StrategyMode
	}
	if p.OrderDistanceBps != nil {
		next.Quote.OrderDistanceBps = *p.OrderDistanceBps
	}
	if p.CancelDistanceBps != nil {
		next.Quote.CancelDistanceBps = *p.CancelDistanceBps
	}
	if p.RebalanceDistanceBps != nil {
		next.Quote.RebalanceDistanceBps = *p.RebalanceDistanceBps
	}
	if p.QueuePositionLimit != nil {
		next.Quote.QueuePositionLimit = *p.QueuePositionLimit
	}
	if p.OrderSize != nil {
		next.Position.OrderSize = *p.OrderSize
	}
	if p.MaxPosition != nil {
		next.Position.MaxPosition = *p.MaxPosition
	}
	if p.HardStopPosition != nil {
		next.Position.HardStopPosition = *p.HardStopPosition
	}
	if p.ResumePosition != nil {
		next.Position.ResumePosition = *p.ResumePosition
	}
	if p.PauseThresholdBps != nil {
		next.Volatility.PauseThresholdBps = *p.PauseThresholdBps
	}
	if p.ResumeThresholdBps != nil {
		next.Volatility.ResumeThresholdBps = *p.ResumeThresholdBps
	}
	if p.SkewEnabled != nil {
		next.Skew.Enabled = *p.SkewEnabled
	}
	if p.SkewPushBps != nil {
		next.Skew.PushBps = *p.SkewPushBps
	}
	if p.SkewPullBps != nil {
		next.Skew.PullBps = *p.SkewPullBps
	}
	if p.HedgeEnabled != nil {
		next.Hedge.Enabled = *p.HedgeEnabled
	}
	if p.MaxUnhedged != nil {
		next.Hedge.MaxUnhedged = *p.MaxUnhedged
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
