package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// UptimeTier labels the venue uptime-program tier the current quotes fall in
type UptimeTier int

const (
	TierOutOfRange UptimeTier = iota
	TierBasic                 // worst quote within 100 bps, weight 0.1
	TierStandard              // worst quote within 30 bps, weight 0.5
	TierBoosted               // worst quote within 10 bps, weight 1.0
)

func (t UptimeTier) String() string {
	switch t {
	case TierBoosted:
		return "boosted"
	case TierStandard:
		return "standard"
	case TierBasic:
		return "basic"
	default:
		return "out_of_range"
	}
}

var (
	tierBoostedBps  = decimal.NewFromInt(10)
	tierStandardBps = decimal.NewFromInt(30)
	tierBasicBps    = decimal.NewFromInt(100)
)

// tierWeights are the effective-points multipliers of the uptime program
var tierWeights = map[UptimeTier]float64{
	TierBoosted:  1.0,
	TierStandard: 0.5,
	TierBasic:    0.1,
}

// UptimeStats is the copy-on-read view of the tier accounting
type UptimeStats struct {
	CurrentTier      string             `json:"current_tier"`
	SecondsPerTier   map[string]float64 `json:"seconds_per_tier"`
	EffectivePercent float64            `json:"effective_percent"`
	TrackedSeconds   float64            `json:"tracked_seconds"`
}

// uptimeTracker accumulates time spent in each uptime tier. A sample counts
// only while both sides are quoted; the tier is decided by the worse of the
// two quote distances.
type uptimeTracker struct {
	lastSample  time.Time
	currentTier UptimeTier
	perTier     map[UptimeTier]time.Duration
	total       time.Duration
	effective   float64 // weighted seconds
}

func classifyTier(bothQuoted bool, worstBps decimal.Decimal) UptimeTier {
	if !bothQuoted {
		return TierOutOfRange
	}
	switch {
	case worstBps.LessThanOrEqual(tierBoostedBps):
		return TierBoosted
	case worstBps.LessThanOrEqual(tierStandardBps):
		return TierStandard
	case worstBps.LessThanOrEqual(tierBasicBps):
		return TierBasic
	default:
		return TierOutOfRange
	}
}

func (u *uptimeTracker) record(now time.Time, bothQuoted bool, worstBps decimal.Decimal) {
	tier := classifyTier(bothQuoted, worstBps)

	if u.perTier == nil {
		u.perTier = make(map[UptimeTier]time.Duration)
	}
	if !u.lastSample.IsZero() {
		elapsed := now.Sub(u.lastSample)
		if elapsed > 0 {
			u.perTier[u.currentTier] += elapsed
			u.total += elapsed
			u.effective += elapsed.Seconds() * tierWeights[u.currentTier]
		}
	}
	u.lastSample = now
	u.currentTier = tier
}

func (u *uptimeTracker) stats() UptimeStats {
	per := make(map[string]float64, len(u.perTier))
	for tier, d := range u.perTier {
		per[tier.String()] = d.Seconds()
	}
	pct := 0.0
	if u.total > 0 {
		pct = u.effective / u.total.Seconds() * 100
	}
	return UptimeStats{
		CurrentTier:      u.currentTier.String(),
		SecondsPerTier:   per,
		EffectivePercent: pct,
		TrackedSeconds:   u.total.Seconds(),
	}
}

// CurrentUptimeTier returns the tier of the latest sample
func (s *MMState) CurrentUptimeTier() UptimeTier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uptime.currentTier
}
