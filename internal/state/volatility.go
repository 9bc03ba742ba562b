package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var bpsFactor = decimal.NewFromInt(10000)

type midSample struct {
	ts  time.Time
	mid decimal.Decimal
}

// VolatilityTracker keeps a rolling window of mid prices and reports the
// window's range in basis points. It owns the hysteresis between the pause
// and resume thresholds: resume requires the range to stay below the resume
// threshold continuously for stableFor.
type VolatilityTracker struct {
	mu sync.Mutex

	window    time.Duration
	pauseBps  decimal.Decimal
	resumeBps decimal.Decimal
	stableFor time.Duration

	samples    []midSample
	currentBps decimal.Decimal
	belowSince time.Time
}

// NewVolatilityTracker creates a tracker. Thresholds are in basis points.
func NewVolatilityTracker(window time.Duration, pauseBps, resumeBps float64, stableFor time.Duration) *VolatilityTracker {
	return &VolatilityTracker{
		window:    window,
		pauseBps:  decimal.NewFromFloat(pauseBps),
		resumeBps: decimal.NewFromFloat(resumeBps),
		stableFor: stableFor,
	}
}

// Update records a new mid price, evicts samples older than the window, and
// recomputes the range: (max - min) / latest * 10000.
func (v *VolatilityTracker) Update(now time.Time, mid decimal.Decimal) {
	if !mid.IsPositive() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.samples = append(v.samples, midSample{ts: now, mid: mid})

	cutoff := now.Add(-v.window)
	i := 0
	for i < len(v.samples) && v.samples[i].ts.Before(cutoff) {
		i++
	}
	v.samples = v.samples[i:]

	min, max := v.samples[0].mid, v.samples[0].mid
	for _, s := range v.samples[1:] {
		if s.mid.LessThan(min) {
			min = s.mid
		}
		if s.mid.GreaterThan(max) {
			max = s.mid
		}
	}
	v.currentBps = max.Sub(min).Div(mid).Mul(bpsFactor)

	if v.currentBps.LessThan(v.resumeBps) {
		if v.belowSince.IsZero() {
			v.belowSince = now
		}
	} else {
		v.belowSince = time.Time{}
	}
}

// CurrentBps returns the latest window range in basis points
func (v *VolatilityTracker) CurrentBps() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentBps
}

// ShouldPause reports whether the range exceeds the pause threshold
func (v *VolatilityTracker) ShouldPause() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentBps.GreaterThan(v.pauseBps)
}

// ShouldResume reports whether the range has stayed below the resume
// threshold for at least the stability interval
func (v *VolatilityTracker) ShouldResume(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.belowSince.IsZero() && now.Sub(v.belowSince) >= v.stableFor
}

// SetThresholds updates the pause/resume thresholds at a tick boundary
func (v *VolatilityTracker) SetThresholds(pauseBps, resumeBps float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pauseBps = decimal.NewFromFloat(pauseBps)
	v.resumeBps = decimal.NewFromFloat(resumeBps)
}
