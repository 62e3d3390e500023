package resilience

import "sync/atomic"

// healthScale fixes health/rate as scaled integers so AdaptiveRateController
// can update them with plain atomics instead of a mutex.
const healthScale = 1 << 20

// AdaptiveRateController scales a per-endpoint rate between MinRate and
// MaxRate using a health score in [0,1], smoothed exponentially
// (step ≈ 0.05 per §4.8) so a single bad probe doesn't swing the rate.
type AdaptiveRateController struct {
	minRate, maxRate float64
	step             float64

	health    atomic.Int64 // scaled [0, healthScale]
	rateCache atomic.Int64 // scaled rate * healthScale, refreshed on each update
}

// NewAdaptiveRateController starts at full health (rate = maxRate).
func NewAdaptiveRateController(minRate, maxRate, step float64) *AdaptiveRateController {
	a := &AdaptiveRateController{minRate: minRate, maxRate: maxRate, step: step}
	a.health.Store(healthScale)
	a.rateCache.Store(int64(maxRate * healthScale))
	return a
}

// Observe folds a new health sample (0 = failing endpoint, 1 = fully
// healthy) into the smoothed health score and recomputes the rate.
func (a *AdaptiveRateController) Observe(sample float64) {
	if sample < 0 {
		sample = 0
	}
	if sample > 1 {
		sample = 1
	}
	for {
		old := a.health.Load()
		oldF := float64(old) / healthScale
		newF := oldF + a.step*(sample-oldF)
		newScaled := int64(newF * healthScale)
		if a.health.CompareAndSwap(old, newScaled) {
			rate := a.minRate + newF*(a.maxRate-a.minRate)
			a.rateCache.Store(int64(rate * healthScale))
			return
		}
	}
}

// Rate returns the current allowed rate.
func (a *AdaptiveRateController) Rate() float64 {
	return float64(a.rateCache.Load()) / healthScale
}

// Health returns the current smoothed health score in [0,1].
func (a *AdaptiveRateController) Health() float64 {
	return float64(a.health.Load()) / healthScale
}
