package logic

import (
	"math"
	"time"
)

const (
	// DelayWindow is the trailing window of presses the estimator considers.
	DelayWindow = 15 * time.Second

	// DelayMinPresses is the minimum number of recent presses needed to
	// derive the delay from cadence; fewer falls back to the manual value.
	DelayMinPresses = 3
)

// EstimateDelay recomputes the adaptive inter-group (B) delay in
// milliseconds from recent press cadence.
//
// With auto-delay disabled the result is manual + geometry lead. Enabled,
// it is half the mean consecutive inter-press interval over the trailing
// window plus the geometry lead, or the manual value when fewer than
// DelayMinPresses presses are recent. The result is never negative.
//
// The second return reports whether the value differs from the snapshot's
// CurrentMs; publication is edge-triggered on that.
func EstimateDelay(cfg AutoDelayConfig, presses []time.Time, now time.Time) (int, bool) {
	var ms int
	if !cfg.Enabled {
		ms = cfg.ManualMs + cfg.GeomLeadMs
	} else {
		ms = cadenceMs(presses, now)
		if ms < 0 {
			ms = cfg.ManualMs
		}
		ms += cfg.GeomLeadMs
	}
	if ms < 0 {
		ms = 0
	}
	return ms, ms != cfg.CurrentMs
}

// cadenceMs returns half the mean consecutive inter-press interval within
// the window, or -1 if there are too few recent presses.
func cadenceMs(presses []time.Time, now time.Time) int {
	cutoff := now.Add(-DelayWindow)
	recent := presses[:0:0]
	for _, p := range presses {
		if p.After(cutoff) {
			recent = append(recent, p)
		}
	}
	if len(recent) < DelayMinPresses {
		return -1
	}

	var total time.Duration
	for i := 1; i < len(recent); i++ {
		total += recent[i].Sub(recent[i-1])
	}
	mean := float64(total.Milliseconds()) / float64(len(recent)-1)
	return int(math.Round(mean / 2))
}
