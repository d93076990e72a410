package logic

import (
	"math"
	"sort"
)

// PlanCycle computes the schedule for one delivery cycle triggered by a
// press at pressMs (absolute unix milliseconds).
//
// For each enabled, non-tramlined unit:
//
//	start = pressMs + pattern base + momentary offset + clamped per-unit delay
//
// The result is sorted by (StartMs, UnitID). That ordering is a
// deterministic emission order only; actual firing is governed by each
// entry's absolute start time.
func PlanCycle(snap Snapshot, pressMs int64) []ScheduleEntry {
	var out []ScheduleEntry
	for _, u := range snap.Units {
		if !u.Enabled {
			continue
		}
		if snap.Tramline[u.ID] {
			continue
		}

		start := pressMs +
			patternBaseMs(snap.Pattern, u, snap.AutoDelay, snap.DiagonalStepMs) +
			momentaryMs(snap.Momentary, u.Momentary) +
			clampedPerDelayMs(snap.Pattern, u, snap.AutoDelay)

		e := resolveDelivery(u, snap)
		e.UnitID = u.ID
		e.StartMs = start
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMs != out[j].StartMs {
			return out[i].StartMs < out[j].StartMs
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}

// patternBaseMs is the base delay set by the pattern before momentary and
// per-unit offsets. Diamond: A=0, B=current B delay. Diagonal: fixed step
// per unit index. Line: all simultaneous.
func patternBaseMs(p Pattern, u UnitConfig, auto AutoDelayConfig, stepMs int) int64 {
	switch p {
	case PatternDiamond:
		if u.Group == GroupB {
			return int64(max(0, auto.CurrentMs))
		}
		return 0
	case PatternDiagonal:
		if stepMs <= 0 {
			stepMs = DefaultDiagonalStepMs
		}
		return int64(max(0, (u.ID-1)*stepMs))
	default:
		return 0
	}
}

// momentaryMs maps the bound switch's offset percent to milliseconds
// (0..100% -> 0..1000 ms). Unbound or disabled switches contribute 0.
func momentaryMs(m map[string]MomentaryConfig, name string) int64 {
	if name == "" {
		return 0
	}
	cfg, ok := m[name]
	if !ok || !cfg.Enabled {
		return 0
	}
	pct := cfg.OffsetPct
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return int64(pct) * 10
}

// clampedPerDelayMs applies the diamond safety clamps: a B unit may pull
// forward but never ahead of A's notional zero, and an A unit never
// fires before the press. Other patterns pass the delay through.
func clampedPerDelayMs(p Pattern, u UnitConfig, auto AutoDelayConfig) int64 {
	per := u.PerDelayMs
	if p == PatternDiamond {
		switch u.Group {
		case GroupB:
			minNeg := -max(0, auto.CurrentMs)
			if per < minNeg {
				per = minNeg
			}
		case GroupA:
			if per < 0 {
				per = 0
			}
		}
	}
	return int64(per)
}

// resolveDelivery fills the mode-dependent fields of a schedule entry.
func resolveDelivery(u UnitConfig, snap Snapshot) ScheduleEntry {
	target := snap.TargetMl
	if target < 1 {
		target = 1
	}

	mode := u.Mode
	if mode != ModeFlow && mode != ModeTimed {
		mode = snap.DeliveryMode
	}

	if mode == ModeTimed {
		msPerMl := u.MsPerMl
		if msPerMl <= 0 {
			msPerMl = DefaultMsPerMl
		}
		if msPerMl < minMsPerMl {
			msPerMl = minMsPerMl
		}
		return ScheduleEntry{
			Mode:       ModeTimed,
			DurationMs: int64(math.Round(float64(target) * msPerMl)),
			MsPerMl:    msPerMl,
			TargetMl:   target,
		}
	}

	// Flow: the manager counts meter pulses; K-factor converts the target
	// volume to an expected pulse count, bounded by the configured
	// pulses-per-cycle.
	k := u.PulsesPerLiter
	if k < 1 {
		k = 1
	}
	ppc := u.PulsesPerCycle
	if ppc < 1 {
		ppc = 1
	}
	pulses := int(math.Round(float64(target) * float64(k) / 1000.0))
	if pulses < 1 {
		pulses = 1
	}
	if pulses > ppc {
		pulses = ppc
	}
	return ScheduleEntry{
		Mode:         ModeFlow,
		TargetPulses: pulses,
		TargetMl:     target,
	}
}
