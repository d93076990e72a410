// Package logic contains pure timing computation for the Even Crop brain:
// the cycle planner, the adaptive B-delay estimator, and the press tracker.
// This package has NO external dependencies (no GPIO, MQTT, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package logic

import "time"

// Pattern is the wiring-dependent rule for base timing offsets.
type Pattern string

const (
	PatternDiamond  Pattern = "diamond"
	PatternDiagonal Pattern = "diagonal"
	PatternLine     Pattern = "line"
)

// Group is a unit's role in the diamond pattern. B fires after the
// adaptive delay relative to A.
type Group string

const (
	GroupA Group = "A"
	GroupB Group = "B"
)

// DeliveryMode selects how delivery completion is determined.
type DeliveryMode string

const (
	ModeInherit DeliveryMode = "inherit"
	ModeFlow    DeliveryMode = "flow"
	ModeTimed   DeliveryMode = "timed"
)

const (
	// MaxUnits is the number of output slots on the bank.
	MaxUnits = 11

	// DefaultDiagonalStepMs is the per-unit stagger for the diagonal pattern.
	DefaultDiagonalStepMs = 80

	// DefaultMsPerMl is the timed-mode calibration fallback.
	DefaultMsPerMl = 5.0

	minMsPerMl = 0.1
)

// UnitConfig is the per-unit configuration read from the state store.
type UnitConfig struct {
	ID             int
	Enabled        bool
	Group          Group
	Momentary      string // bound switch ("M1".."M3") or ""
	OffsetPct      int    // legacy percent (0..100)
	PerDelayMs     int    // may be negative for B in diamond
	Mode           DeliveryMode
	PulsesPerCycle int
	PulsesPerLiter int // K-factor
	MsPerMl        float64
}

// MomentaryConfig is the per-switch configuration (M1..M3).
type MomentaryConfig struct {
	Enabled   bool
	OffsetPct int // 0..100 mapped to 0..1000 ms
}

// AutoDelayConfig holds the adaptive inter-group delay settings.
type AutoDelayConfig struct {
	Enabled    bool
	ManualMs   int
	GeomLeadMs int
	CurrentMs  int // last computed value, never negative
}

// Snapshot is a consistent read-only view of the controller state for one
// planning pass. The planner and estimator never mutate it.
type Snapshot struct {
	TargetMl       int
	DeliveryMode   DeliveryMode
	AutoDelay      AutoDelayConfig
	Momentary      map[string]MomentaryConfig
	Units          []UnitConfig
	Tramline       map[int]bool // unit ids currently suppressed
	Pattern        Pattern
	DiagonalStepMs int
}

// ScheduleEntry is one planned hardware drive.
type ScheduleEntry struct {
	UnitID       int
	StartMs      int64 // absolute unix milliseconds
	DurationMs   int64 // timed mode only; 0 for flow
	Mode         DeliveryMode
	MsPerMl      float64 // timed mode
	TargetPulses int     // flow mode
	TargetMl     int
}

// StartTime returns the entry's absolute start as a time.Time.
func (e ScheduleEntry) StartTime() time.Time {
	return time.UnixMilli(e.StartMs)
}
