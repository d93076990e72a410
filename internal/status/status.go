// Package status provides a thread-safe status tracker for the brain
// daemon. It is read by HTTP handlers and serialized into MQTT system
// events.
package status

import (
	"sync"
	"time"
)

// UnitStatus is the displayed state of one delivery unit.
type UnitStatus struct {
	State       string // task state: IDLE, SCHEDULED, ACTIVE, CANCELLED
	LastOutcome string // how the last actuation ended
	DeliveredMl int    // volume delivered in the last cycle
	Tramlined   bool
}

// Counters accumulates daemon event counts since startup.
type Counters struct {
	Presses   int
	Cycles    int
	Conflicts int
	Faults    int
}

// Config contains daemon configuration for display.
type Config struct {
	DelayTickMs int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	DelayMs       int
	Pattern       string
	TargetMl      int
	DeliveryMode  string
	Units         map[int]UnitStatus
	Counts        Counters
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Units:     make(map[int]UnitStatus),
		},
	}
}

// UpdatePlan sets the cycle-planning inputs shown on the status page.
func (t *Tracker) UpdatePlan(delayMs, targetMl int, pattern, mode string) {
	t.mu.Lock()
	t.snap.DelayMs = delayMs
	t.snap.TargetMl = targetMl
	t.snap.Pattern = pattern
	t.snap.DeliveryMode = mode
	t.mu.Unlock()
}

// SetUnit sets the displayed state of one unit.
func (t *Tracker) SetUnit(id int, st UnitStatus) {
	t.mu.Lock()
	t.snap.Units[id] = st
	t.mu.Unlock()
}

// SetUnitTramlined flips only the tramline flag, preserving the unit's
// other displayed fields.
func (t *Tracker) SetUnitTramlined(id int, off bool) {
	t.mu.Lock()
	u := t.snap.Units[id]
	u.Tramlined = off
	t.snap.Units[id] = u
	t.mu.Unlock()
}

// SetCounts replaces the event counters.
func (t *Tracker) SetCounts(c Counters) {
	t.mu.Lock()
	t.snap.Counts = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	units := make(map[int]UnitStatus, len(t.snap.Units))
	for id, u := range t.snap.Units {
		units[id] = u
	}
	t.mu.RUnlock()
	s.Units = units
	s.Now = time.Now()
	return s
}
