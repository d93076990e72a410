// Package mqtt publishes brain events to the transport broker with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/evencrop/brain/internal/logic"
)

// TopicEvents is the MQTT topic for delivery-cycle events.
const TopicEvents = "evencrop/brain/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "evencrop/brain/system"

// Publisher publishes brain events to the broker.
type Publisher interface {
	// PublishDelay announces a changed auto-delay value.
	PublishDelay(ms int, at time.Time) error

	// PublishCycle announces a planned delivery cycle.
	PublishCycle(entries []logic.ScheduleEntry, at time.Time) error

	// PublishActuation announces a finished unit actuation.
	PublishActuation(unit int, outcome string, at time.Time) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown,
// heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted payload; returned directly when set
	Retained   bool
}

// Envelope is the payload structure on TopicEvents.
type Envelope struct {
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp"`
	DelayMs   *int             `json:"delayMs,omitempty"`
	Cycle     []CycleEntry     `json:"cycle,omitempty"`
	Actuation *ActuationResult `json:"actuation,omitempty"`
}

// CycleEntry is one scheduled drive in a cycle event.
type CycleEntry struct {
	Unit         int    `json:"unit"`
	StartMs      int64  `json:"startMs"`
	Mode         string `json:"mode"`
	DurationMs   int64  `json:"durationMs,omitempty"`
	TargetPulses int    `json:"targetPulses,omitempty"`
	TargetMl     int    `json:"targetMl"`
}

// ActuationResult reports how a unit's actuation ended.
type ActuationResult struct {
	Unit    int    `json:"unit"`
	Outcome string `json:"outcome"`
}

// FormatDelayPayload creates the JSON payload for a delay-changed event.
func FormatDelayPayload(ms int, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      "auto-delay",
		Timestamp: at.UTC().Format(time.RFC3339),
		DelayMs:   &ms,
	})
}

// FormatCyclePayload creates the JSON payload for a cycle-scheduled event.
func FormatCyclePayload(entries []logic.ScheduleEntry, at time.Time) ([]byte, error) {
	cycle := make([]CycleEntry, len(entries))
	for i, e := range entries {
		cycle[i] = CycleEntry{
			Unit:         e.UnitID,
			StartMs:      e.StartMs,
			Mode:         string(e.Mode),
			DurationMs:   e.DurationMs,
			TargetPulses: e.TargetPulses,
			TargetMl:     e.TargetMl,
		}
	}
	return json.Marshal(Envelope{
		Type:      "cycle",
		Timestamp: at.UTC().Format(time.RFC3339),
		Cycle:     cycle,
	})
}

// FormatActuationPayload creates the JSON payload for a completed
// actuation event.
func FormatActuationPayload(unit int, outcome string, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      "actuation",
		Timestamp: at.UTC().Format(time.RFC3339),
		Actuation: &ActuationResult{Unit: unit, Outcome: outcome},
	})
}

// SystemPayload is the payload structure on TopicSystem for simple events
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event. If
// event.RawPayload is set, it is returned directly (used for full status
// snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
