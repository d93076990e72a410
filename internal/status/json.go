package status

import (
	"encoding/json"
	"sort"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	DelayMs       int        `json:"delay_ms"`
	Pattern       string     `json:"pattern"`
	TargetMl      int        `json:"target_ml"`
	DeliveryMode  string     `json:"delivery_mode"`
	Units         []UnitJSON `json:"units"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// UnitJSON is the JSON representation of one unit's state.
type UnitJSON struct {
	ID          int    `json:"id"`
	State       string `json:"state"`
	LastOutcome string `json:"last_outcome,omitempty"`
	DeliveredMl int    `json:"delivered_ml"`
	Tramlined   bool   `json:"tramlined"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Presses   int `json:"presses"`
	Cycles    int `json:"cycles"`
	Conflicts int `json:"conflicts"`
	Faults    int `json:"faults"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DelayTickMs int64  `json:"delay_tick_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	pattern := snap.Pattern
	if pattern == "" {
		pattern = "UNKNOWN"
	}
	mode := snap.DeliveryMode
	if mode == "" {
		mode = "UNKNOWN"
	}

	units := make([]UnitJSON, 0, len(snap.Units))
	for id, u := range snap.Units {
		state := u.State
		if state == "" {
			state = "IDLE"
		}
		units = append(units, UnitJSON{
			ID:          id,
			State:       state,
			LastOutcome: u.LastOutcome,
			DeliveredMl: u.DeliveredMl,
			Tramlined:   u.Tramlined,
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	return StatusInner{
		DelayMs:       snap.DelayMs,
		Pattern:       pattern,
		TargetMl:      snap.TargetMl,
		DeliveryMode:  mode,
		Units:         units,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Presses:   snap.Counts.Presses,
			Cycles:    snap.Counts.Cycles,
			Conflicts: snap.Counts.Conflicts,
			Faults:    snap.Counts.Faults,
		},
		Config: ConfigJSON{
			DelayTickMs: snap.Config.DelayTickMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
