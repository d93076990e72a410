package mqtt

import (
	"sync"
	"time"

	"github.com/evencrop/brain/internal/logic"
)

// FakePublisher records published events in memory for testing.
type FakePublisher struct {
	mu sync.Mutex

	delays     []int
	cycles     [][]logic.ScheduleEntry
	actuations []ActuationResult
	system     []SystemEvent
	payloads   [][]byte

	// PublishError, when set, is returned by every Publish method.
	PublishError error

	connected bool
	closed    bool
}

// NewFakePublisher creates a fake publisher that starts connected.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true}
}

func (f *FakePublisher) PublishDelay(ms int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.delays = append(f.delays, ms)
	payload, _ := FormatDelayPayload(ms, at)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) PublishCycle(entries []logic.ScheduleEntry, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	cp := make([]logic.ScheduleEntry, len(entries))
	copy(cp, entries)
	f.cycles = append(f.cycles, cp)
	payload, _ := FormatCyclePayload(entries, at)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) PublishActuation(unit int, outcome string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.actuations = append(f.actuations, ActuationResult{Unit: unit, Outcome: outcome})
	payload, _ := FormatActuationPayload(unit, outcome, at)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.system = append(f.system, event)
	payload, _ := FormatSystemPayload(event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.closed
}

// SetConnected changes the reported connection state.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Delays returns all published delay values in order.
func (f *FakePublisher) Delays() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.delays))
	copy(out, f.delays)
	return out
}

// Cycles returns all published cycles in order.
func (f *FakePublisher) Cycles() [][]logic.ScheduleEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]logic.ScheduleEntry, len(f.cycles))
	copy(out, f.cycles)
	return out
}

// Actuations returns all published actuation results in order.
func (f *FakePublisher) Actuations() []ActuationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ActuationResult, len(f.actuations))
	copy(out, f.actuations)
	return out
}

// SystemEvents returns all published system events in order.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SystemEvent, len(f.system))
	copy(out, f.system)
	return out
}

// Payloads returns the serialized payload of every published message.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.payloads))
	copy(out, f.payloads)
	return out
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = nil
	f.cycles = nil
	f.actuations = nil
	f.system = nil
	f.payloads = nil
}
