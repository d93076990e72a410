package gpio

import (
	"errors"
	"sync"
	"time"
)

// FakeHardware is a test double recording output operations and
// simulating switch presses and flow pulses.
type FakeHardware struct {
	mu       sync.Mutex
	on       map[int]bool
	buzzerOn bool
	ops      []Op
	counters map[int]*PulseCounter
	presses  chan Press
	closed   bool

	// AssertErr, if set, is returned by AssertOutput.
	AssertErr error

	// DeassertErr, if set, is returned by DeassertOutput.
	DeassertErr error

	// FailAsserts makes the next N AssertOutput calls fail with AssertErr
	// (or a generic error) before succeeding; exercises retry paths.
	FailAsserts int
}

// Op records a single output transition.
type Op struct {
	Unit int // -1 for the buzzer
	On   bool
	At   time.Time
}

// NewFakeHardware creates a FakeHardware.
func NewFakeHardware() *FakeHardware {
	return &FakeHardware{
		on:       make(map[int]bool),
		counters: make(map[int]*PulseCounter),
		presses:  make(chan Press, 16),
	}
}

// AssertOutput records the unit turning on.
func (f *FakeHardware) AssertOutput(unit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAsserts > 0 {
		f.FailAsserts--
		if f.AssertErr != nil {
			return f.AssertErr
		}
		return errAssertFailed
	}
	if f.AssertErr != nil {
		return f.AssertErr
	}
	f.on[unit] = true
	f.ops = append(f.ops, Op{Unit: unit, On: true, At: time.Now()})
	return nil
}

// DeassertOutput records the unit turning off.
func (f *FakeHardware) DeassertOutput(unit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeassertErr != nil {
		return f.DeassertErr
	}
	f.on[unit] = false
	f.ops = append(f.ops, Op{Unit: unit, On: false, At: time.Now()})
	return nil
}

// SetBuzzer records the buzzer state.
func (f *FakeHardware) SetBuzzer(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buzzerOn = on
	f.ops = append(f.ops, Op{Unit: -1, On: on, At: time.Now()})
	return nil
}

// ReadAndResetPulses drains the counter for a source, falling back to the
// shared source like the real hardware.
func (f *FakeHardware) ReadAndResetPulses(source int) int {
	f.mu.Lock()
	c, ok := f.counters[source]
	if !ok {
		c, ok = f.counters[SharedFlowSource]
	}
	f.mu.Unlock()
	if !ok {
		return 0
	}
	return c.ReadAndReset()
}

// Presses delivers simulated switch edges.
func (f *FakeHardware) Presses() <-chan Press {
	return f.presses
}

// Close marks the hardware closed.
func (f *FakeHardware) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SimulatePress emits a debounced edge for a switch, as if a human pressed
// and released it after SimulatedRelease.
func (f *FakeHardware) SimulatePress(sw string) {
	f.presses <- Press{Switch: sw, Time: time.Now()}
}

// SimulateFlowPulses adds pulses to a source's counter, creating it on
// first use.
func (f *FakeHardware) SimulateFlowPulses(source, n int) {
	f.mu.Lock()
	c, ok := f.counters[source]
	if !ok {
		c = &PulseCounter{}
		f.counters[source] = c
	}
	f.mu.Unlock()
	c.Add(n)
}

// OutputOn reports whether a unit's output is currently asserted.
func (f *FakeHardware) OutputOn(unit int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on[unit]
}

// BuzzerOn reports whether the buzzer is currently on.
func (f *FakeHardware) BuzzerOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buzzerOn
}

// Ops returns a copy of the recorded output transitions.
func (f *FakeHardware) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Op, len(f.ops))
	copy(out, f.ops)
	return out
}

// Closed reports whether Close was called.
func (f *FakeHardware) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errAssertFailed = errors.New("fake: assert failed")
