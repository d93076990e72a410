// Package gpio isolates all hardware I/O behind a small interface so the
// rest of the brain runs unchanged on a dev machine (fake) or on a
// Raspberry Pi (real, Linux GPIO character device).
package gpio

import "time"

// Hardware drives the irrigation hardware: valve outputs, the buzzer,
// momentary switch edges, and flow-meter pulse counting.
type Hardware interface {
	// AssertOutput energises the output line for a unit.
	AssertOutput(unit int) error

	// DeassertOutput releases the output line for a unit. Callers must
	// deassert exactly once per assert, on every path.
	DeassertOutput(unit int) error

	// SetBuzzer turns the buzzer output on or off.
	SetBuzzer(on bool) error

	// ReadAndResetPulses atomically returns the pulses accumulated on a
	// flow source since the previous read and resets the counter. Sources
	// without a dedicated meter fall back to the shared source 0.
	ReadAndResetPulses(source int) int

	// Presses delivers debounced momentary switch edges.
	Presses() <-chan Press

	// Close releases all hardware resources with outputs deasserted.
	Close() error
}

// Press is a debounced falling edge on a momentary switch.
type Press struct {
	Switch string // "M1".."M3"
	Time   time.Time
}

// SharedFlowSource is the pulse-counter key for a single shared flow
// meter feeding all units.
const SharedFlowSource = 0

// SimulatedRelease models a human releasing a simulated press; the fake
// hardware holds a switch "down" for this long.
const SimulatedRelease = 50 * time.Millisecond

// Pins maps hardware roles to GPIO line offsets (BCM numbering).
// A negative offset leaves that role unwired.
type Pins struct {
	Chip     string         // e.g. "gpiochip0"
	Units    map[int]int    // unit id -> offset
	Buzzer   int            // buzzer output offset
	Switches map[string]int // "M1".."M3" -> offset
	Flow     map[int]int    // flow source id -> offset (0 = shared meter)
	Debounce time.Duration  // switch debounce, default 10ms
}
