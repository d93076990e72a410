//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const defaultDebounce = 10 * time.Millisecond

// RealHardware drives actual GPIO lines via the Linux character device.
type RealHardware struct {
	chip     *gpiocdev.Chip
	units    map[int]*gpiocdev.Line
	buzzer   *gpiocdev.Line
	switches map[string]*gpiocdev.Line
	flows    map[int]*gpiocdev.Line
	counters map[int]*PulseCounter
	presses  chan Press
}

// NewRealHardware opens the GPIO chip and requests all configured lines.
// Outputs start deasserted. Momentary switches are requested with
// falling-edge detection and hardware debounce; flow inputs feed per-source
// pulse counters.
func NewRealHardware(pins Pins) (*RealHardware, error) {
	chipName := pins.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	debounce := pins.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	h := &RealHardware{
		chip:     chip,
		units:    make(map[int]*gpiocdev.Line),
		switches: make(map[string]*gpiocdev.Line),
		flows:    make(map[int]*gpiocdev.Line),
		counters: make(map[int]*PulseCounter),
		presses:  make(chan Press, 16),
	}

	for unit, offset := range pins.Units {
		if offset < 0 {
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("request unit %d output %d: %w", unit, offset, err)
		}
		h.units[unit] = line
	}

	if pins.Buzzer >= 0 {
		line, err := chip.RequestLine(pins.Buzzer, gpiocdev.AsOutput(0))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("request buzzer output %d: %w", pins.Buzzer, err)
		}
		h.buzzer = line
	}

	for name, offset := range pins.Switches {
		if offset < 0 {
			continue
		}
		sw := name
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(debounce),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				// Drop edges if the consumer is behind rather than block
				// the event goroutine.
				select {
				case h.presses <- Press{Switch: sw, Time: time.Now()}:
				default:
				}
			}))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("request switch %s input %d: %w", name, offset, err)
		}
		h.switches[name] = line
	}

	for source, offset := range pins.Flow {
		if offset < 0 {
			continue
		}
		counter := &PulseCounter{}
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				counter.Add(1)
			}))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("request flow source %d input %d: %w", source, offset, err)
		}
		h.flows[source] = line
		h.counters[source] = counter
	}

	return h, nil
}

// AssertOutput energises a unit's valve output.
func (h *RealHardware) AssertOutput(unit int) error {
	line, ok := h.units[unit]
	if !ok {
		return fmt.Errorf("unit %d: no output line mapped", unit)
	}
	if err := line.SetValue(1); err != nil {
		return fmt.Errorf("assert unit %d: %w", unit, err)
	}
	return nil
}

// DeassertOutput releases a unit's valve output.
func (h *RealHardware) DeassertOutput(unit int) error {
	line, ok := h.units[unit]
	if !ok {
		return fmt.Errorf("unit %d: no output line mapped", unit)
	}
	if err := line.SetValue(0); err != nil {
		return fmt.Errorf("deassert unit %d: %w", unit, err)
	}
	return nil
}

// SetBuzzer turns the buzzer on or off. A missing buzzer line is a no-op.
func (h *RealHardware) SetBuzzer(on bool) error {
	if h.buzzer == nil {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := h.buzzer.SetValue(v); err != nil {
		return fmt.Errorf("buzzer: %w", err)
	}
	return nil
}

// ReadAndResetPulses drains a flow source's counter. Unknown sources fall
// back to the shared meter.
func (h *RealHardware) ReadAndResetPulses(source int) int {
	c, ok := h.counters[source]
	if !ok {
		c, ok = h.counters[SharedFlowSource]
		if !ok {
			return 0
		}
	}
	return c.ReadAndReset()
}

// Presses delivers debounced switch edges.
func (h *RealHardware) Presses() <-chan Press {
	return h.presses
}

// Close deasserts every output and releases all lines and the chip.
func (h *RealHardware) Close() error {
	var errs []error

	for unit, line := range h.units {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("deassert unit %d: %w", unit, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close unit %d: %w", unit, err))
		}
	}
	if h.buzzer != nil {
		if err := h.buzzer.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("buzzer off: %w", err))
		}
		if err := h.buzzer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close buzzer: %w", err))
		}
	}
	for name, line := range h.switches {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close switch %s: %w", name, err))
		}
	}
	for source, line := range h.flows {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow %d: %w", source, err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
