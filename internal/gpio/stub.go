//go:build !linux

package gpio

import "errors"

// RealHardware is not available on non-Linux platforms.
type RealHardware struct{}

// NewRealHardware returns an error on non-Linux platforms.
func NewRealHardware(pins Pins) (*RealHardware, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// AssertOutput is not implemented on non-Linux platforms.
func (h *RealHardware) AssertOutput(unit int) error {
	return errors.New("gpio: not supported")
}

// DeassertOutput is not implemented on non-Linux platforms.
func (h *RealHardware) DeassertOutput(unit int) error {
	return errors.New("gpio: not supported")
}

// SetBuzzer is not implemented on non-Linux platforms.
func (h *RealHardware) SetBuzzer(on bool) error {
	return errors.New("gpio: not supported")
}

// ReadAndResetPulses is not implemented on non-Linux platforms.
func (h *RealHardware) ReadAndResetPulses(source int) int {
	return 0
}

// Presses is not implemented on non-Linux platforms.
func (h *RealHardware) Presses() <-chan Press {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (h *RealHardware) Close() error {
	return nil
}
