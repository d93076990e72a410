package gpio

import "sync/atomic"

// PulseCounter accumulates flow-meter pulses. Increments come from edge
// callbacks; ReadAndReset is a single atomic step, so counts arriving
// between the read and the reset are never lost or double-counted.
type PulseCounter struct {
	n atomic.Int64
}

// Add records n pulses.
func (c *PulseCounter) Add(n int) {
	c.n.Add(int64(n))
}

// ReadAndReset returns the pulses accumulated since the previous call and
// resets the counter to zero.
func (c *PulseCounter) ReadAndReset() int {
	return int(c.n.Swap(0))
}
