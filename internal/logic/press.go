package logic

import "time"

const (
	// PressWindow is the trailing retention window for press history.
	PressWindow = 15 * time.Second

	// PressCap is the hard cap on retained press entries.
	PressCap = 20

	// PressDebounce is the minimum interval between accepted presses on
	// the same switch (production-grade inputs).
	PressDebounce = 10 * time.Millisecond
)

// Tracker debounces raw switch presses into a bounded, time-ordered
// press history. It is not safe for concurrent use: the daemon loop is
// the single owner.
type Tracker struct {
	window   time.Duration
	cap      int
	debounce time.Duration

	history []time.Time
	last    map[string]time.Time
}

// NewTracker creates a Tracker. Zero arguments select the defaults
// (15 s window, 20 entries, 10 ms debounce).
func NewTracker(window time.Duration, capEntries int, debounce time.Duration) *Tracker {
	if window <= 0 {
		window = PressWindow
	}
	if capEntries <= 0 {
		capEntries = PressCap
	}
	if debounce <= 0 {
		debounce = PressDebounce
	}
	return &Tracker{
		window:   window,
		cap:      capEntries,
		debounce: debounce,
		last:     make(map[string]time.Time),
	}
}

// Press records a press on switch sw at time now. It returns false if the
// press is rejected as contact bounce. An accepted press is appended to
// the history with eviction of entries outside the window and beyond the
// cap.
func (t *Tracker) Press(sw string, now time.Time) bool {
	if last, ok := t.last[sw]; ok && now.Sub(last) < t.debounce {
		return false
	}
	t.last[sw] = now

	t.history = append(t.history, now)
	t.evict(now)
	return true
}

// History returns a copy of the presses within the trailing window.
func (t *Tracker) History(now time.Time) []time.Time {
	t.evict(now)
	out := make([]time.Time, len(t.history))
	copy(out, t.history)
	return out
}

// Len returns the current history length after window eviction.
func (t *Tracker) Len(now time.Time) int {
	t.evict(now)
	return len(t.history)
}

func (t *Tracker) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.history) && !t.history[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.history = append(t.history[:0], t.history[i:]...)
	}
	if n := len(t.history) - t.cap; n > 0 {
		t.history = append(t.history[:0], t.history[n:]...)
	}
}
