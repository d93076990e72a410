// Package actuate executes planned hardware drives: one task slot per
// unit, absolute-time waits, cooperative cancellation, and guaranteed
// output release on every exit path.
package actuate

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/evencrop/brain/internal/logic"
)

// Hardware is the subset of hardware capability the manager drives. This
// is a local interface so the package depends only on what it uses; the
// gpio implementations satisfy it.
type Hardware interface {
	AssertOutput(unit int) error
	DeassertOutput(unit int) error
	SetBuzzer(on bool) error
	ReadAndResetPulses(source int) int
}

// TaskState is the per-unit actuation state.
type TaskState int

const (
	Idle TaskState = iota
	Scheduled
	Active
	Cancelled
)

func (s TaskState) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Active:
		return "active"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Outcome describes how an actuation task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFault     Outcome = "fault"   // hardware assert failed after retries
	OutcomeCeiling   Outcome = "ceiling" // flow safety ceiling elapsed
)

// DoneFunc is called from the task goroutine when an actuation ends.
type DoneFunc func(unit int, outcome Outcome)

// Config tunes the manager. Zero values select the defaults.
type Config struct {
	// FlowPoll is the pulse-accumulator polling interval in flow mode.
	FlowPoll time.Duration // default 20ms

	// CeilingMult and WorstPulseInterval bound a runaway flow delivery:
	// the safety ceiling is CeilingMult x targetPulses x WorstPulseInterval.
	CeilingMult        int           // default 4
	WorstPulseInterval time.Duration // default 50ms

	// Retries is the number of times a failed hardware assert/deassert is
	// retried before the unit is faulted.
	Retries    int           // default 2
	RetryDelay time.Duration // default 25ms

	// Tramlined, when set, is re-checked at schedule receipt and again
	// before the output is asserted.
	Tramlined func(unit int) bool

	// Mutes supplies the buzzer (soft, hard) mute flags, read at
	// assertion time.
	Mutes func() (muted, hardMuted bool)

	// OnDone is invoked as each task ends.
	OnDone DoneFunc
}

func (c Config) withDefaults() Config {
	if c.FlowPoll <= 0 {
		c.FlowPoll = 20 * time.Millisecond
	}
	if c.CeilingMult <= 0 {
		c.CeilingMult = 4
	}
	if c.WorstPulseInterval <= 0 {
		c.WorstPulseInterval = 50 * time.Millisecond
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 25 * time.Millisecond
	}
	return c
}

// Manager owns the per-unit actuation slots. At most one non-Idle task
// exists per unit at any time.
type Manager struct {
	hw  Hardware
	cfg Config

	mu        sync.Mutex
	tasks     map[int]*task
	conflicts int

	wg sync.WaitGroup
}

type task struct {
	state  TaskState
	cancel context.CancelFunc
}

// New creates a Manager driving the given hardware.
func New(hw Hardware, cfg Config) *Manager {
	return &Manager{
		hw:    hw,
		cfg:   cfg.withDefaults(),
		tasks: make(map[int]*task),
	}
}

// Schedule accepts a cycle's entries and spawns one task per unit. An
// entry for a unit that is already non-Idle is dropped and counted
// (overlap guard); an entry for a unit tramlined off since planning is
// dropped silently. Returns the number of tasks actually scheduled.
func (m *Manager) Schedule(ctx context.Context, entries []logic.ScheduleEntry) int {
	scheduled := 0
	for _, e := range entries {
		if m.cfg.Tramlined != nil && m.cfg.Tramlined(e.UnitID) {
			continue
		}

		m.mu.Lock()
		if _, busy := m.tasks[e.UnitID]; busy {
			m.conflicts++
			m.mu.Unlock()
			continue
		}
		tctx, cancel := context.WithCancel(ctx)
		t := &task{state: Scheduled, cancel: cancel}
		m.tasks[e.UnitID] = t
		m.mu.Unlock()

		m.wg.Add(1)
		go m.run(tctx, t, e)
		scheduled++
	}
	return scheduled
}

func (m *Manager) run(ctx context.Context, t *task, e logic.ScheduleEntry) {
	defer m.wg.Done()
	outcome := m.drive(ctx, t, e)

	m.mu.Lock()
	if m.tasks[e.UnitID] == t {
		delete(m.tasks, e.UnitID)
	}
	if outcome == OutcomeCancelled {
		t.state = Cancelled
	} else {
		t.state = Idle
	}
	m.mu.Unlock()

	if m.cfg.OnDone != nil {
		m.cfg.OnDone(e.UnitID, outcome)
	}
}

func (m *Manager) drive(ctx context.Context, t *task, e logic.ScheduleEntry) Outcome {
	// Wait for the absolute start. A start already in the past fires
	// immediately: a valve firing late beats a silently skipped cycle.
	if wait := time.Until(e.StartTime()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-timer.C:
		}
	}

	if m.cfg.Tramlined != nil && m.cfg.Tramlined(e.UnitID) {
		return OutcomeCancelled
	}

	m.setState(t, Active)

	if err := m.withRetry(func() error { return m.hw.AssertOutput(e.UnitID) }); err != nil {
		log.Printf("unit %d: assert failed after retries: %v", e.UnitID, err)
		// Leave the output in a known-safe state.
		m.deassert(e.UnitID)
		return OutcomeFault
	}
	// Guaranteed release: runs on completion, cancellation mid-wait, and
	// panic alike. Exactly one deassert per successful assert.
	defer m.deassert(e.UnitID)

	if e.Mode == logic.ModeTimed {
		timer := time.NewTimer(time.Duration(e.DurationMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-timer.C:
			return OutcomeCompleted
		}
	}
	return m.driveFlow(ctx, e)
}

// driveFlow holds the output while polling the unit's pulse accumulator,
// cutting off at the target pulse count or at the safety ceiling if the
// meter stalls.
func (m *Manager) driveFlow(ctx context.Context, e logic.ScheduleEntry) Outcome {
	target := e.TargetPulses
	if target < 1 {
		target = 1
	}
	ceiling := time.Duration(m.cfg.CeilingMult) * time.Duration(target) * m.cfg.WorstPulseInterval

	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.FlowPoll)
	defer ticker.Stop()

	got := 0
	for {
		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-deadline.C:
			log.Printf("unit %d: flow safety ceiling after %v (%d/%d pulses)", e.UnitID, ceiling, got, target)
			return OutcomeCeiling
		case <-ticker.C:
			got += m.hw.ReadAndResetPulses(e.UnitID)
			if got >= target {
				return OutcomeCompleted
			}
		}
	}
}

func (m *Manager) deassert(unit int) {
	if err := m.withRetry(func() error { return m.hw.DeassertOutput(unit) }); err != nil {
		log.Printf("unit %d: deassert failed after retries: %v", unit, err)
	}
}

func (m *Manager) withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt <= m.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.cfg.RetryDelay)
		}
		if err = op(); err == nil {
			return nil
		}
	}
	return err
}

func (m *Manager) setState(t *task, s TaskState) {
	m.mu.Lock()
	t.state = s
	m.mu.Unlock()
}

// State returns the unit's current task state (Idle when no task holds
// the slot).
func (m *Manager) State(unit int) TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[unit]; ok {
		return t.state
	}
	return Idle
}

// Cancel cancels the unit's task, if any. Used for explicit stops and for
// tramline-off toggles; the task's deferred release deasserts the output.
func (m *Manager) Cancel(unit int) {
	m.mu.Lock()
	t := m.tasks[unit]
	m.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// CancelAll cancels every in-flight task and waits for the outputs to be
// released.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	for _, t := range m.tasks {
		t.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Conflicts returns the number of schedule entries dropped by the overlap
// guard.
func (m *Manager) Conflicts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflicts
}

// Beep drives the buzzer for d with the same assert/hold/deassert
// discipline as valve outputs. Mute flags are read at assertion time:
// hard mute suppresses everything including maintenance beeps, soft mute
// suppresses only cycle beeps.
func (m *Manager) Beep(ctx context.Context, d time.Duration, maintenance bool) error {
	if m.cfg.Mutes != nil {
		muted, hard := m.cfg.Mutes()
		if hard || (muted && !maintenance) {
			return nil
		}
	}

	if err := m.hw.SetBuzzer(true); err != nil {
		return err
	}
	defer m.hw.SetBuzzer(false)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}
