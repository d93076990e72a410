package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/evencrop/brain/internal/actuate"
	"github.com/evencrop/brain/internal/config"
	"github.com/evencrop/brain/internal/gpio"
	"github.com/evencrop/brain/internal/logic"
	"github.com/evencrop/brain/internal/mqtt"
	"github.com/evencrop/brain/internal/state"
	"github.com/evencrop/brain/internal/status"
)

func newTestDaemon(t *testing.T) (*daemon, *gpio.FakeHardware, *mqtt.FakePublisher) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}

	hw := gpio.NewFakeHardware()
	pub := mqtt.NewFakePublisher()

	cfg := config.Default()
	cfg.Timing.CycleBeep = 0 // keep beeps out of recorded ops

	done := make(chan doneEvent, 2*logic.MaxUnits)
	manager := actuate.New(hw, actuate.Config{
		FlowPoll:           2 * time.Millisecond,
		WorstPulseInterval: time.Millisecond,
		RetryDelay:         time.Millisecond,
		Tramlined:          store.Tramlined,
		Mutes:              store.BuzzerMutes,
		OnDone: func(unit int, outcome actuate.Outcome) {
			select {
			case done <- doneEvent{unit: unit, outcome: outcome}:
			default:
			}
		},
	})
	t.Cleanup(manager.CancelAll)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := &daemon{
		cfg:        cfg,
		store:      store,
		hw:         hw,
		manager:    manager,
		publisher:  pub,
		connStat:   pub,
		tracker:    status.NewTracker(time.Now(), status.Config{Broker: cfg.Broker}),
		presses:    logic.NewTracker(cfg.Timing.PressWindow, cfg.Timing.PressCap, cfg.Timing.Debounce),
		done:       done,
		lastTarget: make(map[int]int),
		ctx:        ctx,
		now:        time.Now,
	}
	d.seedUnits()
	return d, hw, pub
}

func TestSeedUnitsPopulatesTracker(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	snap := d.tracker.Snapshot()
	if len(snap.Units) != logic.MaxUnits {
		t.Errorf("seeded units: got %d, want %d", len(snap.Units), logic.MaxUnits)
	}
	if snap.DelayMs != 500 {
		t.Errorf("seeded delay: got %d, want 500", snap.DelayMs)
	}
	if snap.Pattern != "diamond" {
		t.Errorf("seeded pattern: got %q, want diamond", snap.Pattern)
	}
}

func TestHandlePressSchedulesAndPublishes(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	d.handlePress(gpio.Press{Switch: "M1", Time: time.Now()})

	cycles := pub.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("cycles published: got %d, want 1", len(cycles))
	}
	// Default state enables units 1-4.
	if len(cycles[0]) != 4 {
		t.Errorf("cycle entries: got %d, want 4", len(cycles[0]))
	}
	if d.counts.Presses != 1 || d.counts.Cycles != 1 {
		t.Errorf("counts: got %+v", d.counts)
	}

	snap := d.tracker.Snapshot()
	if snap.Counts.Presses != 1 {
		t.Errorf("tracker presses: got %d, want 1", snap.Counts.Presses)
	}
}

func TestHandlePressBounceRejected(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	now := time.Now()
	d.handlePress(gpio.Press{Switch: "M1", Time: now})
	d.handlePress(gpio.Press{Switch: "M1", Time: now.Add(time.Millisecond)})

	if len(pub.Cycles()) != 1 {
		t.Errorf("cycles published: got %d, want 1 (bounce rejected)", len(pub.Cycles()))
	}
	if d.counts.Presses != 1 {
		t.Errorf("presses: got %d, want 1", d.counts.Presses)
	}
}

func TestHandleDelayTickPublishesOnChange(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	// Presses 2s apart: half the mean interval is 1000ms, differing from
	// the persisted 500ms.
	t0 := time.Now()
	d.presses.Press("M1", t0)
	d.presses.Press("M1", t0.Add(2*time.Second))
	d.presses.Press("M1", t0.Add(4*time.Second))

	d.handleDelayTick(t0.Add(4 * time.Second))

	if delays := pub.Delays(); len(delays) != 1 || delays[0] != 1000 {
		t.Fatalf("delays published: got %v, want [1000]", delays)
	}
	if ms := d.store.Snapshot().AutoDelay.CurrentMs; ms != 1000 {
		t.Errorf("persisted delay: got %d, want 1000", ms)
	}
	if d.tracker.Snapshot().DelayMs != 1000 {
		t.Errorf("tracker delay: got %d, want 1000", d.tracker.Snapshot().DelayMs)
	}

	// Unchanged on the next tick: publication is edge-triggered.
	d.handleDelayTick(t0.Add(4*time.Second + time.Millisecond))
	if delays := pub.Delays(); len(delays) != 1 {
		t.Errorf("delays after second tick: got %v, want still 1 entry", delays)
	}
}

func TestHandleDoneCompleted(t *testing.T) {
	d, _, pub := newTestDaemon(t)
	d.lastTarget[3] = 100

	d.handleDone(doneEvent{unit: 3, outcome: actuate.OutcomeCompleted})

	acts := pub.Actuations()
	if len(acts) != 1 || acts[0].Unit != 3 || acts[0].Outcome != "completed" {
		t.Fatalf("actuations: got %v", acts)
	}
	u := d.tracker.Snapshot().Units[3]
	if u.LastOutcome != "completed" || u.DeliveredMl != 100 || u.State != "IDLE" {
		t.Errorf("tracker unit 3: got %+v", u)
	}
}

func TestHandleDoneFault(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	d.handleDone(doneEvent{unit: 2, outcome: actuate.OutcomeFault})

	if d.counts.Faults != 1 {
		t.Errorf("faults: got %d, want 1", d.counts.Faults)
	}
	acts := pub.Actuations()
	if len(acts) != 1 || acts[0].Outcome != "fault" {
		t.Fatalf("actuations: got %v", acts)
	}
	if u := d.tracker.Snapshot().Units[2]; u.LastOutcome != "fault" {
		t.Errorf("tracker unit 2: got %+v", u)
	}
}

func TestHandleHeartbeatPublishesStatus(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	d.handleHeartbeat()

	events := pub.SystemEvents()
	if len(events) != 1 || events[0].Event != "HEARTBEAT" {
		t.Fatalf("system events: got %v", events)
	}

	var raw map[string]any
	if err := json.Unmarshal(events[0].RawPayload, &raw); err != nil {
		t.Fatalf("heartbeat payload: %v", err)
	}
	st := raw["status"].(map[string]any)
	if st["event"] != "HEARTBEAT" {
		t.Errorf("payload event: got %v", st["event"])
	}
}

func TestTramlineSuppressCancelsInFlight(t *testing.T) {
	d, hw, _ := newTestDaemon(t)

	// A long timed drive on unit 1, started immediately.
	entry := logic.ScheduleEntry{
		UnitID:     1,
		StartMs:    time.Now().UnixMilli(),
		Mode:       logic.ModeTimed,
		DurationMs: 5000,
	}
	if n := d.manager.Schedule(d.ctx, []logic.ScheduleEntry{entry}); n != 1 {
		t.Fatalf("schedule: got %d, want 1", n)
	}

	deadline := time.After(time.Second)
	for !hw.OutputOn(1) {
		select {
		case <-deadline:
			t.Fatal("unit 1 never asserted")
		case <-time.After(time.Millisecond):
		}
	}

	if err := d.tramline(1, true); err != nil {
		t.Fatalf("tramline: %v", err)
	}

	select {
	case ev := <-d.done:
		if ev.unit != 1 || ev.outcome != actuate.OutcomeCancelled {
			t.Errorf("done event: got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no done event after tramline cancel")
	}
	if hw.OutputOn(1) {
		t.Error("unit 1 still asserted after tramline cancel")
	}
	if !d.store.Tramlined(1) {
		t.Error("unit 1 not persisted as tramlined")
	}
	if !d.tracker.Snapshot().Units[1].Tramlined {
		t.Error("tracker does not show unit 1 tramlined")
	}

	// Idempotent: repeating the toggle is a no-op.
	if err := d.tramline(1, true); err != nil {
		t.Fatalf("repeat tramline: %v", err)
	}
}

func TestLoopShutdownSIGTERM(t *testing.T) {
	d, _, pub := newTestDaemon(t)

	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.loop(sig, nil, nil)
	}()

	sig <- syscall.SIGTERM

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("loop returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on SIGTERM")
	}

	events := pub.SystemEvents()
	if len(events) != 1 {
		t.Fatalf("system events: got %d, want 1", len(events))
	}
	se := events[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" {
		t.Errorf("shutdown event: got %+v", se)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}
}

func TestLoopPressToActuation(t *testing.T) {
	d, hw, pub := newTestDaemon(t)

	// Timed mode with short per-unit durations keeps the cycle fast.
	if err := d.store.SetDeliveryMode(logic.ModeTimed); err != nil {
		t.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.loop(sig, nil, nil)
	}()

	hw.SimulatePress("M1")

	// Unit 1 (group A) is driven as soon as the press lands.
	deadline := time.After(2 * time.Second)
	for !hw.OutputOn(1) {
		select {
		case <-deadline:
			t.Fatal("unit 1 never asserted after press")
		case <-time.After(time.Millisecond):
		}
	}

	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("loop returned error: %v", err)
	}

	// Shutdown cancelled the in-flight drives and released the outputs.
	if hw.OutputOn(1) {
		t.Error("unit 1 still asserted after shutdown")
	}
	if len(pub.Cycles()) != 1 {
		t.Errorf("cycles published: got %d, want 1", len(pub.Cycles()))
	}
}
