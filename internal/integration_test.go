package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evencrop/brain/internal/actuate"
	"github.com/evencrop/brain/internal/gpio"
	"github.com/evencrop/brain/internal/logic"
	"github.com/evencrop/brain/internal/mqtt"
)

func fastManager(t *testing.T, hw *gpio.FakeHardware, tramlined func(int) bool, done chan actuate.Outcome) *actuate.Manager {
	t.Helper()
	m := actuate.New(hw, actuate.Config{
		FlowPoll:           2 * time.Millisecond,
		WorstPulseInterval: 2 * time.Millisecond,
		RetryDelay:         time.Millisecond,
		Tramlined:          tramlined,
		OnDone: func(unit int, outcome actuate.Outcome) {
			done <- outcome
		},
	})
	t.Cleanup(m.CancelAll)
	return m
}

func waitOutcomes(t *testing.T, done chan actuate.Outcome, n int) []actuate.Outcome {
	t.Helper()
	out := make([]actuate.Outcome, 0, n)
	for i := 0; i < n; i++ {
		select {
		case o := <-done:
			out = append(out, o)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d tasks finished", i, n)
		}
	}
	return out
}

// TestIntegrationPressToTimedDelivery drives the full path with fakes: a
// planned diamond cycle executed as timed deliveries, every output
// released, and the cycle published.
func TestIntegrationPressToTimedDelivery(t *testing.T) {
	hw := gpio.NewFakeHardware()
	pub := mqtt.NewFakePublisher()
	done := make(chan actuate.Outcome, logic.MaxUnits)
	m := fastManager(t, hw, nil, done)

	snap := logic.Snapshot{
		TargetMl:     10,
		DeliveryMode: logic.ModeTimed,
		AutoDelay:    logic.AutoDelayConfig{Enabled: true, CurrentMs: 30},
		Pattern:      logic.PatternDiamond,
		Units: []logic.UnitConfig{
			{ID: 1, Enabled: true, Group: logic.GroupA, Mode: logic.ModeInherit, MsPerMl: 2},
			{ID: 2, Enabled: true, Group: logic.GroupB, Mode: logic.ModeInherit, MsPerMl: 2},
		},
	}

	pressAt := time.Now()
	entries := logic.PlanCycle(snap, pressAt.UnixMilli())
	if len(entries) != 2 {
		t.Fatalf("planned %d entries, want 2", len(entries))
	}
	// Diamond: group A fires at the press, group B after the current delay.
	if entries[0].UnitID != 1 || entries[0].StartMs != pressAt.UnixMilli() {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].UnitID != 2 || entries[1].StartMs != pressAt.UnixMilli()+30 {
		t.Fatalf("entry 1: %+v", entries[1])
	}

	if err := pub.PublishCycle(entries, pressAt); err != nil {
		t.Fatal(err)
	}
	if n := m.Schedule(context.Background(), entries); n != 2 {
		t.Fatalf("scheduled %d, want 2", n)
	}

	for _, o := range waitOutcomes(t, done, 2) {
		if o != actuate.OutcomeCompleted {
			t.Errorf("outcome: got %s, want completed", o)
		}
	}

	if hw.OutputOn(1) || hw.OutputOn(2) {
		t.Error("outputs still asserted after delivery")
	}
	// Each unit saw exactly assert then deassert.
	counts := map[int]int{}
	for _, op := range hw.Ops() {
		counts[op.Unit]++
	}
	if counts[1] != 2 || counts[2] != 2 {
		t.Errorf("op counts: got %v, want 2 per unit", counts)
	}
	if len(pub.Cycles()) != 1 {
		t.Errorf("cycles published: got %d, want 1", len(pub.Cycles()))
	}
}

// TestIntegrationFlowCutoff runs a flow-mode delivery against the fake
// meter: the valve holds until the simulated pulses reach the target.
func TestIntegrationFlowCutoff(t *testing.T) {
	hw := gpio.NewFakeHardware()
	done := make(chan actuate.Outcome, 1)
	m := fastManager(t, hw, nil, done)

	snap := logic.Snapshot{
		TargetMl:     100,
		DeliveryMode: logic.ModeFlow,
		Pattern:      logic.PatternDiamond,
		Units: []logic.UnitConfig{
			{ID: 1, Enabled: true, Group: logic.GroupA, Mode: logic.ModeInherit,
				PulsesPerCycle: 100, PulsesPerLiter: 450},
		},
	}

	entries := logic.PlanCycle(snap, time.Now().UnixMilli())
	if len(entries) != 1 || entries[0].TargetPulses != 45 {
		t.Fatalf("entries: %+v", entries)
	}

	if n := m.Schedule(context.Background(), entries); n != 1 {
		t.Fatal("schedule failed")
	}

	deadline := time.After(time.Second)
	for !hw.OutputOn(1) {
		select {
		case <-deadline:
			t.Fatal("unit 1 never asserted")
		case <-time.After(time.Millisecond):
		}
	}

	// Feed the meter in two bursts; cutoff lands once 45 accumulate.
	hw.SimulateFlowPulses(gpio.SharedFlowSource, 20)
	time.Sleep(10 * time.Millisecond)
	if !hw.OutputOn(1) {
		t.Fatal("valve released before target pulses")
	}
	hw.SimulateFlowPulses(gpio.SharedFlowSource, 25)

	out := waitOutcomes(t, done, 1)
	if out[0] != actuate.OutcomeCompleted {
		t.Errorf("outcome: got %s, want completed", out[0])
	}
	if hw.OutputOn(1) {
		t.Error("output still asserted after cutoff")
	}
}

// TestIntegrationFlowCeilingOnStalledMeter verifies the safety ceiling
// releases the valve when no pulses arrive.
func TestIntegrationFlowCeilingOnStalledMeter(t *testing.T) {
	hw := gpio.NewFakeHardware()
	done := make(chan actuate.Outcome, 1)
	m := fastManager(t, hw, nil, done)

	entries := []logic.ScheduleEntry{{
		UnitID:       1,
		StartMs:      time.Now().UnixMilli(),
		Mode:         logic.ModeFlow,
		TargetPulses: 10,
		TargetMl:     22,
	}}
	if n := m.Schedule(context.Background(), entries); n != 1 {
		t.Fatal("schedule failed")
	}

	out := waitOutcomes(t, done, 1)
	if out[0] != actuate.OutcomeCeiling {
		t.Errorf("outcome: got %s, want ceiling", out[0])
	}
	if hw.OutputOn(1) {
		t.Error("output still asserted after ceiling")
	}
}

// TestIntegrationTramlineMidCycle suppresses a unit between planning and
// execution; the late tramline check drops it without touching hardware.
func TestIntegrationTramlineMidCycle(t *testing.T) {
	hw := gpio.NewFakeHardware()
	done := make(chan actuate.Outcome, 2)

	var mu sync.Mutex
	tramlined := map[int]bool{}
	m := fastManager(t, hw, func(unit int) bool {
		mu.Lock()
		defer mu.Unlock()
		return tramlined[unit]
	}, done)

	snap := logic.Snapshot{
		TargetMl:     10,
		DeliveryMode: logic.ModeTimed,
		Pattern:      logic.PatternDiamond,
		AutoDelay:    logic.AutoDelayConfig{CurrentMs: 60},
		Units: []logic.UnitConfig{
			{ID: 1, Enabled: true, Group: logic.GroupA, Mode: logic.ModeInherit, MsPerMl: 2},
			{ID: 2, Enabled: true, Group: logic.GroupB, Mode: logic.ModeInherit, MsPerMl: 2},
		},
	}
	entries := logic.PlanCycle(snap, time.Now().UnixMilli())
	if n := m.Schedule(context.Background(), entries); n != 2 {
		t.Fatal("schedule failed")
	}

	// Suppress unit 2 while it waits out the inter-group delay.
	mu.Lock()
	tramlined[2] = true
	mu.Unlock()

	outs := waitOutcomes(t, done, 2)
	cancelled := 0
	for _, o := range outs {
		if o == actuate.OutcomeCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Errorf("outcomes: got %v, want one cancelled", outs)
	}
	for _, op := range hw.Ops() {
		if op.Unit == 2 {
			t.Fatal("tramlined unit touched the hardware")
		}
	}
}
