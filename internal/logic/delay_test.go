package logic

import (
	"testing"
	"time"
)

func TestEstimateDelayFromCadence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	presses := []time.Time{
		now.Add(-2 * time.Second),
		now.Add(-1 * time.Second),
		now,
	}
	cfg := AutoDelayConfig{Enabled: true, ManualMs: 900, GeomLeadMs: 0, CurrentMs: 0}

	ms, changed := EstimateDelay(cfg, presses, now)
	if ms != 500 {
		t.Errorf("expected 500 (half of 1000ms mean interval), got %d", ms)
	}
	if !changed {
		t.Error("expected change from CurrentMs=0")
	}
}

func TestEstimateDelayManualFallbackTooFewPresses(t *testing.T) {
	now := time.Now()
	presses := []time.Time{now.Add(-time.Second), now}
	cfg := AutoDelayConfig{Enabled: true, ManualMs: 650, GeomLeadMs: 0, CurrentMs: 650}

	ms, changed := EstimateDelay(cfg, presses, now)
	if ms != 650 {
		t.Errorf("expected manual fallback 650, got %d", ms)
	}
	if changed {
		t.Error("value equals CurrentMs, should not report a change")
	}
}

func TestEstimateDelayIgnoresStalePresses(t *testing.T) {
	now := time.Now()
	presses := []time.Time{
		now.Add(-40 * time.Second), // outside the 15s window
		now.Add(-30 * time.Second),
		now.Add(-2 * time.Second),
		now.Add(-1 * time.Second),
	}
	cfg := AutoDelayConfig{Enabled: true, ManualMs: 700, CurrentMs: 0}

	// Only 2 presses are recent, so the manual fallback applies.
	ms, _ := EstimateDelay(cfg, presses, now)
	if ms != 700 {
		t.Errorf("expected 700, got %d", ms)
	}
}

func TestEstimateDelayDisabledUsesManualPlusLead(t *testing.T) {
	now := time.Now()
	presses := []time.Time{
		now.Add(-2 * time.Second),
		now.Add(-1 * time.Second),
		now,
	}
	cfg := AutoDelayConfig{Enabled: false, ManualMs: 500, GeomLeadMs: 50, CurrentMs: 0}

	ms, _ := EstimateDelay(cfg, presses, now)
	if ms != 550 {
		t.Errorf("disabled estimator must report manual+lead=550 regardless of history, got %d", ms)
	}
}

func TestEstimateDelayGeomLeadAddedToCadence(t *testing.T) {
	now := time.Now()
	presses := []time.Time{
		now.Add(-2 * time.Second),
		now.Add(-1 * time.Second),
		now,
	}
	cfg := AutoDelayConfig{Enabled: true, GeomLeadMs: 120, CurrentMs: 620}

	ms, changed := EstimateDelay(cfg, presses, now)
	if ms != 620 {
		t.Errorf("expected 500+120=620, got %d", ms)
	}
	if changed {
		t.Error("unchanged value should not trigger publication")
	}
}

func TestEstimateDelayNeverNegative(t *testing.T) {
	now := time.Now()
	cfg := AutoDelayConfig{Enabled: false, ManualMs: 100, GeomLeadMs: -500, CurrentMs: 0}

	ms, _ := EstimateDelay(cfg, nil, now)
	if ms != 0 {
		t.Errorf("delay must floor at 0, got %d", ms)
	}
}
