// Package state owns the persisted controller state document
// (state.json) and hands out consistent read-only snapshots to the
// planner and estimator. All mutation passes through the Store.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evencrop/brain/internal/logic"
)

// Unit is the persisted per-unit record.
type Unit struct {
	ID              int     `json:"id"`
	Enabled         bool    `json:"enabled"`
	Group           string  `json:"group"`
	Momentary       string  `json:"momentary"`
	Offset          int     `json:"offset"` // legacy percent
	PerDelayMs      int     `json:"perDelayMs"`
	Mode            string  `json:"mode"`
	PulsesPerCycle  int     `json:"pulsesPerCycle"`
	PulsesPerLiter  int     `json:"pulsesPerLiter"`
	MsPerMl         float64 `json:"msPerMl"`
	LastDeliveredMl *int    `json:"lastDeliveredMl"`
	Status          string  `json:"status"`
}

// Momentary is the persisted per-switch record.
type Momentary struct {
	Enabled bool `json:"enabled"`
	Offset  int  `json:"offset"`
}

// AutoDelay is the persisted auto-delay record.
type AutoDelay struct {
	Enabled    bool `json:"enabled"`
	ManualMs   int  `json:"manualMs"`
	GeomLeadMs int  `json:"geomLeadMs"`
	CurrentMs  int  `json:"currentMs"`
}

// Buzzer holds the mute flags.
type Buzzer struct {
	Muted    bool `json:"muted"`
	HardMute bool `json:"hardMute"`
}

// EventLogEntry is one line of the bounded event log.
type EventLogEntry struct {
	T   int64  `json:"t"` // unix milliseconds
	Msg string `json:"msg"`
}

// Document is the persisted state file layout.
type Document struct {
	TargetMl       int                  `json:"targetMl"`
	Running        bool                 `json:"running"`
	DeliveryMode   string               `json:"deliveryMode"`
	Pattern        string               `json:"pattern"`
	DiagonalStepMs int                  `json:"diagonalStepMs"`
	Momentary      map[string]Momentary `json:"momentary"`
	Tramline       map[int]bool         `json:"tramline"`
	Buzzer         Buzzer               `json:"buzzer"`
	AutoDelay      AutoDelay            `json:"autoDelay"`
	Units          []Unit               `json:"units"`
	EventLog       []EventLogEntry      `json:"eventLog"`
}

const (
	maxEventLog = 100
	backupName  = "state.backup.json"
)

// Store serializes access to the state document and persists it with
// atomic writes and a best-effort backup.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads the document at path, applying migrations, or initializes
// defaults when the file is missing. A corrupt file falls back to the
// backup before resetting to defaults. The normalized document is written
// back.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	doc, err := readDocument(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			backup, berr := readDocument(filepath.Join(filepath.Dir(path), backupName))
			if berr == nil {
				doc = backup
				err = nil
			}
		}
		if err != nil {
			doc = defaultDocument()
		}
	}
	migrate(&doc)
	s.doc = doc

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("write state: %w", err)
	}
	return s, nil
}

func readDocument(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func defaultUnits() []Unit {
	units := make([]Unit, logic.MaxUnits)
	for i := range units {
		group := "A"
		if i%2 == 1 {
			group = "B"
		}
		units[i] = Unit{
			ID:             i + 1,
			Enabled:        i < 4,
			Group:          group,
			Momentary:      "M1",
			Mode:           string(logic.ModeInherit),
			PulsesPerCycle: 100,
			PulsesPerLiter: 450,
			MsPerMl:        logic.DefaultMsPerMl,
			Status:         "OK",
		}
	}
	return units
}

func defaultDocument() Document {
	return Document{
		TargetMl:       100,
		DeliveryMode:   string(logic.ModeFlow),
		Pattern:        string(logic.PatternDiamond),
		DiagonalStepMs: logic.DefaultDiagonalStepMs,
		Momentary: map[string]Momentary{
			"M1": {Enabled: true},
			"M2": {},
			"M3": {},
		},
		Tramline:  map[int]bool{},
		AutoDelay: AutoDelay{Enabled: true, ManualMs: 500, CurrentMs: 500},
		Units:     defaultUnits(),
	}
}

// migrate fills fields older files may lack so they keep working.
func migrate(doc *Document) {
	if doc.TargetMl == 0 {
		doc.TargetMl = 100
	}
	if doc.DeliveryMode == "" {
		doc.DeliveryMode = string(logic.ModeFlow)
	}
	if doc.Pattern == "" {
		doc.Pattern = string(logic.PatternDiamond)
	}
	if doc.DiagonalStepMs <= 0 {
		doc.DiagonalStepMs = logic.DefaultDiagonalStepMs
	}
	if doc.Momentary == nil {
		doc.Momentary = map[string]Momentary{"M1": {Enabled: true}, "M2": {}, "M3": {}}
	}
	if doc.Tramline == nil {
		doc.Tramline = map[int]bool{}
	}
	if doc.AutoDelay == (AutoDelay{}) {
		doc.AutoDelay = AutoDelay{Enabled: true, ManualMs: 500, CurrentMs: 500}
	}
	if doc.Units == nil {
		doc.Units = defaultUnits()
	}
	for i := range doc.Units {
		u := &doc.Units[i]
		if u.Group == "" {
			u.Group = "A"
		}
		if u.Mode == "" {
			u.Mode = string(logic.ModeInherit)
		}
		if u.PulsesPerCycle == 0 {
			u.PulsesPerCycle = 100
		}
		if u.PulsesPerLiter == 0 {
			u.PulsesPerLiter = 450
		}
		if u.MsPerMl == 0 {
			u.MsPerMl = logic.DefaultMsPerMl
		}
		if u.Status == "" {
			u.Status = "OK"
		}
	}
	// The tramline set only ever contains ids currently suppressed.
	for id, off := range doc.Tramline {
		if !off {
			delete(doc.Tramline, id)
		}
	}
}

// save writes the document atomically (tmp + rename) with a best-effort
// copy of the previous file as backup. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		_ = os.WriteFile(filepath.Join(dir, backupName), prev, 0o644)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Snapshot returns a deep copy of the state as the planner's read-only
// view. One planning pass runs against one consistent snapshot.
func (s *Store) Snapshot() logic.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]logic.UnitConfig, len(s.doc.Units))
	for i, u := range s.doc.Units {
		units[i] = logic.UnitConfig{
			ID:             u.ID,
			Enabled:        u.Enabled,
			Group:          logic.Group(u.Group),
			Momentary:      u.Momentary,
			OffsetPct:      u.Offset,
			PerDelayMs:     u.PerDelayMs,
			Mode:           logic.DeliveryMode(u.Mode),
			PulsesPerCycle: u.PulsesPerCycle,
			PulsesPerLiter: u.PulsesPerLiter,
			MsPerMl:        u.MsPerMl,
		}
	}

	momentary := make(map[string]logic.MomentaryConfig, len(s.doc.Momentary))
	for name, m := range s.doc.Momentary {
		momentary[name] = logic.MomentaryConfig{Enabled: m.Enabled, OffsetPct: m.Offset}
	}

	tramline := make(map[int]bool, len(s.doc.Tramline))
	for id := range s.doc.Tramline {
		tramline[id] = true
	}

	return logic.Snapshot{
		TargetMl:     s.doc.TargetMl,
		DeliveryMode: logic.DeliveryMode(s.doc.DeliveryMode),
		AutoDelay: logic.AutoDelayConfig{
			Enabled:    s.doc.AutoDelay.Enabled,
			ManualMs:   s.doc.AutoDelay.ManualMs,
			GeomLeadMs: s.doc.AutoDelay.GeomLeadMs,
			CurrentMs:  s.doc.AutoDelay.CurrentMs,
		},
		Momentary:      momentary,
		Units:          units,
		Tramline:       tramline,
		Pattern:        logic.Pattern(s.doc.Pattern),
		DiagonalStepMs: s.doc.DiagonalStepMs,
	}
}

// SetTramline sets or clears a unit's temporary suppression. Cleared
// entries are pruned immediately. Returns false (and skips the save) when
// the toggle is a no-op: re-tramlining a suppressed unit or un-tramlining
// an active one changes nothing.
func (s *Store) SetTramline(unit int, off bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.Tramline[unit] == off {
		return false, nil
	}
	if off {
		s.doc.Tramline[unit] = true
	} else {
		delete(s.doc.Tramline, unit)
	}
	return true, s.save()
}

// ClearTramline removes all suppressions.
func (s *Store) ClearTramline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.doc.Tramline) == 0 {
		return nil
	}
	s.doc.Tramline = map[int]bool{}
	return s.save()
}

// Tramlined reports whether a unit is currently suppressed.
func (s *Store) Tramlined(unit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Tramline[unit]
}

// SetCurrentDelay records the estimator's computed delay. Returns false
// when the value is unchanged.
func (s *Store) SetCurrentDelay(ms int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms < 0 {
		ms = 0
	}
	if s.doc.AutoDelay.CurrentMs == ms {
		return false, nil
	}
	s.doc.AutoDelay.CurrentMs = ms
	return true, s.save()
}

// SetTarget sets the target volume per plant in millilitres.
func (s *Store) SetTarget(ml int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ml < 1 {
		ml = 1
	}
	s.doc.TargetMl = ml
	return s.save()
}

// SetDeliveryMode sets the global delivery mode ("flow" or "timed").
func (s *Store) SetDeliveryMode(mode logic.DeliveryMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode != logic.ModeTimed {
		mode = logic.ModeFlow
	}
	s.doc.DeliveryMode = string(mode)
	return s.save()
}

// SetPattern selects the wiring pattern and diagonal step.
func (s *Store) SetPattern(p logic.Pattern, stepMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch p {
	case logic.PatternDiamond, logic.PatternDiagonal, logic.PatternLine:
	default:
		p = logic.PatternDiamond
	}
	if stepMs <= 0 {
		stepMs = logic.DefaultDiagonalStepMs
	}
	s.doc.Pattern = string(p)
	s.doc.DiagonalStepMs = stepMs
	return s.save()
}

// SetAutoDelay updates the auto-delay configuration, leaving CurrentMs to
// be recomputed by the estimator.
func (s *Store) SetAutoDelay(enabled bool, manualMs, geomLeadMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AutoDelay.Enabled = enabled
	s.doc.AutoDelay.ManualMs = manualMs
	s.doc.AutoDelay.GeomLeadMs = geomLeadMs
	return s.save()
}

// SetBuzzerMuted sets the soft mute flag.
func (s *Store) SetBuzzerMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Buzzer.Muted = muted
	return s.save()
}

// SetBuzzerHardMute sets the hard mute flag.
func (s *Store) SetBuzzerHardMute(hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Buzzer.HardMute = hard
	return s.save()
}

// BuzzerMutes returns the (soft, hard) mute flags.
func (s *Store) BuzzerMutes() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Buzzer.Muted, s.doc.Buzzer.HardMute
}

// SetUnitStatus records a unit's delivery status ("OK", "FAULT", ...) and
// optionally the delivered volume.
func (s *Store) SetUnitStatus(unit int, status string, deliveredMl *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Units {
		if s.doc.Units[i].ID == unit {
			s.doc.Units[i].Status = status
			if deliveredMl != nil {
				ml := *deliveredMl
				s.doc.Units[i].LastDeliveredMl = &ml
			}
			return s.save()
		}
	}
	// Unknown unit ids are ignored at the boundary, never propagated.
	return nil
}

// LogEvent appends to the bounded event log.
func (s *Store) LogEvent(now time.Time, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.EventLog = append(s.doc.EventLog, EventLogEntry{T: now.UnixMilli(), Msg: msg})
	if n := len(s.doc.EventLog) - maxEventLog; n > 0 {
		s.doc.EventLog = append(s.doc.EventLog[:0], s.doc.EventLog[n:]...)
	}
	return s.save()
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
