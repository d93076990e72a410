// Package config loads the daemon configuration from a YAML file:
// broker and HTTP addresses, the state file path, GPIO pin mappings, and
// the timing surface. Missing fields keep their defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardware maps hardware roles to GPIO line offsets (BCM numbering).
type Hardware struct {
	Chip     string         `yaml:"chip"`
	Buzzer   int            `yaml:"buzzer"`
	Switches map[string]int `yaml:"switches"`
	Flow     map[int]int    `yaml:"flow"` // source id -> offset; 0 = shared meter
	Units    map[int]int    `yaml:"units"`
}

// Timing is the configuration surface for the core's clocks and windows.
type Timing struct {
	DelayTick          time.Duration `yaml:"delay_tick"`           // estimator tick
	PressWindow        time.Duration `yaml:"press_window"`         // press history window
	PressCap           int           `yaml:"press_cap"`            // press history cap
	Debounce           time.Duration `yaml:"debounce"`             // switch debounce
	FlowPoll           time.Duration `yaml:"flow_poll"`            // flow cutoff polling
	CeilingMult        int           `yaml:"ceiling_mult"`         // flow safety ceiling multiplier
	WorstPulseInterval time.Duration `yaml:"worst_pulse_interval"` // worst-case meter pulse spacing
	CycleBeep          time.Duration `yaml:"cycle_beep"`           // beep on each accepted press
}

// Config is the daemon configuration.
type Config struct {
	Broker    string        `yaml:"broker"`
	HTTPAddr  string        `yaml:"http_addr"`
	StatePath string        `yaml:"state_path"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Hardware  Hardware      `yaml:"hardware"`
	Timing    Timing        `yaml:"timing"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Broker:    "tcp://127.0.0.1:1883",
		HTTPAddr:  ":8000",
		StatePath: "data/state.json",
		Heartbeat: 15 * time.Minute,
		Hardware: Hardware{
			Chip:   "gpiochip0",
			Buzzer: -1,
		},
		Timing: Timing{
			DelayTick:          500 * time.Millisecond,
			PressWindow:        15 * time.Second,
			PressCap:           20,
			Debounce:           10 * time.Millisecond,
			FlowPoll:           20 * time.Millisecond,
			CeilingMult:        4,
			WorstPulseInterval: 50 * time.Millisecond,
			CycleBeep:          150 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path must not be empty")
	}
	if c.Timing.DelayTick <= 0 {
		return fmt.Errorf("timing.delay_tick must be positive")
	}
	if c.Timing.PressCap < 1 {
		return fmt.Errorf("timing.press_cap must be >= 1")
	}
	for unit := range c.Hardware.Units {
		if unit < 1 {
			return fmt.Errorf("hardware.units: invalid unit id %d", unit)
		}
	}
	for name := range c.Hardware.Switches {
		switch name {
		case "M1", "M2", "M3":
		default:
			return fmt.Errorf("hardware.switches: unknown switch %q", name)
		}
	}
	return nil
}
