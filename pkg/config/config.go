// Package config loads the Guardian runtime configuration.
//
// Configuration is layered: compiled defaults, then an optional YAML
// overlay, then environment variables. Loading never fails: unknown or
// out-of-range values are coerced back to their defaults and clamped to
// safe bounds, so the rest of the core can treat every knob as total.
package config

import (
	"os"
	"path/filepath"
)

// Intervention levels control how far the Guardian may go when surfacing
// suggestions to the human.
const (
	LevelObserveOnly = "OBSERVE_ONLY"
	LevelSoft        = "SOFT"
	LevelAsk         = "ASK"
)

// Config holds paths and top-level runtime settings.
type Config struct {
	DataDir        string
	EventLogPath   string
	SnapshotDir    string
	RegistryPath   string
	ThresholdsPath string
	LogLevel       string

	SnapshotInterval      int
	SnapshotRetentionDays int

	// InterventionLevel is one of OBSERVE_ONLY, SOFT, ASK.
	InterventionLevel string

	// EnergyPhases maps "HH:MM-HH:MM" ranges to a phase name. Windows
	// tagged "deep_work" classify L2 protection opportunities.
	EnergyPhases map[string]string

	// ProgressPredicates are CEL expressions over {"event": {...}}; an
	// event matching any of them counts as progress for stagnation
	// detection.
	ProgressPredicates []string

	Thresholds Thresholds
}

// Load builds configuration from environment variables and, when present,
// the YAML overlay at LIFEOS_CONFIG (or <data>/guardian.yaml).
func Load() *Config {
	dataDir := os.Getenv("LIFEOS_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	overlay := os.Getenv("LIFEOS_CONFIG")
	if overlay == "" {
		overlay = filepath.Join(dataDir, "guardian.yaml")
	}

	cfg := &Config{
		DataDir:               dataDir,
		EventLogPath:          filepath.Join(dataDir, "event_log.jsonl"),
		SnapshotDir:           filepath.Join(dataDir, "snapshots"),
		RegistryPath:          filepath.Join(dataDir, "goal_registry.json"),
		ThresholdsPath:        overlay,
		LogLevel:              logLevel,
		SnapshotInterval:      50,
		SnapshotRetentionDays: 30,
		InterventionLevel:     LevelSoft,
		EnergyPhases:          DefaultEnergyPhases(),
		ProgressPredicates:    DefaultProgressPredicates(),
		Thresholds:            DefaultThresholds(),
	}

	cfg.applyOverlay()
	cfg.clamp()
	return cfg
}

// Reload re-reads the YAML overlay in place. It is invoked by the owning
// process on a controlled trigger; there is no background watcher.
func (c *Config) Reload() {
	c.applyOverlay()
	c.clamp()
}

// DefaultEnergyPhases returns the stock daily phase map.
func DefaultEnergyPhases() map[string]string {
	return map[string]string{
		"06:00-09:00": "activation",
		"09:00-13:00": "deep_work",
		"13:00-14:00": "connection",
		"14:00-18:00": "logistics",
		"18:00-22:00": "leisure",
	}
}

// DefaultProgressPredicates returns the stock set of "this counts as
// forward motion" checks used by stagnation detection.
func DefaultProgressPredicates() []string {
	return []string{
		`event.type == "progress_updated"`,
		`event.type == "goal_completed"`,
		`event.type == "l2_session_completed"`,
		`event.type == "task_updated" && has(event.payload.updates) && has(event.payload.updates.status) && event.payload.updates.status == "completed"`,
	}
}

func (c *Config) clamp() {
	if c.SnapshotInterval < 1 {
		c.SnapshotInterval = 50
	}
	if c.SnapshotRetentionDays < 1 {
		c.SnapshotRetentionDays = 30
	}
	switch c.InterventionLevel {
	case LevelObserveOnly, LevelSoft, LevelAsk:
	default:
		c.InterventionLevel = LevelSoft
	}
	if len(c.EnergyPhases) == 0 {
		c.EnergyPhases = DefaultEnergyPhases()
	}
	if len(c.ProgressPredicates) == 0 {
		c.ProgressPredicates = DefaultProgressPredicates()
	}
	c.Thresholds.clamp()
}
