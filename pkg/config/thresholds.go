package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds carries every tunable the analyzer and the policy engine
// consult. All values are overridable from the YAML overlay; invalid
// values are clamped back rather than rejected.
type Thresholds struct {
	RepeatedSkip   int `yaml:"repeated_skip"`
	L2Interruption int `yaml:"l2_interruption"`
	StagnationDays int `yaml:"stagnation_days"`

	L2ProtectionHigh   float64 `yaml:"l2_protection_high"`
	L2ProtectionMedium float64 `yaml:"l2_protection_medium"`

	EscalationWindowDays         int `yaml:"escalation_window_days"`
	EscalationFirmResistance     int `yaml:"escalation_firm_resistance"`
	EscalationPeriodicResistance int `yaml:"escalation_periodic_resistance"`

	SafeModeEnabled              bool    `yaml:"safe_mode_enabled"`
	SafeModeResistanceThreshold  int     `yaml:"safe_mode_resistance_threshold"`
	SafeModeMinResponseEvents    int     `yaml:"safe_mode_min_response_events"`
	SafeModeMaxConfirmationRatio float64 `yaml:"safe_mode_max_confirmation_ratio"`
	SafeModeRecoveryConfirms     int     `yaml:"safe_mode_recovery_confirmations"`
	SafeModeCooldownHours        int     `yaml:"safe_mode_cooldown_hours"`

	ReminderBudgetWindowHours int  `yaml:"reminder_budget_window_hours"`
	ReminderBudgetMaxPrompts  int  `yaml:"reminder_budget_max_prompts"`
	ReminderBudgetEnforce     bool `yaml:"reminder_budget_enforce"`

	CadenceOverrideCooldownHours int `yaml:"cadence_override_cooldown_hours"`
	CadenceSupportCooldownHours  int `yaml:"cadence_support_recovery_cooldown_hours"`
	CadenceObserveCooldownHours  int `yaml:"cadence_observe_cooldown_hours"`
	CadenceBalancedCooldownHours int `yaml:"cadence_balanced_cooldown_hours"`
}

// DefaultThresholds returns the compiled-in baseline.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RepeatedSkip:   2,
		L2Interruption: 1,
		StagnationDays: 3,

		L2ProtectionHigh:   0.75,
		L2ProtectionMedium: 0.50,

		EscalationWindowDays:         7,
		EscalationFirmResistance:     2,
		EscalationPeriodicResistance: 4,

		SafeModeEnabled:              true,
		SafeModeResistanceThreshold:  5,
		SafeModeMinResponseEvents:    3,
		SafeModeMaxConfirmationRatio: 0.34,
		SafeModeRecoveryConfirms:     2,
		SafeModeCooldownHours:        24,

		ReminderBudgetWindowHours: 6,
		ReminderBudgetMaxPrompts:  2,
		ReminderBudgetEnforce:     true,

		CadenceOverrideCooldownHours: 3,
		CadenceSupportCooldownHours:  8,
		CadenceObserveCooldownHours:  12,
		CadenceBalancedCooldownHours: 6,
	}
}

// overlayFile is the YAML shape of the overlay. Thresholds are inlined so
// operators can keep a flat file; top-level keys override Config fields.
type overlayFile struct {
	SnapshotInterval      *int              `yaml:"snapshot_interval"`
	SnapshotRetentionDays *int              `yaml:"snapshot_retention_days"`
	InterventionLevel     *string           `yaml:"intervention_level"`
	EnergyPhases          map[string]string `yaml:"energy_phases"`
	ProgressPredicates    []string          `yaml:"progress_predicates"`
	Thresholds            *Thresholds       `yaml:"thresholds"`
}

func (c *Config) applyOverlay() {
	raw, err := os.ReadFile(c.ThresholdsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config overlay unreadable, using defaults", "path", c.ThresholdsPath, "error", err)
		}
		return
	}

	var f overlayFile
	// Start the nested thresholds from the current values so partial
	// overlays only touch the keys they name.
	th := c.Thresholds
	f.Thresholds = &th
	if err := yaml.Unmarshal(raw, &f); err != nil {
		slog.Warn("config overlay malformed, using defaults", "path", c.ThresholdsPath, "error", err)
		return
	}

	if f.SnapshotInterval != nil {
		c.SnapshotInterval = *f.SnapshotInterval
	}
	if f.SnapshotRetentionDays != nil {
		c.SnapshotRetentionDays = *f.SnapshotRetentionDays
	}
	if f.InterventionLevel != nil {
		c.InterventionLevel = *f.InterventionLevel
	}
	if len(f.EnergyPhases) > 0 {
		c.EnergyPhases = f.EnergyPhases
	}
	if len(f.ProgressPredicates) > 0 {
		c.ProgressPredicates = f.ProgressPredicates
	}
	c.Thresholds = *f.Thresholds
}

func (t *Thresholds) clamp() {
	d := DefaultThresholds()

	if t.RepeatedSkip < 1 {
		t.RepeatedSkip = d.RepeatedSkip
	}
	if t.L2Interruption < 1 {
		t.L2Interruption = d.L2Interruption
	}
	if t.StagnationDays < 1 {
		t.StagnationDays = d.StagnationDays
	}

	if t.L2ProtectionHigh <= 0 || t.L2ProtectionHigh > 1 {
		t.L2ProtectionHigh = d.L2ProtectionHigh
	}
	if t.L2ProtectionMedium <= 0 || t.L2ProtectionMedium > 1 {
		t.L2ProtectionMedium = d.L2ProtectionMedium
	}
	if t.L2ProtectionMedium > t.L2ProtectionHigh {
		t.L2ProtectionMedium = t.L2ProtectionHigh
	}

	if t.EscalationWindowDays < 1 {
		t.EscalationWindowDays = d.EscalationWindowDays
	}
	if t.EscalationFirmResistance < 1 {
		t.EscalationFirmResistance = d.EscalationFirmResistance
	}
	if t.EscalationPeriodicResistance < t.EscalationFirmResistance {
		t.EscalationPeriodicResistance = t.EscalationFirmResistance
	}

	if t.SafeModeResistanceThreshold < 1 {
		t.SafeModeResistanceThreshold = d.SafeModeResistanceThreshold
	}
	if t.SafeModeMinResponseEvents < 1 {
		t.SafeModeMinResponseEvents = d.SafeModeMinResponseEvents
	}
	if t.SafeModeMaxConfirmationRatio <= 0 || t.SafeModeMaxConfirmationRatio > 1 {
		t.SafeModeMaxConfirmationRatio = d.SafeModeMaxConfirmationRatio
	}
	if t.SafeModeRecoveryConfirms < 1 {
		t.SafeModeRecoveryConfirms = d.SafeModeRecoveryConfirms
	}
	if t.SafeModeCooldownHours < 1 {
		t.SafeModeCooldownHours = d.SafeModeCooldownHours
	}

	if t.ReminderBudgetWindowHours < 1 {
		t.ReminderBudgetWindowHours = d.ReminderBudgetWindowHours
	}
	if t.ReminderBudgetMaxPrompts < 1 {
		t.ReminderBudgetMaxPrompts = d.ReminderBudgetMaxPrompts
	}

	if t.CadenceOverrideCooldownHours < 0 {
		t.CadenceOverrideCooldownHours = d.CadenceOverrideCooldownHours
	}
	if t.CadenceSupportCooldownHours < 0 {
		t.CadenceSupportCooldownHours = d.CadenceSupportCooldownHours
	}
	if t.CadenceObserveCooldownHours < 0 {
		t.CadenceObserveCooldownHours = d.CadenceObserveCooldownHours
	}
	if t.CadenceBalancedCooldownHours < 0 {
		t.CadenceBalancedCooldownHours = d.CadenceBalancedCooldownHours
	}
}
