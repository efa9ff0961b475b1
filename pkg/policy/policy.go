// Package policy decides how the Guardian is allowed to intervene:
// which mode it operates in, whether the prompt budget or cooldown
// suppresses surfacing, how far escalation has progressed, and whether
// safe mode should change state.
package policy

import (
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
	"github.com/eudaimon-labs/lifeos/core/pkg/retro"
)

// Intervention modes, in priority order.
const (
	ModeFocusedOverride     = "focused_override"
	ModeSupportRecovery     = "support_recovery"
	ModeLowFrequencyObserve = "low_frequency_observe"
	ModeBalanced            = "balanced_intervention"
)

// Escalation stages.
const (
	StageGentleNudge   = "gentle_nudge"
	StageFirmReminder  = "firm_reminder"
	StagePeriodicCheck = "periodic_check"
)

var modeIntensity = map[string]string{
	ModeFocusedOverride:     "firm",
	ModeSupportRecovery:     "supportive",
	ModeLowFrequencyObserve: "balanced",
	ModeBalanced:            "balanced",
}

// FrictionBudget reports prompt pressure in the rolling window.
type FrictionBudget struct {
	WindowHours    int  `json:"window_hours"`
	MaxPrompts     int  `json:"max_prompts"`
	PromptCount    int  `json:"prompt_count"`
	BudgetExceeded bool `json:"budget_exceeded"`
	Enforced       bool `json:"enforced"`
	Suppressed     bool `json:"suppressed"`
}

// Cooldown reports whether the per-mode quiet period is still running.
type Cooldown struct {
	Hours          int    `json:"hours"`
	Active         bool   `json:"active"`
	NextEligibleAt string `json:"next_eligible_at,omitempty"`
}

// Escalation tracks resistance inside its own window.
type Escalation struct {
	Stage             string   `json:"stage"`
	ResistanceCount   int      `json:"resistance_count"`
	WindowDays        int      `json:"window_days"`
	ConfirmationRatio *float64 `json:"confirmation_ratio"`
}

// Decision is the engine's full verdict for one evaluation.
type Decision struct {
	Mode           string           `json:"mode"`
	Intensity      string           `json:"intensity"`
	FrictionBudget FrictionBudget   `json:"friction_budget"`
	Cooldown       Cooldown         `json:"cooldown"`
	Escalation     Escalation       `json:"escalation"`
	SafeMode       SafeMode         `json:"safe_mode"`
	LatestResponse *ledger.Response `json:"latest_response,omitempty"`
}

// Suppressed reports whether surfacing the suggestion should be
// withheld. Budget exhaustion and an active cooldown both suppress,
// but never in override mode; active safe mode always suppresses.
func (d Decision) Suppressed() bool {
	if d.SafeMode.Active {
		return true
	}
	if d.Mode == ModeFocusedOverride {
		return false
	}
	return d.FrictionBudget.Suppressed || d.Cooldown.Active
}

// Engine evaluates policy against thresholds with an injected clock.
type Engine struct {
	th    config.Thresholds
	clock func() time.Time
}

// NewEngine builds an engine for the given thresholds.
func NewEngine(th config.Thresholds) *Engine {
	return &Engine{th: th, clock: time.Now}
}

// SetClock overrides the wall clock. Test hook.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// Evaluate computes the full policy decision. signals come from the
// analyzer, window is the report window, and log is the whole event
// log. Mode, budget and cooldown read the window; escalation and
// safe-mode state need memory past the lookback, so they read the log.
func (e *Engine) Evaluate(signals []retro.Signal, window, log []event.Event) Decision {
	now := e.clock()
	responses := ledger.ResponsesFrom(window)
	history := ledger.ResponsesFrom(log)
	latest := ledger.LatestResponse(window)

	mode := e.selectMode(signals, latest)

	d := Decision{
		Mode:           mode,
		Intensity:      modeIntensity[mode],
		FrictionBudget: e.frictionBudget(responses, now, mode),
		Cooldown:       e.cooldown(responses, now, mode),
		Escalation:     e.escalation(history, now),
		SafeMode:       e.safeMode(responses, history, log, now),
		LatestResponse: latest,
	}
	return d
}

// selectMode picks the highest-priority applicable mode. A human who
// just reported an instinct escape, or an active high-severity signal,
// demands full attention; a recovery context gets support; a quiet
// window drops the Guardian to observation cadence.
func (e *Engine) selectMode(signals []retro.Signal, latest *ledger.Response) string {
	if latest != nil && latest.Context == "instinct_escape" {
		return ModeFocusedOverride
	}
	for _, s := range signals {
		if s.Active && s.Severity == retro.SeverityHigh {
			return ModeFocusedOverride
		}
	}
	if latest != nil {
		switch latest.Context {
		case "recovering", "resource_blocked", "task_too_big":
			return ModeSupportRecovery
		}
	}
	for _, s := range signals {
		if s.Active {
			return ModeBalanced
		}
	}
	return ModeLowFrequencyObserve
}

// frictionBudget counts responses inside the rolling window. Override
// mode is never suppressed; an interrupted deep-work block outranks
// prompt hygiene.
func (e *Engine) frictionBudget(responses []ledger.Response, now time.Time, mode string) FrictionBudget {
	cutoff := now.Add(-time.Duration(e.th.ReminderBudgetWindowHours) * time.Hour)
	count := 0
	for _, r := range responses {
		if t, err := parseTime(r.Timestamp); err == nil && !t.Before(cutoff) {
			count++
		}
	}
	exceeded := count >= e.th.ReminderBudgetMaxPrompts
	return FrictionBudget{
		WindowHours:    e.th.ReminderBudgetWindowHours,
		MaxPrompts:     e.th.ReminderBudgetMaxPrompts,
		PromptCount:    count,
		BudgetExceeded: exceeded,
		Enforced:       e.th.ReminderBudgetEnforce,
		Suppressed:     e.th.ReminderBudgetEnforce && exceeded && mode != ModeFocusedOverride,
	}
}

func (e *Engine) cooldownHours(mode string) int {
	switch mode {
	case ModeFocusedOverride:
		return e.th.CadenceOverrideCooldownHours
	case ModeSupportRecovery:
		return e.th.CadenceSupportCooldownHours
	case ModeLowFrequencyObserve:
		return e.th.CadenceObserveCooldownHours
	default:
		return e.th.CadenceBalancedCooldownHours
	}
}

// cooldown is tracked independently of the budget: it measures distance
// from the last human interaction, not prompt volume.
func (e *Engine) cooldown(responses []ledger.Response, now time.Time, mode string) Cooldown {
	hours := e.cooldownHours(mode)
	c := Cooldown{Hours: hours}
	if len(responses) == 0 || hours == 0 {
		return c
	}
	last, err := parseTime(responses[len(responses)-1].Timestamp)
	if err != nil {
		return c
	}
	until := last.Add(time.Duration(hours) * time.Hour)
	if now.Before(until) {
		c.Active = true
		c.NextEligibleAt = until.UTC().Format(time.RFC3339)
	}
	return c
}

// escalation grades persistence of resistance (snooze/dismiss answers)
// inside the escalation window. It reads full history so the window can
// be configured wider than the report lookback.
func (e *Engine) escalation(history []ledger.Response, now time.Time) Escalation {
	cutoff := now.AddDate(0, 0, -e.th.EscalationWindowDays)
	resistance, confirms, total := 0, 0, 0
	for _, r := range history {
		t, err := parseTime(r.Timestamp)
		if err != nil || t.Before(cutoff) {
			continue
		}
		total++
		switch r.Action {
		case "snooze", "dismiss":
			resistance++
		case "confirm":
			confirms++
		}
	}
	stage := StageGentleNudge
	switch {
	case resistance >= e.th.EscalationPeriodicResistance:
		stage = StagePeriodicCheck
	case resistance >= e.th.EscalationFirmResistance:
		stage = StageFirmReminder
	}
	esc := Escalation{
		Stage:           stage,
		ResistanceCount: resistance,
		WindowDays:      e.th.EscalationWindowDays,
	}
	if total > 0 {
		ratio := float64(confirms) / float64(total)
		esc.ConfirmationRatio = &ratio
	}
	return esc
}

func parseTime(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", ts)
}
