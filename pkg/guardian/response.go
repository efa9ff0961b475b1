package guardian

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
	"github.com/eudaimon-labs/lifeos/core/pkg/policy"
	"github.com/eudaimon-labs/lifeos/core/pkg/retro"
)

// Endpoints the client uses to answer an intervention.
const (
	ConfirmEndpoint = "/api/v1/retrospective/confirm"
	RespondEndpoint = "/api/v1/retrospective/respond"
)

// Selves the Guardian speaks for and to.
const (
	RoleBlueprintSelf  = "BLUEPRINT_SELF"
	RoleInstinctSelf   = "INSTINCT_SELF"
	RoleReflectiveSelf = "REFLECTIVE_SELF"
)

// SuggestionSource restates an active deviation signal as the origin of
// the current suggestion.
type SuggestionSource struct {
	Signal    string           `json:"signal"`
	Severity  string           `json:"severity"`
	Summary   string           `json:"summary"`
	Count     int              `json:"count"`
	Threshold int              `json:"threshold"`
	Evidence  []retro.Evidence `json:"evidence"`
}

// ConfirmationAction tells the client how to confirm the intervention.
type ConfirmationAction struct {
	Required    bool   `json:"required"`
	Confirmed   bool   `json:"confirmed"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	Fingerprint string `json:"fingerprint"`
}

// ResponseAction tells the client how to answer beyond confirming.
type ResponseAction struct {
	Endpoint        string           `json:"endpoint"`
	Fingerprint     string           `json:"fingerprint"`
	Latest          *ledger.Response `json:"latest,omitempty"`
	AllowedActions  []string         `json:"allowed_actions"`
	AllowedContexts []string         `json:"allowed_contexts"`
}

// Authority exposes how far the Guardian has escalated and whether the
// safe-mode circuit breaker is engaged.
type Authority struct {
	Escalation policy.Escalation `json:"escalation"`
	SafeMode   policy.SafeMode   `json:"safe_mode"`
}

// InterventionPolicy is the policy engine's verdict for this response.
type InterventionPolicy struct {
	Mode           string                `json:"mode"`
	Intensity      string                `json:"intensity"`
	FrictionBudget policy.FrictionBudget `json:"friction_budget"`
	Cooldown       policy.Cooldown       `json:"cooldown"`
}

// GuardianRole names which self the Guardian represents and which one
// it is addressing.
type GuardianRole struct {
	Representing string `json:"representing"`
	Facing       string `json:"facing"`
	Mode         string `json:"mode"`
}

// Explainability gives the human the reasoning behind the intervention
// in plain sentences.
type Explainability struct {
	WhyThisSuggestion string `json:"why_this_suggestion"`
	WhyNow            string `json:"why_now"`
	WhatHappensNext   string `json:"what_happens_next"`
}

// Response is the full intervention contract returned to the client.
type Response struct {
	GeneratedAt        string             `json:"generated_at"`
	LookbackDays       int                `json:"lookback_days"`
	InterventionLevel  string             `json:"intervention_level"`
	Suggestion         string             `json:"suggestion"`
	Display            bool               `json:"display"`
	RequireConfirm     bool               `json:"require_confirm"`
	SuggestionSources  []SuggestionSource `json:"suggestion_sources"`
	DeviationSignals   []retro.Signal     `json:"deviation_signals"`
	Retrospective      retro.Report       `json:"retrospective"`
	ConfirmationAction ConfirmationAction `json:"confirmation_action"`
	ResponseAction     ResponseAction     `json:"response_action"`
	Authority          Authority          `json:"authority"`
	InterventionPolicy InterventionPolicy `json:"intervention_policy"`
	GuardianRole       GuardianRole       `json:"guardian_role"`
	Explainability     Explainability     `json:"explainability"`
}

// BuildResponse analyzes the trailing window and assembles the full
// intervention response. Safe-mode transitions recommended by the
// policy engine are applied here, so the returned state already
// reflects them.
func (g *Guardian) BuildResponse(days int) (Response, error) {
	events, err := g.Window(days)
	if err != nil {
		return Response{}, fmt.Errorf("build response: %w", err)
	}
	log, err := g.store.All()
	if err != nil {
		return Response{}, fmt.Errorf("build response: %w", err)
	}

	report := g.analyzer.Report(events, days)
	level := g.cfg.InterventionLevel
	decision := g.engine.Evaluate(report.DeviationSignals, events, log)

	events, decision, err = g.applySafeModeTransitions(events, log, report, decision)
	if err != nil {
		return Response{}, fmt.Errorf("build response: %w", err)
	}

	suggestion := ""
	if len(report.Observations) > 0 {
		suggestion = report.Observations[0]
	}
	sources := activeSignals(report.DeviationSignals)
	fingerprint := policy.Fingerprint(days, suggestion, report.DeviationSignals)

	confirmation := ledger.LatestConfirmation(events, fingerprint)
	suppressed := decision.Suppressed()
	display := level != config.LevelObserveOnly && !suppressed
	requireConfirm := level == config.LevelAsk && confirmation == nil && !suppressed

	resp := Response{
		GeneratedAt:       g.clock().UTC().Format(time.RFC3339),
		LookbackDays:      days,
		InterventionLevel: level,
		Display:           display,
		RequireConfirm:    requireConfirm,
		SuggestionSources: sources,
		DeviationSignals:  report.DeviationSignals,
		Retrospective:     report,
		ConfirmationAction: ConfirmationAction{
			Required:    requireConfirm,
			Confirmed:   confirmation != nil,
			Endpoint:    ConfirmEndpoint,
			Method:      "POST",
			Fingerprint: fingerprint,
		},
		ResponseAction: ResponseAction{
			Endpoint:        RespondEndpoint,
			Fingerprint:     fingerprint,
			Latest:          decision.LatestResponse,
			AllowedActions:  ledger.AllowedActions,
			AllowedContexts: ledger.AllowedContexts,
		},
		Authority: Authority{
			Escalation: decision.Escalation,
			SafeMode:   decision.SafeMode,
		},
		InterventionPolicy: InterventionPolicy{
			Mode:           decision.Mode,
			Intensity:      decision.Intensity,
			FrictionBudget: decision.FrictionBudget,
			Cooldown:       decision.Cooldown,
		},
		GuardianRole: GuardianRole{
			Representing: RoleBlueprintSelf,
			Facing:       facingSelf(decision.Mode),
			Mode:         decision.Mode,
		},
		Explainability: explainability(report, decision, requireConfirm),
	}
	if display {
		resp.Suggestion = suggestion
	}
	if confirmation != nil {
		resp.ConfirmationAction.ConfirmedAt = confirmation.Timestamp
	}
	return resp, nil
}

// applySafeModeTransitions appends entered/exited events when the
// policy engine recommends a change, then re-evaluates so the decision
// reflects the new state.
func (g *Guardian) applySafeModeTransitions(events, log []event.Event, report retro.Report, decision policy.Decision) ([]event.Event, policy.Decision, error) {
	rec := decision.SafeMode.Recommendation
	var transition string
	switch {
	case rec.ShouldEnter:
		transition = policy.EventSafeModeEntered
	case rec.ShouldExit:
		transition = policy.EventSafeModeExited
	default:
		return events, decision, nil
	}

	payload := map[string]any{}
	if transition == policy.EventSafeModeEntered {
		payload["reason"] = rec.Reason
	}
	stored, err := g.store.Append(event.Event{Type: transition, Payload: payload})
	if err != nil {
		return events, decision, err
	}
	if _, aerr := g.audit.Append("guardian", strings.ToUpper(transition), stored.EventID, payload); aerr != nil {
		slog.Warn("audit append failed", "error", aerr)
	}

	events = append(events, stored)
	log = append(log, stored)
	return events, g.engine.Evaluate(report.DeviationSignals, events, log), nil
}

func activeSignals(signals []retro.Signal) []SuggestionSource {
	sources := make([]SuggestionSource, 0, len(signals))
	for _, s := range signals {
		if !s.Active {
			continue
		}
		sources = append(sources, SuggestionSource{
			Signal:    s.Name,
			Severity:  s.Severity,
			Summary:   s.Summary,
			Count:     s.Count,
			Threshold: s.Threshold,
			Evidence:  s.Evidence,
		})
	}
	return sources
}

func activeSignalNames(signals []retro.Signal) []string {
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		if s.Active {
			names = append(names, s.Name)
		}
	}
	return names
}

func facingSelf(mode string) string {
	if mode == policy.ModeSupportRecovery {
		return RoleReflectiveSelf
	}
	return RoleInstinctSelf
}

func explainability(report retro.Report, decision policy.Decision, requireConfirm bool) Explainability {
	var e Explainability

	sources := activeSignalNames(report.DeviationSignals)
	if len(sources) > 0 {
		e.WhyThisSuggestion = "Suggestion is triggered by: " + strings.Join(sources, ", ") + "."
	} else {
		e.WhyThisSuggestion = "No deviation signals are active; this is a routine reflection."
	}

	switch {
	case decision.SafeMode.Active:
		e.WhyNow = "Safe mode is active; the Guardian is observing quietly until trust recovers."
	case decision.FrictionBudget.Suppressed:
		e.WhyNow = fmt.Sprintf("The prompt budget of %d in %dh is spent; this intervention is held back.",
			decision.FrictionBudget.MaxPrompts, decision.FrictionBudget.WindowHours)
	case decision.Cooldown.Active && decision.Mode != policy.ModeFocusedOverride:
		e.WhyNow = fmt.Sprintf("The %s cooldown is still running; next prompt is eligible at %s.",
			decision.Mode, decision.Cooldown.NextEligibleAt)
	default:
		e.WhyNow = fmt.Sprintf("Operating in %s mode at the %s stage.", decision.Mode, decision.Escalation.Stage)
	}

	switch {
	case requireConfirm:
		e.WhatHappensNext = "Confirm to accept this suggestion, or respond with snooze or dismiss."
	case decision.SafeMode.Active:
		e.WhatHappensNext = "The Guardian stays quiet; confirming suggestions will restore normal cadence."
	default:
		e.WhatHappensNext = "No action is required; the Guardian keeps watching the same signals."
	}
	if decision.LatestResponse != nil && decision.LatestResponse.RecoveryStep != "" {
		e.WhatHappensNext += " Next suggested recovery step: " + decision.LatestResponse.RecoveryStep + "."
	}
	return e
}
