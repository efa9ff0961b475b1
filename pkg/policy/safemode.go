package policy

import (
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
)

// Safe-mode transition event types.
const (
	EventSafeModeEntered = "guardian_safe_mode_entered"
	EventSafeModeExited  = "guardian_safe_mode_exited"
)

// ReasonHighResistance is recorded when safe mode triggers because the
// human keeps resisting suggestions without confirming any.
const ReasonHighResistance = "high_resistance_low_follow_through"

// Recommendation is the engine's advice on the next transition. It is
// advice only; the caller appends the actual entered/exited event.
type Recommendation struct {
	ShouldEnter bool   `json:"should_enter"`
	ShouldExit  bool   `json:"should_exit"`
	Reason      string `json:"reason,omitempty"`
}

// SafeMode is the current circuit-breaker state plus the engine's
// recommendation. Transitions live in the log as discrete events so
// the state cannot flap between evaluations.
type SafeMode struct {
	Enabled           bool           `json:"enabled"`
	Active            bool           `json:"active"`
	EnteredAt         string         `json:"entered_at,omitempty"`
	ExitedAt          string         `json:"exited_at,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Recommendation    Recommendation `json:"recommendation"`
	ResistanceCount   int            `json:"resistance_count"`
	TotalResponses    int            `json:"total_responses"`
	ConfirmationRatio *float64       `json:"confirmation_ratio"`
}

// safeMode folds guardian_safe_mode_entered/exited transitions out of
// the full log, then decides whether the counters warrant a change.
// Transitions must outlive the lookback window: an entry recorded ten
// days ago still holds until an exit event lands. Entry counters read
// the window; confirmations since entry read full history.
func (e *Engine) safeMode(responses, history []ledger.Response, log []event.Event, now time.Time) SafeMode {
	sm := SafeMode{Enabled: e.th.SafeModeEnabled}

	var enteredAt time.Time
	for _, ev := range log {
		switch ev.Type {
		case EventSafeModeEntered:
			sm.Active = true
			sm.EnteredAt = ev.Timestamp
			sm.ExitedAt = ""
			sm.Reason = ev.PayloadString("reason")
			if t, err := parseTime(ev.Timestamp); err == nil {
				enteredAt = t
			}
		case EventSafeModeExited:
			sm.Active = false
			sm.ExitedAt = ev.Timestamp
			sm.Reason = ""
			enteredAt = time.Time{}
		}
	}

	resistance := 0
	confirms := 0
	for _, r := range responses {
		switch r.Action {
		case "snooze", "dismiss":
			resistance++
		case "confirm":
			confirms++
		}
	}
	sm.ResistanceCount = resistance
	sm.TotalResponses = len(responses)
	if sm.TotalResponses > 0 {
		ratio := float64(confirms) / float64(sm.TotalResponses)
		sm.ConfirmationRatio = &ratio
	}

	if sm.Active {
		if !sm.Enabled {
			sm.Recommendation.ShouldExit = true
			return sm
		}
		entryTime := enteredAt
		if entryTime.IsZero() {
			return sm
		}
		cooled := now.Sub(entryTime) >= time.Duration(e.th.SafeModeCooldownHours)*time.Hour
		confirmsSinceEntry := 0
		for _, r := range history {
			if r.Action != "confirm" {
				continue
			}
			if t, err := parseTime(r.Timestamp); err == nil && t.After(entryTime) {
				confirmsSinceEntry++
			}
		}
		if cooled && confirmsSinceEntry >= e.th.SafeModeRecoveryConfirms {
			sm.Recommendation.ShouldExit = true
		}
		return sm
	}

	if sm.Enabled &&
		sm.TotalResponses >= e.th.SafeModeMinResponseEvents &&
		resistance >= e.th.SafeModeResistanceThreshold &&
		sm.ConfirmationRatio != nil &&
		*sm.ConfirmationRatio <= e.th.SafeModeMaxConfirmationRatio {
		sm.Recommendation.ShouldEnter = true
		sm.Recommendation.Reason = ReasonHighResistance
	}
	return sm
}
