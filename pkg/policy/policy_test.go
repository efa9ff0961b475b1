package policy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
	"github.com/eudaimon-labs/lifeos/core/pkg/retro"
)

var policyNow = time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, mutate func(*config.Thresholds)) *Engine {
	t.Helper()
	th := config.DefaultThresholds()
	if mutate != nil {
		mutate(&th)
	}
	e := NewEngine(th)
	e.SetClock(func() time.Time { return policyNow })
	return e
}

func responseAt(offset time.Duration, action, context string) event.Event {
	ts := policyNow.Add(offset).Format(time.RFC3339)
	return event.Event{
		EventID:       fmt.Sprintf("evt_%012x", uint64(-offset/time.Minute)),
		Type:          ledger.EventResponded,
		Timestamp:     ts,
		SchemaVersion: event.SchemaVersion,
		Payload: map[string]any{
			"days":        7,
			"fingerprint": "gcf_test",
			"action":      action,
			"context":     context,
		},
	}
}

func safeModeAt(offset time.Duration, entered bool) event.Event {
	typ := EventSafeModeExited
	payload := map[string]any{}
	if entered {
		typ = EventSafeModeEntered
		payload["reason"] = ReasonHighResistance
	}
	return event.Event{
		EventID:       "evt_aaaaaaaaaaaa",
		Type:          typ,
		Timestamp:     policyNow.Add(offset).Format(time.RFC3339),
		SchemaVersion: event.SchemaVersion,
		Payload:       payload,
	}
}

func activeSignal(severity string) retro.Signal {
	return retro.Signal{Name: "l2_interruption", Active: true, Severity: severity, Count: 2, Threshold: 1}
}

func TestModeSelection(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("instinct escape context forces override", func(t *testing.T) {
		events := []event.Event{responseAt(-time.Hour, "snooze", "instinct_escape")}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, ModeFocusedOverride, d.Mode)
		assert.Equal(t, "firm", d.Intensity)
	})

	t.Run("high severity signal forces override", func(t *testing.T) {
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityHigh)}, nil, nil)
		assert.Equal(t, ModeFocusedOverride, d.Mode)
		assert.Equal(t, "firm", d.Intensity)
	})

	t.Run("recovering context gets support", func(t *testing.T) {
		events := []event.Event{responseAt(-time.Hour, "snooze", "recovering")}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, ModeSupportRecovery, d.Mode)
		assert.Equal(t, "supportive", d.Intensity)
	})

	t.Run("resource blocked and task too big get support", func(t *testing.T) {
		for _, ctx := range []string{"resource_blocked", "task_too_big"} {
			events := []event.Event{responseAt(-time.Hour, "snooze", ctx)}
			d := e.Evaluate(nil, events, events)
			assert.Equal(t, ModeSupportRecovery, d.Mode, ctx)
		}
	})

	t.Run("no active signal drops to observation", func(t *testing.T) {
		d := e.Evaluate(nil, nil, nil)
		assert.Equal(t, ModeLowFrequencyObserve, d.Mode)
		assert.Equal(t, "balanced", d.Intensity)

		inactive := retro.Signal{Name: "repeated_skip", Active: false, Severity: retro.SeverityInfo}
		d = e.Evaluate([]retro.Signal{inactive}, nil, nil)
		assert.Equal(t, ModeLowFrequencyObserve, d.Mode)
	})

	t.Run("active non-high signal is balanced", func(t *testing.T) {
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityMedium)}, nil, nil)
		assert.Equal(t, ModeBalanced, d.Mode)
		assert.Equal(t, "balanced", d.Intensity)
	})

	t.Run("instinct escape outranks support contexts", func(t *testing.T) {
		events := []event.Event{
			responseAt(-2*time.Hour, "snooze", "recovering"),
			responseAt(-time.Hour, "snooze", "instinct_escape"),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, ModeFocusedOverride, d.Mode)
	})
}

func TestFrictionBudget(t *testing.T) {
	t.Run("three responses in window exceed max of two", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{
			responseAt(-1*time.Hour, "confirm", ""),
			responseAt(-2*time.Hour, "snooze", ""),
			responseAt(-3*time.Hour, "dismiss", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, 3, d.FrictionBudget.PromptCount)
		assert.True(t, d.FrictionBudget.BudgetExceeded)
		assert.True(t, d.FrictionBudget.Suppressed)
		assert.True(t, d.Suppressed())
	})

	t.Run("responses outside the window do not count", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{
			responseAt(-13*time.Hour, "confirm", ""),
			responseAt(-14*time.Hour, "snooze", ""),
			responseAt(-13*time.Hour, "confirm", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, 0, d.FrictionBudget.PromptCount)
		assert.False(t, d.FrictionBudget.BudgetExceeded)
		assert.False(t, d.FrictionBudget.Suppressed)
	})

	t.Run("override mode is exempt from suppression", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.ReminderBudgetMaxPrompts = 1 })
		events := []event.Event{
			responseAt(-1*time.Hour, "snooze", ""),
			responseAt(-2*time.Hour, "snooze", ""),
		}
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityHigh)}, events, events)
		require.Equal(t, ModeFocusedOverride, d.Mode)
		assert.True(t, d.FrictionBudget.BudgetExceeded)
		assert.False(t, d.FrictionBudget.Suppressed)
		assert.False(t, d.Suppressed())
	})

	t.Run("enforce off records but never suppresses", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.ReminderBudgetEnforce = false })
		events := []event.Event{
			responseAt(-1*time.Hour, "snooze", ""),
			responseAt(-2*time.Hour, "snooze", ""),
			responseAt(-3*time.Hour, "snooze", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.True(t, d.FrictionBudget.BudgetExceeded)
		assert.False(t, d.FrictionBudget.Enforced)
		assert.False(t, d.FrictionBudget.Suppressed)
	})
}

func TestCooldown(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("recent response starts the quiet period", func(t *testing.T) {
		events := []event.Event{responseAt(-2*time.Hour, "confirm", "")}
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityMedium)}, events, events)
		require.Equal(t, ModeBalanced, d.Mode)
		require.True(t, d.Cooldown.Active)
		assert.Equal(t, 6, d.Cooldown.Hours)
		next := policyNow.Add(4 * time.Hour).Format(time.RFC3339)
		assert.Equal(t, next, d.Cooldown.NextEligibleAt)
	})

	t.Run("active cooldown suppresses non-override modes", func(t *testing.T) {
		events := []event.Event{responseAt(-2*time.Hour, "confirm", "")}
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityMedium)}, events, events)
		require.True(t, d.Cooldown.Active)
		assert.True(t, d.Suppressed())

		d = e.Evaluate([]retro.Signal{activeSignal(retro.SeverityHigh)}, events, events)
		require.Equal(t, ModeFocusedOverride, d.Mode)
		assert.False(t, d.Suppressed())
	})

	t.Run("elapsed cooldown is inactive", func(t *testing.T) {
		events := []event.Event{responseAt(-7*time.Hour, "confirm", "")}
		d := e.Evaluate([]retro.Signal{activeSignal(retro.SeverityMedium)}, events, events)
		assert.False(t, d.Cooldown.Active)
		assert.Empty(t, d.Cooldown.NextEligibleAt)
		assert.False(t, d.Suppressed())
	})

	t.Run("no responses means no cooldown", func(t *testing.T) {
		d := e.Evaluate(nil, nil, nil)
		assert.False(t, d.Cooldown.Active)
	})

	t.Run("support recovery uses the longer window", func(t *testing.T) {
		events := []event.Event{responseAt(-7*time.Hour, "snooze", "recovering")}
		d := e.Evaluate(nil, events, events)
		require.Equal(t, ModeSupportRecovery, d.Mode)
		assert.Equal(t, 8, d.Cooldown.Hours)
		assert.True(t, d.Cooldown.Active)
	})
}

func TestEscalation(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("no resistance stays gentle", func(t *testing.T) {
		events := []event.Event{responseAt(-time.Hour, "confirm", "")}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, StageGentleNudge, d.Escalation.Stage)
		assert.Equal(t, 0, d.Escalation.ResistanceCount)
		require.NotNil(t, d.Escalation.ConfirmationRatio)
		assert.InDelta(t, 1.0, *d.Escalation.ConfirmationRatio, 0.001)
	})

	t.Run("two resistances become a firm reminder", func(t *testing.T) {
		events := []event.Event{
			responseAt(-24*time.Hour, "snooze", ""),
			responseAt(-48*time.Hour, "dismiss", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, StageFirmReminder, d.Escalation.Stage)
		assert.Equal(t, 2, d.Escalation.ResistanceCount)
		require.NotNil(t, d.Escalation.ConfirmationRatio)
		assert.InDelta(t, 0.0, *d.Escalation.ConfirmationRatio, 0.001)
	})

	t.Run("four resistances reach periodic check", func(t *testing.T) {
		events := []event.Event{
			responseAt(-12*time.Hour, "snooze", ""),
			responseAt(-24*time.Hour, "dismiss", ""),
			responseAt(-48*time.Hour, "snooze", ""),
			responseAt(-72*time.Hour, "dismiss", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, StagePeriodicCheck, d.Escalation.Stage)
		assert.Equal(t, 4, d.Escalation.ResistanceCount)
	})

	t.Run("resistance outside the window decays", func(t *testing.T) {
		events := []event.Event{
			responseAt(-8*24*time.Hour, "dismiss", ""),
			responseAt(-9*24*time.Hour, "snooze", ""),
			responseAt(-24*time.Hour, "snooze", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.Equal(t, StageGentleNudge, d.Escalation.Stage)
		assert.Equal(t, 1, d.Escalation.ResistanceCount)
	})

	t.Run("no responses leaves the ratio unknown", func(t *testing.T) {
		d := e.Evaluate(nil, nil, nil)
		assert.Nil(t, d.Escalation.ConfirmationRatio)
	})

	t.Run("window wider than the report lookback reads history", func(t *testing.T) {
		wide := newTestEngine(t, func(th *config.Thresholds) { th.EscalationWindowDays = 14 })
		history := []event.Event{
			responseAt(-10*24*time.Hour, "dismiss", ""),
			responseAt(-9*24*time.Hour, "snooze", ""),
		}
		d := wide.Evaluate(nil, nil, history)
		assert.Equal(t, 2, d.Escalation.ResistanceCount)
		assert.Equal(t, StageFirmReminder, d.Escalation.Stage)
	})
}

func TestSafeMode(t *testing.T) {
	t.Run("heavy resistance recommends entry", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.SafeModeResistanceThreshold = 3 })
		events := []event.Event{
			responseAt(-1*time.Hour, "dismiss", ""),
			responseAt(-2*time.Hour, "dismiss", ""),
			responseAt(-3*time.Hour, "snooze", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.True(t, d.SafeMode.Recommendation.ShouldEnter)
		assert.False(t, d.SafeMode.Active)
		assert.Equal(t, ReasonHighResistance, d.SafeMode.Recommendation.Reason)
		assert.Equal(t, 3, d.SafeMode.ResistanceCount)
	})

	t.Run("healthy confirmation ratio blocks entry", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.SafeModeResistanceThreshold = 2 })
		events := []event.Event{
			responseAt(-1*time.Hour, "dismiss", ""),
			responseAt(-2*time.Hour, "snooze", ""),
			responseAt(-3*time.Hour, "confirm", ""),
			responseAt(-4*time.Hour, "confirm", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Recommendation.ShouldEnter)
		require.NotNil(t, d.SafeMode.ConfirmationRatio)
		assert.InDelta(t, 0.5, *d.SafeMode.ConfirmationRatio, 0.001)
	})

	t.Run("too few responses blocks entry", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.SafeModeResistanceThreshold = 1 })
		events := []event.Event{responseAt(-time.Hour, "dismiss", "")}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Recommendation.ShouldEnter)
	})

	t.Run("entered event makes it active", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{safeModeAt(-2*time.Hour, true)}
		d := e.Evaluate(nil, events, events)
		assert.True(t, d.SafeMode.Active)
		assert.Equal(t, ReasonHighResistance, d.SafeMode.Reason)
		assert.False(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("exited event clears it", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{
			safeModeAt(-4*time.Hour, true),
			safeModeAt(-1*time.Hour, false),
		}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Active)
		assert.NotEmpty(t, d.SafeMode.ExitedAt)
	})

	t.Run("recovery confirmations after cooldown recommend exit", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{
			safeModeAt(-25*time.Hour, true),
			responseAt(-3*time.Hour, "confirm", ""),
			responseAt(-1*time.Hour, "confirm", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.True(t, d.SafeMode.Active)
		assert.True(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("confirmations before cooldown elapses do not exit", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{
			safeModeAt(-5*time.Hour, true),
			responseAt(-3*time.Hour, "confirm", ""),
			responseAt(-1*time.Hour, "confirm", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("entry older than the lookback window still holds", func(t *testing.T) {
		e := newTestEngine(t, nil)
		log := []event.Event{safeModeAt(-8*24*time.Hour, true)}
		d := e.Evaluate(nil, nil, log)
		assert.True(t, d.SafeMode.Active)
		assert.NotEmpty(t, d.SafeMode.EnteredAt)
		assert.False(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("confirmations outside the window still unlock exit", func(t *testing.T) {
		e := newTestEngine(t, nil)
		log := []event.Event{
			safeModeAt(-8*24*time.Hour, true),
			responseAt(-6*24*time.Hour, "confirm", ""),
			responseAt(-5*24*time.Hour, "confirm", ""),
		}
		d := e.Evaluate(nil, nil, log)
		assert.True(t, d.SafeMode.Active)
		assert.True(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("cooldown elapse alone does not exit", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{safeModeAt(-25*time.Hour, true)}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("disabling the feature while active recommends exit", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) { th.SafeModeEnabled = false })
		events := []event.Event{safeModeAt(-1*time.Hour, true)}
		d := e.Evaluate(nil, events, events)
		assert.True(t, d.SafeMode.Active)
		assert.True(t, d.SafeMode.Recommendation.ShouldExit)
	})

	t.Run("disabled never recommends entry", func(t *testing.T) {
		e := newTestEngine(t, func(th *config.Thresholds) {
			th.SafeModeEnabled = false
			th.SafeModeResistanceThreshold = 1
		})
		events := []event.Event{
			responseAt(-1*time.Hour, "dismiss", ""),
			responseAt(-2*time.Hour, "dismiss", ""),
			responseAt(-3*time.Hour, "dismiss", ""),
		}
		d := e.Evaluate(nil, events, events)
		assert.False(t, d.SafeMode.Enabled)
		assert.False(t, d.SafeMode.Recommendation.ShouldEnter)
	})

	t.Run("active safe mode suppresses display", func(t *testing.T) {
		e := newTestEngine(t, nil)
		events := []event.Event{safeModeAt(-2*time.Hour, true)}
		d := e.Evaluate(nil, events, events)
		require.True(t, d.SafeMode.Active)
		assert.True(t, d.Suppressed())
	})
}

func TestFingerprint(t *testing.T) {
	signals := []retro.Signal{
		{Name: "repeated_skip", Active: true, Severity: retro.SeverityMedium, Count: 3, Threshold: 2},
		{Name: "l2_interruption", Active: false, Severity: retro.SeverityInfo, Count: 0, Threshold: 1},
	}

	t.Run("stable across signal ordering", func(t *testing.T) {
		a := Fingerprint(7, "Take a short walk", signals)
		reversed := []retro.Signal{signals[1], signals[0]}
		b := Fingerprint(7, "Take a short walk", reversed)
		assert.Equal(t, a, b)
	})

	t.Run("format and sensitivity", func(t *testing.T) {
		a := Fingerprint(7, "Take a short walk", signals)
		require.Len(t, a, len("gcf_")+16)
		assert.Regexp(t, "^gcf_[0-9a-f]{16}$", a)
		assert.NotEqual(t, a, Fingerprint(14, "Take a short walk", signals))
		assert.NotEqual(t, a, Fingerprint(7, "Different suggestion", signals))
	})

	t.Run("threshold change moves the context", func(t *testing.T) {
		a := Fingerprint(7, "Take a short walk", signals)
		bumped := make([]retro.Signal, len(signals))
		copy(bumped, signals)
		bumped[0].Threshold = 5
		assert.NotEqual(t, a, Fingerprint(7, "Take a short walk", bumped))
	})

	t.Run("inactive signals do not contribute", func(t *testing.T) {
		a := Fingerprint(7, "Take a short walk", signals)
		b := Fingerprint(7, "Take a short walk", signals[:1])
		assert.Equal(t, a, b)
	})
}
