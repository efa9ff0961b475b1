package guardian

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
	"github.com/eudaimon-labs/lifeos/core/pkg/policy"
)

var guardianNow = time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGuardian(t *testing.T, level string) (*Guardian, *testClock) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:               dir,
		EventLogPath:          filepath.Join(dir, "event_log.jsonl"),
		SnapshotDir:           filepath.Join(dir, "snapshots"),
		RegistryPath:          filepath.Join(dir, "goal_registry.json"),
		LogLevel:              "INFO",
		SnapshotInterval:      50,
		SnapshotRetentionDays: 30,
		InterventionLevel:     level,
		EnergyPhases:          config.DefaultEnergyPhases(),
		ProgressPredicates:    config.DefaultProgressPredicates(),
		Thresholds:            config.DefaultThresholds(),
	}

	g, err := Open(cfg)
	require.NoError(t, err)
	clock := &testClock{now: guardianNow}
	g.SetClock(clock.Now)
	return g, clock
}

func appendAt(t *testing.T, g *Guardian, clock *testClock, at time.Time, typ string, payload map[string]any) {
	t.Helper()
	saved := clock.now
	clock.now = at
	_, err := g.Store().Append(event.Event{Type: typ, Payload: payload})
	require.NoError(t, err)
	clock.now = saved
}

func skipTask(t *testing.T, g *Guardian, clock *testClock, at time.Time, taskID string) {
	appendAt(t, g, clock, at, "task_updated", map[string]any{
		"id":      taskID,
		"updates": map[string]any{"status": "skipped"},
	})
}

func respond(t *testing.T, g *Guardian, clock *testClock, at time.Time, action, context, fingerprint string) {
	payload := map[string]any{
		"days":        7,
		"fingerprint": fingerprint,
		"action":      action,
	}
	if context != "" {
		payload["context"] = context
	}
	appendAt(t, g, clock, at, ledger.EventResponded, payload)
}

func TestBuildResponseQuietPeriod(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelSoft)
	appendAt(t, g, clock, guardianNow.Add(-time.Hour), "progress_updated", map[string]any{
		"goal_id": "g1",
		"message": "first draft done",
	})

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)

	assert.Equal(t, config.LevelSoft, resp.InterventionLevel)
	assert.True(t, resp.Display)
	assert.False(t, resp.RequireConfirm)
	assert.Equal(t, "Execution was steady this period; no unusual signals.", resp.Suggestion)
	assert.Empty(t, resp.SuggestionSources)
	assert.Len(t, resp.DeviationSignals, 3)
	assert.Regexp(t, "^gcf_[0-9a-f]{16}$", resp.ConfirmationAction.Fingerprint)
	assert.Equal(t, ConfirmEndpoint, resp.ConfirmationAction.Endpoint)
	assert.Equal(t, "POST", resp.ConfirmationAction.Method)
	assert.Equal(t, RespondEndpoint, resp.ResponseAction.Endpoint)
	assert.Equal(t, ledger.AllowedActions, resp.ResponseAction.AllowedActions)
	assert.Equal(t, policy.ModeLowFrequencyObserve, resp.GuardianRole.Mode)
	assert.Equal(t, RoleBlueprintSelf, resp.GuardianRole.Representing)
	assert.Equal(t, RoleInstinctSelf, resp.GuardianRole.Facing)
	assert.Contains(t, resp.Explainability.WhyThisSuggestion, "No deviation signals")
}

func TestBuildResponseObserveOnlyHidesSuggestion(t *testing.T) {
	g, _ := newTestGuardian(t, config.LevelObserveOnly)

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)

	assert.False(t, resp.Display)
	assert.Empty(t, resp.Suggestion)
	assert.False(t, resp.RequireConfirm)
	assert.Equal(t, policy.ModeBalanced, resp.GuardianRole.Mode)
}

func TestBuildResponseRepeatedSkipsRequireConfirmation(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelAsk)
	for i, id := range []string{"t1", "t2", "t3"} {
		skipTask(t, g, clock, guardianNow.Add(-time.Duration(i+1)*time.Hour), id)
	}

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)

	assert.True(t, resp.Display)
	assert.True(t, resp.RequireConfirm)
	assert.True(t, resp.ConfirmationAction.Required)
	require.NotEmpty(t, resp.SuggestionSources)
	names := make([]string, 0, len(resp.SuggestionSources))
	for _, src := range resp.SuggestionSources {
		names = append(names, src.Signal)
	}
	assert.Contains(t, names, "repeated_skip")
	assert.Contains(t, resp.Explainability.WhyThisSuggestion, "repeated_skip")
	assert.NotEmpty(t, resp.Suggestion)
}

func TestConfirmFlow(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelAsk)
	skipTask(t, g, clock, guardianNow.Add(-time.Hour), "t1")
	skipTask(t, g, clock, guardianNow.Add(-2*time.Hour), "t2")

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)
	fp := resp.ConfirmationAction.Fingerprint
	require.True(t, resp.RequireConfirm)

	status, err := g.Confirm(7, fp, "sounds right")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, status)

	status, err = g.Confirm(7, fp, "")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusAlreadyConfirmed, status)

	after, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.True(t, after.ConfirmationAction.Confirmed)
	assert.NotEmpty(t, after.ConfirmationAction.ConfirmedAt)
	assert.False(t, after.RequireConfirm)

	_, err = g.Confirm(7, "gcf_0000000000000000", "")
	assert.ErrorIs(t, err, ledger.ErrStaleFingerprint)

	require.NoError(t, g.Audit().VerifyChain())
	entries := g.Audit().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "INTERVENTION_CONFIRMED", entries[len(entries)-1].Action)
}

func TestRespondFlowDrivesModeAndRecoveryStep(t *testing.T) {
	g, _ := newTestGuardian(t, config.LevelSoft)

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)
	fp := resp.ResponseAction.Fingerprint

	status, err := g.Respond(7, fp, "snooze", "recovering", "", "one small task")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusResponded, status)

	after, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeSupportRecovery, after.GuardianRole.Mode)
	assert.Equal(t, RoleReflectiveSelf, after.GuardianRole.Facing)
	require.NotNil(t, after.ResponseAction.Latest)
	assert.Equal(t, "snooze", after.ResponseAction.Latest.Action)
	assert.Contains(t, after.Explainability.WhatHappensNext, "one small task")

	_, err = g.Respond(7, fp, "stall", "", "", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAction)
}

func TestBudgetSuppressionHidesSuggestion(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelAsk)
	respond(t, g, clock, guardianNow.Add(-time.Hour), "confirm", "", "gcf_a")
	respond(t, g, clock, guardianNow.Add(-2*time.Hour), "confirm", "", "gcf_b")

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)

	assert.True(t, resp.InterventionPolicy.FrictionBudget.Suppressed)
	assert.False(t, resp.Display)
	assert.Empty(t, resp.Suggestion)
	assert.False(t, resp.RequireConfirm)
	assert.Contains(t, resp.Explainability.WhyNow, "prompt budget")
}

func TestSafeModeEntryAndHysteresis(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelSoft)
	for i := 0; i < 5; i++ {
		respond(t, g, clock, guardianNow.Add(-time.Duration(i+1)*time.Hour), "dismiss", "", "gcf_x")
	}

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.True(t, resp.Authority.SafeMode.Active)
	assert.Equal(t, policy.ReasonHighResistance, resp.Authority.SafeMode.Reason)
	assert.False(t, resp.Display)
	assert.Contains(t, resp.Explainability.WhyNow, "Safe mode")

	countEntered := func() int {
		events, err := g.Store().All()
		require.NoError(t, err)
		n := 0
		for _, e := range events {
			if e.Type == policy.EventSafeModeEntered {
				n++
			}
		}
		return n
	}
	require.Equal(t, 1, countEntered())

	// Already active, no second transition.
	again, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.True(t, again.Authority.SafeMode.Active)
	assert.Equal(t, 1, countEntered())

	// Cooldown elapse alone is not enough to leave.
	clock.Advance(25 * time.Hour)
	still, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.True(t, still.Authority.SafeMode.Active)

	// Confirmations after entry plus the elapsed cooldown unlock the exit.
	for i := 0; i < 3; i++ {
		respond(t, g, clock, clock.Now().Add(-time.Duration(i+1)*time.Hour), "confirm", "", "gcf_x")
	}
	recovered, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.False(t, recovered.Authority.SafeMode.Active)
	assert.NotEmpty(t, recovered.Authority.SafeMode.ExitedAt)

	require.NoError(t, g.Audit().VerifyChain())
}

func TestSafeModePersistsPastLookbackWindow(t *testing.T) {
	g, clock := newTestGuardian(t, config.LevelSoft)
	for i := 0; i < 5; i++ {
		respond(t, g, clock, guardianNow.Add(-time.Duration(i+1)*time.Hour), "dismiss", "", "gcf_x")
	}

	resp, err := g.BuildResponse(7)
	require.NoError(t, err)
	require.True(t, resp.Authority.SafeMode.Active)

	// The entry event ages out of the lookback window; the state holds
	// until an exit event lands.
	clock.Advance(8 * 24 * time.Hour)
	later, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.True(t, later.Authority.SafeMode.Active)
	assert.NotEmpty(t, later.Authority.SafeMode.EnteredAt)
	assert.Empty(t, later.Authority.SafeMode.ExitedAt)
	assert.False(t, later.Display)
}

func TestRawTimeTickAppendForcesSnapshot(t *testing.T) {
	g, _ := newTestGuardian(t, config.LevelSoft)

	_, err := g.Store().Append(event.Event{Type: EventTimeTick, Payload: map[string]any{
		"date":          "2026-02-11",
		"previous_date": "2026-02-10",
	}})
	require.NoError(t, err)

	names, err := g.snaps.List()
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}

func TestTickAdvancesDateAndCheckpoints(t *testing.T) {
	g, _ := newTestGuardian(t, config.LevelSoft)

	require.NoError(t, g.Tick("2026-02-11", "2026-02-10"))

	st, err := g.State()
	require.NoError(t, err)
	assert.Equal(t, "2026-02-11", st.TimeState.CurrentDate)

	names, err := g.snaps.List()
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}

func TestReloadRebuildsEngines(t *testing.T) {
	g, _ := newTestGuardian(t, config.LevelSoft)
	g.cfg.Thresholds.RepeatedSkip = 99

	require.NoError(t, g.Reload())
	resp, err := g.BuildResponse(7)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeBalanced, resp.GuardianRole.Mode)
}
