// Package guardian is the top of the core: it owns the event store,
// the projected state, the retrospective analyzer, the intervention
// policy engine and the confirmation ledger, and assembles their
// outputs into the response surfaced to the human.
package guardian

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/goals"
	"github.com/eudaimon-labs/lifeos/core/pkg/ledger"
	"github.com/eudaimon-labs/lifeos/core/pkg/policy"
	"github.com/eudaimon-labs/lifeos/core/pkg/retro"
	"github.com/eudaimon-labs/lifeos/core/pkg/snapshot"
	"github.com/eudaimon-labs/lifeos/core/pkg/state"
)

// EventTimeTick marks a day boundary in the log.
const EventTimeTick = "time_tick"

// Guardian wires the core together over one shared event log.
type Guardian struct {
	cfg       *config.Config
	store     *event.LogStore
	snaps     *snapshot.Manager
	projector *state.Projector
	registry  *goals.Registry
	analyzer  *retro.Analyzer
	engine    *policy.Engine
	ledger    *ledger.Ledger
	audit     *AuditLog
	clock     func() time.Time
}

// Open builds a Guardian over the data directory named in cfg. The
// event log, snapshot directory and audit log are created on first use;
// a missing goal registry degrades to an empty one.
func Open(cfg *config.Config) (*Guardian, error) {
	store, err := event.NewLogStore(cfg.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}

	snaps := snapshot.NewManager(
		cfg.SnapshotDir,
		filepath.Join(cfg.DataDir, "current_state.json"),
		cfg.SnapshotInterval,
		cfg.SnapshotRetentionDays,
	)

	registry := goals.Open(cfg.RegistryPath)

	analyzer, err := retro.NewAnalyzer(registry, cfg)
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}

	audit, err := OpenAuditLog(filepath.Join(cfg.DataDir, "audit_log.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}

	g := &Guardian{
		cfg:       cfg,
		store:     store,
		snaps:     snaps,
		projector: state.NewProjector(store, snaps),
		registry:  registry,
		analyzer:  analyzer,
		engine:    policy.NewEngine(cfg.Thresholds),
		ledger:    ledger.New(store),
		audit:     audit,
		clock:     time.Now,
	}

	// Checkpoint on the store's cadence, not per request. A day
	// boundary always snapshots, however it reaches the log.
	store.AddAppendHook(func(e event.Event, count int) {
		force := e.Type == EventTimeTick
		if !force && !snaps.ShouldSnapshot(count) {
			return
		}
		if _, err := g.projector.Checkpoint(force); err != nil {
			slog.Warn("snapshot checkpoint failed", "error", err)
		}
	})

	return g, nil
}

// SetClock overrides the wall clock everywhere downstream. Test hook.
func (g *Guardian) SetClock(clock func() time.Time) {
	g.clock = clock
	g.store.SetClock(clock)
	g.snaps.SetClock(clock)
	g.analyzer.SetClock(clock)
	g.engine.SetClock(clock)
	g.audit.SetClock(clock)
}

// Store exposes the shared event log for direct appends.
func (g *Guardian) Store() *event.LogStore { return g.store }

// Registry exposes the goal registry.
func (g *Guardian) Registry() *goals.Registry { return g.registry }

// Audit exposes the hash-chained action log.
func (g *Guardian) Audit() *AuditLog { return g.audit }

// State returns the current projection, replaying the log tail on top
// of the latest snapshot when one exists.
func (g *Guardian) State() (*state.State, error) {
	return g.projector.Load()
}

// Rebuild replays the whole log from scratch, ignoring snapshots.
func (g *Guardian) Rebuild() (*state.State, error) {
	return g.projector.Rebuild()
}

// Checkpoint forces a snapshot of the fully replayed state and prunes
// snapshots past the retention window.
func (g *Guardian) Checkpoint() (string, error) {
	path, err := g.projector.Checkpoint(true)
	if err != nil {
		return "", err
	}
	if _, err := g.snaps.Cleanup(); err != nil {
		slog.Warn("snapshot cleanup failed", "error", err)
	}
	return path, nil
}

// Window returns the events of the trailing lookback window.
func (g *Guardian) Window(days int) ([]event.Event, error) {
	now := g.clock()
	return g.store.Window(now.AddDate(0, 0, -days), now.Add(time.Second))
}

// Report runs the retrospective analysis over the trailing window.
func (g *Guardian) Report(days int) (retro.Report, error) {
	events, err := g.Window(days)
	if err != nil {
		return retro.Report{}, fmt.Errorf("report: %w", err)
	}
	return g.analyzer.Report(events, days), nil
}

// Tick records a day boundary. The append hook snapshots on the tick;
// Tick only adds the retention sweep on top.
func (g *Guardian) Tick(date, previousDate string) error {
	_, err := g.store.Append(event.Event{
		Type: EventTimeTick,
		Payload: map[string]any{
			"date":          date,
			"previous_date": previousDate,
		},
	})
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	if _, err := g.snaps.Cleanup(); err != nil {
		slog.Warn("snapshot cleanup failed", "error", err)
	}
	return nil
}

// Reload re-reads the configuration overlay and rebuilds the pieces
// that cache threshold values.
func (g *Guardian) Reload() error {
	g.cfg.Reload()
	analyzer, err := retro.NewAnalyzer(g.registry, g.cfg)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	clock := g.clock
	g.analyzer = analyzer
	g.engine = policy.NewEngine(g.cfg.Thresholds)
	g.analyzer.SetClock(clock)
	g.engine.SetClock(clock)
	return nil
}

// Confirm records the human's confirmation of the currently presented
// intervention. fingerprint must match the current one or the call
// conflicts without writing.
func (g *Guardian) Confirm(days int, fingerprint, note string) (string, error) {
	resp, err := g.BuildResponse(days)
	if err != nil {
		return "", err
	}
	sources := activeSignalNames(resp.DeviationSignals)

	status, err := g.ledger.Confirm(days, fingerprint, resp.ConfirmationAction.Fingerprint, resp.Suggestion, sources, note)
	if err != nil {
		return "", err
	}
	if status == ledger.StatusConfirmed {
		if _, aerr := g.audit.Append("human", "INTERVENTION_CONFIRMED", fingerprint, map[string]any{
			"days":       days,
			"suggestion": resp.Suggestion,
		}); aerr != nil {
			slog.Warn("audit append failed", "error", aerr)
		}
	}
	return status, nil
}

// Respond records a confirm/snooze/dismiss answer to the current
// intervention.
func (g *Guardian) Respond(days int, fingerprint, action, context, note, recoveryStep string) (string, error) {
	resp, err := g.BuildResponse(days)
	if err != nil {
		return "", err
	}

	status, err := g.ledger.Respond(days, fingerprint, resp.ResponseAction.Fingerprint, action, context, note, recoveryStep)
	if err != nil {
		return "", err
	}
	if status == ledger.StatusResponded {
		if _, aerr := g.audit.Append("human", "INTERVENTION_RESPONDED", fingerprint, map[string]any{
			"days":    days,
			"action":  action,
			"context": context,
		}); aerr != nil {
			slog.Warn("audit append failed", "error", aerr)
		}
	}
	return status, nil
}
