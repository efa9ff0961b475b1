package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/snapshot"
)

// Projector rebuilds state from the event log, using checkpoints to
// bound how much of the log a fresh load has to replay.
type Projector struct {
	store event.Store
	snaps *snapshot.Manager
}

// NewProjector wires the log to the checkpoint manager. snaps may be nil
// when checkpointing is disabled; Load degrades to a full replay.
func NewProjector(store event.Store, snaps *snapshot.Manager) *Projector {
	return &Projector{store: store, snaps: snaps}
}

// Rebuild replays the entire log from the empty state.
func (p *Projector) Rebuild() (*State, error) {
	events, err := p.store.All()
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	s := New()
	for _, e := range events {
		Apply(s, e)
	}
	return s, nil
}

// Load restores the latest checkpoint and replays only the events
// appended after it. Any problem with the checkpoint falls back to a
// full replay; the log is always the source of truth.
func (p *Projector) Load() (*State, error) {
	if p.snaps == nil {
		return p.Rebuild()
	}
	raw, meta, err := p.snaps.Latest()
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			slog.Warn("checkpoint unreadable, replaying full log", "error", err)
		}
		return p.Rebuild()
	}

	s := New()
	if err := json.Unmarshal(raw, s); err != nil {
		slog.Warn("checkpoint state undecodable, replaying full log", "error", err)
		return p.Rebuild()
	}

	events, err := p.store.All()
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if meta.EventCount > len(events) {
		// The log shrank underneath the checkpoint; trust the log.
		slog.Warn("checkpoint ahead of log, replaying full log",
			"checkpoint_events", meta.EventCount, "log_events", len(events))
		return p.Rebuild()
	}
	for _, e := range events[meta.EventCount:] {
		Apply(s, e)
	}
	return s, nil
}

// Checkpoint archives the current full-replay state. force bypasses the
// interval gate; used after time_tick so day boundaries always persist.
func (p *Projector) Checkpoint(force bool) (string, error) {
	if p.snaps == nil {
		return "", nil
	}
	n, err := p.store.Count()
	if err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	if !force && !p.snaps.ShouldSnapshot(n) {
		return "", nil
	}
	s, err := p.Rebuild()
	if err != nil {
		return "", err
	}
	return p.snaps.Create(s, n, true)
}
