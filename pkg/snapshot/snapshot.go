// Package snapshot persists periodic checkpoints of the folded state so
// that startup can replay only the event tail instead of the full log.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const envelopeVersion = "1.0"

// ErrNoSnapshot is returned by Latest when no checkpoint exists yet.
var ErrNoSnapshot = errors.New("no snapshot available")

// Meta describes when a checkpoint was taken and how much of the log it
// covers.
type Meta struct {
	CreatedAt  string `json:"created_at"`
	EventCount int    `json:"event_count"`
	Version    string `json:"version"`
}

// Envelope is the on-disk form of an archived checkpoint.
type Envelope struct {
	Meta  Meta            `json:"_meta"`
	State json.RawMessage `json:"state"`
}

// Info summarizes one archived checkpoint for listings.
type Info struct {
	Path       string `json:"path"`
	Filename   string `json:"filename"`
	CreatedAt  string `json:"created_at"`
	EventCount int    `json:"event_count"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Manager owns the snapshot directory and the "latest" pointer file.
type Manager struct {
	dir           string
	latestPath    string
	interval      int
	retentionDays int
	clock         func() time.Time
}

// NewManager configures checkpointing. latestPath holds the bare state of
// the most recent checkpoint for tools that want it without the envelope.
func NewManager(dir, latestPath string, interval, retentionDays int) *Manager {
	return &Manager{
		dir:           dir,
		latestPath:    latestPath,
		interval:      interval,
		retentionDays: retentionDays,
		clock:         time.Now,
	}
}

// SetClock overrides the wall clock. Test hook.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// ShouldSnapshot reports whether the log has grown by at least the
// configured interval since the last checkpoint.
func (m *Manager) ShouldSnapshot(currentCount int) bool {
	last := 0
	if _, meta, err := m.Latest(); err == nil {
		last = meta.EventCount
	}
	return currentCount-last >= m.interval
}

// Create archives a checkpoint of state covering eventCount events and
// refreshes the latest pointer. Unless force is set, it is a no-op when
// the interval has not elapsed; the returned path is "" in that case.
func (m *Manager) Create(state any, eventCount int, force bool) (string, error) {
	if !force && !m.ShouldSnapshot(eventCount) {
		return "", nil
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot dir: %w", err)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("snapshot encode: %w", err)
	}
	now := m.clock()
	env := Envelope{
		Meta: Meta{
			CreatedAt:  now.Format(time.RFC3339),
			EventCount: eventCount,
			Version:    envelopeVersion,
		},
		State: raw,
	}
	body, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot encode: %w", err)
	}

	path := filepath.Join(m.dir, fmt.Sprintf("snapshot_%s.json", now.Format("20060102_150405")))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("snapshot write: %w", err)
	}
	if m.latestPath != "" {
		if err := os.WriteFile(m.latestPath, raw, 0o644); err != nil {
			return "", fmt.Errorf("snapshot latest pointer: %w", err)
		}
	}
	return path, nil
}

// Latest returns the state and metadata of the most recent checkpoint.
func (m *Manager) Latest() (json.RawMessage, *Meta, error) {
	names, err := m.archiveNames()
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, ErrNoSnapshot
	}
	// Filenames embed the creation time, so lexicographic order is
	// chronological order.
	latest := names[len(names)-1]
	env, err := m.readEnvelope(filepath.Join(m.dir, latest))
	if err != nil {
		return nil, nil, err
	}
	return env.State, &env.Meta, nil
}

// List returns every archived checkpoint, newest first.
func (m *Manager) List() ([]Info, error) {
	names, err := m.archiveNames()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(m.dir, names[i])
		env, err := m.readEnvelope(path)
		if err != nil {
			continue
		}
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Path:       path,
			Filename:   names[i],
			CreatedAt:  env.Meta.CreatedAt,
			EventCount: env.Meta.EventCount,
			SizeBytes:  st.Size(),
		})
	}
	return infos, nil
}

// Cleanup removes checkpoints older than the retention window and
// returns how many were deleted.
func (m *Manager) Cleanup() (int, error) {
	names, err := m.archiveNames()
	if err != nil {
		return 0, err
	}
	cutoff := m.clock().AddDate(0, 0, -m.retentionDays)
	removed := 0
	for _, name := range names {
		path := filepath.Join(m.dir, name)
		env, err := m.readEnvelope(path)
		if err != nil {
			continue
		}
		created, err := time.Parse(time.RFC3339, env.Meta.CreatedAt)
		if err != nil {
			continue
		}
		if created.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (m *Manager) archiveNames() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot dir: %w", err)
	}
	var names []string
	for _, ent := range entries {
		name := ent.Name()
		if !ent.IsDir() && strings.HasPrefix(name, "snapshot_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) readEnvelope(path string) (*Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("snapshot decode %s: %w", filepath.Base(path), err)
	}
	return &env, nil
}
