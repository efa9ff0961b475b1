package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is the durable event log.
type Store interface {
	// Append validates, normalizes and persists an event, returning the
	// stored form.
	Append(e Event) (Event, error)
	// All returns every stored event in append order.
	All() ([]Event, error)
	// Window returns events whose timestamp falls in [from, to).
	Window(from, to time.Time) ([]Event, error)
	// Count returns the number of stored events.
	Count() (int, error)
}

// AppendHook observes each successful append together with the running
// event count. Used to drive snapshotting without coupling the store to
// the snapshot manager.
type AppendHook func(e Event, count int)

// LogStore is a JSONL file-backed Store. One JSON object per line,
// append-only, fsynced per write.
type LogStore struct {
	mu    sync.Mutex
	path  string
	clock func() time.Time
	hooks []AppendHook
	count int

	validate func(Event) error
}

// NewLogStore opens (creating if needed) the JSONL log at path.
func NewLogStore(path string) (*LogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("event log dir: %w", err)
	}
	s := &LogStore{
		path:     path,
		clock:    time.Now,
		validate: ValidateStrict,
	}
	n, err := s.scanCount()
	if err != nil {
		return nil, err
	}
	s.count = n
	return s, nil
}

// SetClock overrides the wall clock. Test hook.
func (s *LogStore) SetClock(clock func() time.Time) { s.clock = clock }

// AddAppendHook registers a post-append observer. Hooks run in
// registration order after each successful append.
func (s *LogStore) AddAppendHook(hook AppendHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// SetValidator replaces the schema validator. ValidateLegacy admits
// events from older logs that omit identity fields.
func (s *LogStore) SetValidator(v func(Event) error) { s.validate = v }

func (s *LogStore) Append(e Event) (Event, error) {
	stored, count, hooks, err := s.appendLocked(e)
	if err != nil {
		return Event{}, err
	}
	// Hooks run outside the lock so they can read the store back.
	for _, hook := range hooks {
		hook(stored, count)
	}
	return stored, nil
}

func (s *LogStore) appendLocked(e Event) (Event, int, []AppendHook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Normalize(s.clock())
	if err := s.validate(e); err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}

	line, err := e.Marshal()
	if err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}
	if err := f.Sync(); err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}

	s.count++
	return e, s.count, s.hooks, nil
}

func (s *LogStore) All() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

func (s *LogStore) Window(from, to time.Time) ([]Event, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(all))
	for _, e := range all {
		t, err := e.Time()
		if err != nil {
			slog.Warn("event with unparseable timestamp excluded from window", "event_id", e.EventID, "error", err)
			continue
		}
		if !t.Before(from) && t.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *LogStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

func (s *LogStore) readAll() ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			// A torn or corrupted line must not sink the whole
			// replay; skip it and keep going.
			slog.Warn("skipping malformed event log line", "path", s.path, "line", lineNo, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}

func (s *LogStore) scanCount() (int, error) {
	events, err := s.readAll()
	if err != nil {
		return 0, err
	}
	return len(events), nil
}
