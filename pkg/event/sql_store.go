package event

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SQLStore persists the event log in a relational table. It backs
// deployments that already run Postgres, and the sqlite driver covers
// single-host installs that want queryability over a flat file.
//
// The table keeps the full event body as JSON next to the indexed
// columns, so the fold reads exactly what was appended.
type SQLStore struct {
	mu       sync.Mutex
	db       *sql.DB
	clock    func() time.Time
	hooks    []AppendHook
	validate func(Event) error

	placeholder func(n int) string
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id   TEXT NOT NULL UNIQUE,
    type       TEXT NOT NULL,
    ts         TEXT NOT NULL,
    body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

const sqlSchemaPostgres = `
CREATE TABLE IF NOT EXISTS events (
    seq        BIGSERIAL PRIMARY KEY,
    event_id   TEXT NOT NULL UNIQUE,
    type       TEXT NOT NULL,
    ts         TEXT NOT NULL,
    body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// NewSQLStore wraps an open database handle. driver must be "sqlite" or
// "postgres"; it selects the DDL dialect and placeholder style.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{
		db:       db,
		clock:    time.Now,
		validate: ValidateStrict,
	}
	ddl := sqlSchema
	switch driver {
	case "sqlite":
		s.placeholder = func(int) string { return "?" }
	case "postgres":
		ddl = sqlSchemaPostgres
		s.placeholder = func(n int) string { return fmt.Sprintf("$%d", n) }
	default:
		return nil, fmt.Errorf("sql event store: unsupported driver %q", driver)
	}
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("sql event store migrate: %w", err)
	}
	return s, nil
}

// SetClock overrides the wall clock. Test hook.
func (s *SQLStore) SetClock(clock func() time.Time) { s.clock = clock }

// AddAppendHook registers a post-append observer. Hooks run in
// registration order after each successful append.
func (s *SQLStore) AddAppendHook(hook AppendHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *SQLStore) Append(e Event) (Event, error) {
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

func (s *SQLStore) appendLocked(e Event) (Event, int, []AppendHook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Normalize(s.clock())
	if err := s.validate(e); err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}
	body, err := e.Marshal()
	if err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}

	q := fmt.Sprintf(
		"INSERT INTO events (event_id, type, ts, body) VALUES (%s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
	)
	if _, err := s.db.Exec(q, e.EventID, e.Type, e.Timestamp, string(body)); err != nil {
		return Event{}, 0, nil, fmt.Errorf("append %s: %w", e.Type, err)
	}

	n, err := s.countLocked()
	if err != nil {
		return Event{}, 0, nil, err
	}
	return e, n, s.hooks, nil
}

func (s *SQLStore) All() ([]Event, error) {
	return s.query("SELECT body FROM events ORDER BY seq")
}

func (s *SQLStore) Window(from, to time.Time) ([]Event, error) {
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

func (s *SQLStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *SQLStore) countLocked() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("sql event store count: %w", err)
	}
	return n, nil
}

func (s *SQLStore) query(q string, args ...any) ([]Event, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("sql event store query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sql event store scan: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			slog.Warn("skipping malformed event row", "error", err)
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
