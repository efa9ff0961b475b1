package guardian

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/canonical"
)

// AuditEntry is one tamper-evident record of a Guardian action.
type AuditEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Details   string `json:"details,omitempty"`

	// PreviousHash links this entry to the preceding one.
	PreviousHash string `json:"previous_hash"`
	// Hash is the SHA-256 digest of this entry including PreviousHash.
	Hash string `json:"hash"`
}

// AuditLog is a hash-chained JSONL log of Guardian actions. Entries are
// loaded on open and appended through the chain, so any edit to a past
// record breaks verification.
type AuditLog struct {
	mu      sync.Mutex
	path    string
	entries []AuditEntry
	clock   func() time.Time
}

// OpenAuditLog loads (creating if needed) the audit log at path.
// Malformed lines are skipped with a warning; the chain check happens in
// VerifyChain, not on open.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit log dir: %w", err)
	}
	l := &AuditLog{path: path, clock: time.Now}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			slog.Warn("skipping malformed audit log line", "path", path, "line", lineNo, "error", err)
			continue
		}
		l.entries = append(l.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return l, nil
}

// SetClock overrides the wall clock. Test hook.
func (l *AuditLog) SetClock(clock func() time.Time) { l.clock = clock }

// Append records an action, linking it to the previous entry. details
// may be any JSON-serializable value and is stored canonicalized.
func (l *AuditLog) Append(actor, action, target string, details any) (*AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	detail := ""
	if details != nil {
		raw, err := canonical.JCS(details)
		if err != nil {
			return nil, fmt.Errorf("audit details: %w", err)
		}
		detail = string(raw)
	}

	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}

	now := l.clock().UTC()
	entry := AuditEntry{
		ID:           fmt.Sprintf("aud_%d", now.UnixNano()),
		Timestamp:    now.Format(time.RFC3339Nano),
		Actor:        actor,
		Action:       action,
		Target:       target,
		Details:      detail,
		PreviousHash: prevHash,
	}
	hash, err := entryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	if err := l.writeLine(entry); err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entry)
	return &entry, nil
}

// Entries returns a copy of the loaded chain, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// VerifyChain checks that every entry's PreviousHash matches its
// predecessor and that each stored Hash matches the entry content.
func (l *AuditLog) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.entries {
		if i == 0 {
			if entry.PreviousHash != "" {
				return fmt.Errorf("audit chain: first entry has non-empty previous hash")
			}
		} else if entry.PreviousHash != l.entries[i-1].Hash {
			return fmt.Errorf("audit chain broken at index %d: previous hash mismatch", i)
		}

		computed, err := entryHash(&entry)
		if err != nil {
			return fmt.Errorf("audit chain: rehash index %d: %w", i, err)
		}
		if computed != entry.Hash {
			return fmt.Errorf("audit chain: integrity failure at index %d", i)
		}
	}
	return nil
}

func (l *AuditLog) writeLine(entry AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return f.Sync()
}

// entryHash digests every field except Hash itself.
func entryHash(e *AuditEntry) (string, error) {
	return canonical.Hash(map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp,
		"actor":         e.Actor,
		"action":        e.Action,
		"target":        e.Target,
		"details":       e.Details,
		"previous_hash": e.PreviousHash,
	})
}
