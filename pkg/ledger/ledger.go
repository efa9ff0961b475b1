// Package ledger records and reads the human's confirmations and
// responses to Guardian interventions. Writes are idempotent per
// (fingerprint, action); a stale fingerprint is a conflict, never a
// silent append.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// Event types owned by this ledger.
const (
	EventConfirmed = "guardian_intervention_confirmed"
	EventResponded = "guardian_intervention_responded"
)

// Statuses returned by Confirm and Respond.
const (
	StatusConfirmed        = "confirmed"
	StatusAlreadyConfirmed = "already_confirmed"
	StatusResponded        = "responded"
	StatusAlreadyResponded = "already_responded"
)

// Actions and contexts the respond operation accepts.
var (
	AllowedActions  = []string{"confirm", "snooze", "dismiss"}
	AllowedContexts = []string{"recovering", "resource_blocked", "task_too_big", "instinct_escape"}
)

// ErrStaleFingerprint reports that the intervention being answered is no
// longer the current one; the caller should refetch and re-present.
var ErrStaleFingerprint = errors.New("confirmation fingerprint is stale")

// ErrInvalidAction reports an action outside AllowedActions.
var ErrInvalidAction = errors.New("invalid response action")

// ErrInvalidContext reports a context outside AllowedContexts.
var ErrInvalidContext = errors.New("invalid response context")

// Response is the decoded view of one responded event.
type Response struct {
	Timestamp    string `json:"timestamp"`
	Days         int    `json:"days"`
	Fingerprint  string `json:"fingerprint"`
	Action       string `json:"action"`
	Context      string `json:"context,omitempty"`
	Note         string `json:"note,omitempty"`
	RecoveryStep string `json:"recovery_step,omitempty"`
}

// Confirmation is the decoded view of one confirmed event.
type Confirmation struct {
	Timestamp   string `json:"timestamp"`
	Days        int    `json:"days"`
	Fingerprint string `json:"fingerprint"`
	Suggestion  string `json:"suggestion,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Ledger appends to and reads from the shared event store.
type Ledger struct {
	store event.Store
}

// New wraps the event store.
func New(store event.Store) *Ledger {
	return &Ledger{store: store}
}

// Confirm records that the human confirmed the intervention identified
// by fingerprint. current is the fingerprint of the intervention being
// shown now; a mismatch is a conflict and nothing is appended. A repeat
// confirmation of the same fingerprint is a no-op.
func (l *Ledger) Confirm(days int, fingerprint, current, suggestion string, signals []string, note string) (string, error) {
	if fingerprint != current {
		return "", fmt.Errorf("confirm %s: %w", fingerprint, ErrStaleFingerprint)
	}

	events, err := l.store.All()
	if err != nil {
		return "", fmt.Errorf("confirm: %w", err)
	}
	for _, c := range ConfirmationsFrom(events) {
		if c.Fingerprint == fingerprint {
			return StatusAlreadyConfirmed, nil
		}
	}

	payload := map[string]any{
		"days":        days,
		"fingerprint": fingerprint,
		"suggestion":  suggestion,
		"signals":     signals,
	}
	if note != "" {
		payload["note"] = note
	}
	if _, err := l.store.Append(event.Event{Type: EventConfirmed, Payload: payload}); err != nil {
		return "", fmt.Errorf("confirm: %w", err)
	}
	return StatusConfirmed, nil
}

// Respond records a confirm/snooze/dismiss answer. Identical repeats of
// (fingerprint, action) are no-ops; stale fingerprints conflict.
func (l *Ledger) Respond(days int, fingerprint, current, action, context, note, recoveryStep string) (string, error) {
	if !contains(AllowedActions, action) {
		return "", fmt.Errorf("respond %q: %w", action, ErrInvalidAction)
	}
	if context != "" && !contains(AllowedContexts, context) {
		return "", fmt.Errorf("respond context %q: %w", context, ErrInvalidContext)
	}
	if fingerprint != current {
		return "", fmt.Errorf("respond %s: %w", fingerprint, ErrStaleFingerprint)
	}

	events, err := l.store.All()
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	for _, r := range ResponsesFrom(events) {
		if r.Fingerprint == fingerprint && r.Action == action {
			return StatusAlreadyResponded, nil
		}
	}

	payload := map[string]any{
		"days":        days,
		"fingerprint": fingerprint,
		"action":      action,
	}
	if context != "" {
		payload["context"] = context
	}
	if note != "" {
		payload["note"] = note
	}
	if recoveryStep != "" {
		payload["recovery_step"] = recoveryStep
	}
	if _, err := l.store.Append(event.Event{Type: EventResponded, Payload: payload}); err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	return StatusResponded, nil
}

// ConfirmationsFrom decodes confirmed events, oldest first.
func ConfirmationsFrom(events []event.Event) []Confirmation {
	var out []Confirmation
	for _, e := range events {
		if e.Type != EventConfirmed {
			continue
		}
		out = append(out, Confirmation{
			Timestamp:   e.Timestamp,
			Days:        payloadInt(e, "days"),
			Fingerprint: e.PayloadString("fingerprint"),
			Suggestion:  e.PayloadString("suggestion"),
			Note:        e.PayloadString("note"),
		})
	}
	sortByTimestamp(out, func(c Confirmation) string { return c.Timestamp })
	return out
}

// ResponsesFrom decodes responded events, oldest first.
func ResponsesFrom(events []event.Event) []Response {
	var out []Response
	for _, e := range events {
		if e.Type != EventResponded {
			continue
		}
		out = append(out, Response{
			Timestamp:    e.Timestamp,
			Days:         payloadInt(e, "days"),
			Fingerprint:  e.PayloadString("fingerprint"),
			Action:       e.PayloadString("action"),
			Context:      e.PayloadString("context"),
			Note:         e.PayloadString("note"),
			RecoveryStep: e.PayloadString("recovery_step"),
		})
	}
	sortByTimestamp(out, func(r Response) string { return r.Timestamp })
	return out
}

// LatestConfirmation returns the newest confirmation for fingerprint.
func LatestConfirmation(events []event.Event, fingerprint string) *Confirmation {
	confirmations := ConfirmationsFrom(events)
	for i := len(confirmations) - 1; i >= 0; i-- {
		if confirmations[i].Fingerprint == fingerprint {
			return &confirmations[i]
		}
	}
	return nil
}

// LatestResponse returns the newest response, regardless of fingerprint.
func LatestResponse(events []event.Event) *Response {
	responses := ResponsesFrom(events)
	if len(responses) == 0 {
		return nil
	}
	return &responses[len(responses)-1]
}

func payloadInt(e event.Event, key string) int {
	f, ok := e.PayloadFloat(key)
	if !ok {
		return 0
	}
	return int(f)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sortByTimestamp[T any](items []T, ts func(T) string) {
	sort.SliceStable(items, func(i, j int) bool { return ts(items[i]) < ts(items[j]) })
}
