package state

import (
	"encoding/json"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// Apply folds a single event into the state. It is deterministic and
// reads nothing but its arguments; events of unknown type are no-ops so
// that logs written by newer builds still replay.
func Apply(s *State, e event.Event) {
	switch e.Type {
	case "profile_updated":
		applyProfileUpdated(s, e)
	case "onboarding_completed":
		s.Profile.OnboardingCompleted = true
	case "preferences_updated":
		prefs, _ := e.Payload["preferences"].(map[string]any)
		if s.Profile.Preferences == nil {
			s.Profile.Preferences = map[string]any{}
		}
		for k, v := range prefs {
			s.Profile.Preferences[k] = v
		}

	case "goal_created":
		raw, ok := e.Payload["goal"].(map[string]any)
		if !ok {
			return
		}
		var g Goal
		if !decode(raw, &g) || g.ID == "" {
			return
		}
		if g.Status == "" {
			g.Status = GoalPendingConfirm
		}
		s.Goals = append(s.Goals, g)
	case "goal_updated":
		id := e.PayloadString("id")
		updates, _ := e.Payload["updates"].(map[string]any)
		if g := s.GoalByID(id); g != nil {
			merge(g, updates)
		}
	case "goal_confirmed":
		if g := s.GoalByID(e.PayloadString("id")); g != nil {
			g.Status = GoalActive
			g.ConfirmedAt = e.Timestamp
		}

	case "task_created":
		raw, ok := e.Payload["task"].(map[string]any)
		if !ok {
			return
		}
		var t Task
		if !decode(raw, &t) || t.ID == "" {
			return
		}
		if t.Status == "" {
			t.Status = TaskPending
		}
		s.Tasks = append(s.Tasks, t)
	case "task_updated":
		id := e.PayloadString("id")
		updates, _ := e.Payload["updates"].(map[string]any)
		if t := s.TaskByID(id); t != nil {
			merge(t, updates)
		}

	case "execution_started":
		raw, ok := e.Payload["execution"].(map[string]any)
		if !ok {
			return
		}
		var x Execution
		if !decode(raw, &x) || x.ID == "" {
			return
		}
		s.Executions = append(s.Executions, x)
	case "execution_completed":
		id := e.PayloadString("id")
		for i := range s.Executions {
			if s.Executions[i].ID == id {
				s.Executions[i].Outcome = e.PayloadString("outcome")
				s.Executions[i].CompletedAt = e.PayloadString("completed_at")
				break
			}
		}

	case "time_tick":
		s.TimeState = TimeState{
			CurrentDate:  e.PayloadString("date"),
			PreviousDate: e.PayloadString("previous_date"),
		}
	}
}

func applyProfileUpdated(s *State, e event.Event) {
	field := e.PayloadString("field")
	if field == "" {
		return
	}
	value := e.Payload["value"]
	switch field {
	case "occupation":
		s.Profile.Occupation, _ = value.(string)
	case "focus_area":
		s.Profile.FocusArea, _ = value.(string)
	case "daily_hours":
		s.Profile.DailyHours, _ = value.(string)
	case "peak_hours":
		s.Profile.PeakHours = toIntSlice(value)
	default:
		if s.Profile.Attrs == nil {
			s.Profile.Attrs = map[string]any{}
		}
		s.Profile.Attrs[field] = value
	}
}

// decode maps a loose payload object onto a typed struct. Unknown keys
// are discarded, mirroring how replays of newer logs must not fail.
func decode(raw map[string]any, dst any) bool {
	b, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// merge overlays update keys on an existing struct by way of its JSON
// form, so only fields the struct models take effect.
func merge(dst any, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	b, err := json.Marshal(dst)
	if err != nil {
		return
	}
	var cur map[string]any
	if err := json.Unmarshal(b, &cur); err != nil {
		return
	}
	for k, v := range updates {
		cur[k] = v
	}
	decode(cur, dst)
}

func toIntSlice(v any) []int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		if f, ok := it.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
