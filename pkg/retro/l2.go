package retro

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// L2Thresholds echoes the ratio bands the verdict was computed against.
type L2Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// L2ProtectionPoint is one day of the protection trend.
type L2ProtectionPoint struct {
	Date        string   `json:"date"`
	Ratio       *float64 `json:"ratio"`
	Protected   int      `json:"protected"`
	Interrupted int      `json:"interrupted"`
}

// L2Protection measures how well deep-work blocks were defended.
// Ratio is nil when the window held no opportunities at all; the level
// is then "unknown" rather than a false alarm.
type L2Protection struct {
	Ratio         *float64            `json:"ratio"`
	Level         string              `json:"level"`
	Protected     int                 `json:"protected"`
	Interrupted   int                 `json:"interrupted"`
	Opportunities int                 `json:"opportunities"`
	Summary       string              `json:"summary"`
	Thresholds    L2Thresholds        `json:"thresholds"`
	Trend         []L2ProtectionPoint `json:"trend"`
}

// MicroRitual tracks intention/reflection adherence on deep-work
// sessions.
type MicroRitual struct {
	StartedWithIntention     int      `json:"started_with_intention"`
	CompletedWithReflection  int      `json:"completed_with_reflection"`
	StartIntentionRate       *float64 `json:"start_intention_rate"`
	CompletionReflectionRate *float64 `json:"completion_reflection_rate"`
}

// SessionEvent is a compact view of one session lifecycle event.
type SessionEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Detail    string `json:"detail"`
}

// L2Session summarizes the deep-work session lifecycle in the window.
type L2Session struct {
	Started         int            `json:"started"`
	Resumed         int            `json:"resumed"`
	Interrupted     int            `json:"interrupted"`
	Completed       int            `json:"completed"`
	CompletionRate  *float64       `json:"completion_rate"`
	RecoveryRate    *float64       `json:"recovery_rate"`
	ActiveSession   bool           `json:"active_session"`
	ActiveSessionID string         `json:"active_session_id,omitempty"`
	ResumeReady     bool           `json:"resume_ready"`
	ResumeSessionID string         `json:"resume_session_id,omitempty"`
	Latest          *SessionEvent  `json:"latest"`
	RecentEvents    []SessionEvent `json:"recent_events"`
	MicroRitual     MicroRitual    `json:"micro_ritual"`
}

// phaseAt classifies a time of day against the configured phase map.
func phaseAt(t time.Time, phases map[string]string) string {
	hhmm := t.Format("15:04")
	for window, phase := range phases {
		bounds := strings.SplitN(window, "-", 2)
		if len(bounds) != 2 {
			continue
		}
		if bounds[0] <= hhmm && hhmm < bounds[1] {
			return phase
		}
	}
	return ""
}

// analyzeL2Protection rates how L2-linked task outcomes went inside
// deep-work windows. Completions protect the block; skips interrupt it.
func (a *Analyzer) analyzeL2Protection(events []event.Event, th config.Thresholds) L2Protection {
	var goalTier, taskGoal map[string]string
	if a.registry != nil {
		goalTier, taskGoal = a.registry.TierMaps()
	}

	type dayAcc struct {
		protected   int
		interrupted int
	}
	byDate := map[string]*dayAcc{}
	protected, interrupted := 0, 0

	for _, e := range events {
		if e.Type != "task_updated" {
			continue
		}
		taskID := e.PayloadString("id")
		tier := goalTier[taskGoal[taskID]]
		if tier != "L2_FLOURISHING" {
			continue
		}
		t, err := e.Time()
		if err != nil || phaseAt(t, a.cfg.EnergyPhases) != "deep_work" {
			continue
		}
		updates, _ := e.Payload["updates"].(map[string]any)
		status, _ := updates["status"].(string)

		d := t.Format("2006-01-02")
		if byDate[d] == nil {
			byDate[d] = &dayAcc{}
		}
		switch status {
		case "completed":
			protected++
			byDate[d].protected++
		case "skipped", "expired":
			interrupted++
			byDate[d].interrupted++
		}
	}

	opportunities := protected + interrupted
	ratio := ratioOf(protected, opportunities)

	level := "unknown"
	summary := "No deep-work opportunities observed this period."
	if ratio != nil {
		switch {
		case *ratio >= th.L2ProtectionHigh:
			level = "high"
			summary = "Deep-work blocks were well protected."
		case *ratio >= th.L2ProtectionMedium:
			level = "medium"
			summary = "Deep-work protection was moderate; some blocks gave way."
		default:
			level = "low"
			summary = "Deep-work blocks were frequently interrupted; protect the next one deliberately."
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	trend := make([]L2ProtectionPoint, 0, len(dates))
	for _, d := range dates {
		acc := byDate[d]
		trend = append(trend, L2ProtectionPoint{
			Date:        d,
			Ratio:       ratioOf(acc.protected, acc.protected+acc.interrupted),
			Protected:   acc.protected,
			Interrupted: acc.interrupted,
		})
	}

	return L2Protection{
		Ratio:         ratio,
		Level:         level,
		Protected:     protected,
		Interrupted:   interrupted,
		Opportunities: opportunities,
		Summary:       summary,
		Thresholds:    L2Thresholds{High: th.L2ProtectionHigh, Medium: th.L2ProtectionMedium},
		Trend:         trend,
	}
}

var sessionEventTypes = map[string]string{
	"l2_session_started":     "started",
	"l2_session_resumed":     "resumed",
	"l2_session_interrupted": "interrupted",
	"l2_session_completed":   "completed",
}

// analyzeL2Session folds session lifecycle events per session id, in
// timestamp order.
func analyzeL2Session(events []event.Event) L2Session {
	var lifecycle []event.Event
	for _, e := range events {
		if _, ok := sessionEventTypes[e.Type]; ok {
			lifecycle = append(lifecycle, e)
		}
	}
	sort.SliceStable(lifecycle, func(i, j int) bool {
		return lifecycle[i].Timestamp < lifecycle[j].Timestamp
	})

	out := L2Session{RecentEvents: []SessionEvent{}}
	lastPhase := map[string]string{}
	var order []string

	for _, e := range lifecycle {
		phase := sessionEventTypes[e.Type]
		sid := e.PayloadString("session_id")

		switch phase {
		case "started":
			out.Started++
			if e.PayloadString("intention") != "" {
				out.MicroRitual.StartedWithIntention++
			}
		case "resumed":
			out.Resumed++
		case "interrupted":
			out.Interrupted++
		case "completed":
			out.Completed++
			if e.PayloadString("reflection") != "" {
				out.MicroRitual.CompletedWithReflection++
			}
		}

		if sid != "" {
			if _, seen := lastPhase[sid]; !seen {
				order = append(order, sid)
			}
			lastPhase[sid] = phase
		}

		detail := fmt.Sprintf("session %s %s", sid, phase)
		if reason := e.PayloadString("reason"); reason != "" {
			detail += " (" + reason + ")"
		}
		out.RecentEvents = append(out.RecentEvents, SessionEvent{
			Type:      e.Type,
			Timestamp: e.Timestamp,
			SessionID: sid,
			Detail:    detail,
		})
	}

	if n := len(out.RecentEvents); n > 0 {
		out.Latest = &out.RecentEvents[n-1]
		if n > 5 {
			out.RecentEvents = out.RecentEvents[n-5:]
		}
	}

	// Walk sessions newest-first so the flags land on the most recent
	// session in each condition.
	for i := len(order) - 1; i >= 0; i-- {
		sid := order[i]
		switch lastPhase[sid] {
		case "started", "resumed":
			if !out.ActiveSession {
				out.ActiveSession = true
				out.ActiveSessionID = sid
			}
		case "interrupted":
			if !out.ResumeReady {
				out.ResumeReady = true
				out.ResumeSessionID = sid
			}
		}
	}

	out.CompletionRate = ratioOf(out.Completed, out.Completed+out.Interrupted)
	out.RecoveryRate = ratioOf(out.Resumed, out.Interrupted)
	out.MicroRitual.StartIntentionRate = ratioOf(out.MicroRitual.StartedWithIntention, out.Started)
	out.MicroRitual.CompletionReflectionRate = ratioOf(out.MicroRitual.CompletedWithReflection, out.Completed)
	return out
}
