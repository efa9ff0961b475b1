// Package retro derives the Guardian's read-only retrospective view from
// the event log: rhythm, alignment, friction, deep-work protection, and
// deviation signals over a sliding day window.
//
// Everything here is a projection. Nothing in this package appends
// events or mutates state.
package retro

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/goals"
)

// Severity labels on deviation signals.
const (
	SeverityInfo   = "info"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Period bounds a report window.
type Period struct {
	Days      int    `json:"days"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Rhythm reports whether the execution cadence broke within the window.
type Rhythm struct {
	Broken  bool   `json:"broken"`
	Summary string `json:"summary"`
}

// TrendPoint is one day of averaged alignment score samples.
type TrendPoint struct {
	Date     string  `json:"date"`
	AvgScore float64 `json:"avg_score"`
	Samples  int     `json:"samples"`
}

// AlignmentTrend summarizes the direction of alignment scores.
type AlignmentTrend struct {
	Available bool         `json:"available"`
	Direction string       `json:"direction,omitempty"`
	Points    []TrendPoint `json:"points"`
	Summary   string       `json:"summary"`
}

// Alignment reports drift from the vision/objective tree.
type Alignment struct {
	Deviated bool           `json:"deviated"`
	Summary  string         `json:"summary"`
	Trend    AlignmentTrend `json:"trend"`
}

// Friction reports behavioral drag such as repeated skips.
type Friction struct {
	RepeatedSkip bool   `json:"repeated_skip"`
	DelaySignals bool   `json:"delay_signals"`
	SkipCount    int    `json:"skip_count"`
	Summary      string `json:"summary"`
}

// Evidence anchors a signal to concrete log entries.
type Evidence struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail"`
}

// Signal is one named deviation detector's verdict.
type Signal struct {
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	Severity  string     `json:"severity"`
	Summary   string     `json:"summary"`
	Count     int        `json:"count"`
	Threshold int        `json:"threshold"`
	Evidence  []Evidence `json:"evidence"`
}

// Report is the full retrospective payload.
type Report struct {
	Period           Period       `json:"period"`
	GeneratedAt      string       `json:"generated_at"`
	Rhythm           Rhythm       `json:"rhythm"`
	Alignment        Alignment    `json:"alignment"`
	Friction         Friction     `json:"friction"`
	L2Protection     L2Protection `json:"l2_protection"`
	L2Session        L2Session    `json:"l2_session"`
	DeviationSignals []Signal     `json:"deviation_signals"`
	Observations     []string     `json:"observations"`
	EventCount       int          `json:"event_count"`
}

// Analyzer computes reports. The clock is injected; analysis itself
// never reads the wall clock.
type Analyzer struct {
	registry *goals.Registry
	cfg      *config.Config
	clock    func() time.Time
	progress *ProgressMatcher
}

// NewAnalyzer compiles the configured progress predicates and returns a
// ready analyzer. registry may be empty; alignment degrades gracefully.
func NewAnalyzer(registry *goals.Registry, cfg *config.Config) (*Analyzer, error) {
	matcher, err := NewProgressMatcher(cfg.ProgressPredicates)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	return &Analyzer{
		registry: registry,
		cfg:      cfg,
		clock:    time.Now,
		progress: matcher,
	}, nil
}

// SetClock overrides the wall clock. Test hook.
func (a *Analyzer) SetClock(clock func() time.Time) { a.clock = clock }

// Report analyzes the given window of events.
func (a *Analyzer) Report(events []event.Event, days int) Report {
	now := a.clock()
	th := a.cfg.Thresholds

	rhythm := a.analyzeRhythm(events, days, now)
	alignment := a.analyzeAlignment(events)
	friction := analyzeFriction(events, th.RepeatedSkip)
	protection := a.analyzeL2Protection(events, th)
	session := analyzeL2Session(events)
	signals := a.detectSignals(events, days, now, th)

	return Report{
		Period: Period{
			Days:      days,
			StartDate: now.AddDate(0, 0, -days).Format("2006-01-02"),
			EndDate:   now.Format("2006-01-02"),
		},
		GeneratedAt:      now.Format(time.RFC3339),
		Rhythm:           rhythm,
		Alignment:        alignment,
		Friction:         friction,
		L2Protection:     protection,
		L2Session:        session,
		DeviationSignals: signals,
		Observations:     observations(rhythm, alignment, friction, protection, signals),
		EventCount:       len(events),
	}
}

// observations distills at most three human-facing notes. Nothing here
// is hardcoded to a fixed sentence per report; each line comes from the
// dimension that raised it.
func observations(rhythm Rhythm, alignment Alignment, friction Friction, protection L2Protection, signals []Signal) []string {
	var out []string
	if rhythm.Broken {
		out = append(out, rhythm.Summary)
	}
	if alignment.Deviated {
		out = append(out, alignment.Summary)
	}
	if friction.RepeatedSkip {
		out = append(out, friction.Summary)
	}
	if protection.Level == "low" {
		out = append(out, protection.Summary)
	}
	for _, sig := range signals {
		if sig.Active && sig.Severity == SeverityHigh {
			out = append(out, sig.Summary)
		}
	}
	if len(out) == 0 {
		out = append(out, "Execution was steady this period; no unusual signals.")
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// dailyActivity maps date strings to event counts, skipping events with
// unparseable timestamps.
func dailyActivity(events []event.Event) map[string]int {
	daily := map[string]int{}
	for _, e := range events {
		t, err := e.Time()
		if err != nil {
			continue
		}
		daily[t.Format("2006-01-02")]++
	}
	return daily
}

// skipEvents filters the window down to task-skip facts.
func skipEvents(events []event.Event) []event.Event {
	var out []event.Event
	for _, e := range events {
		switch e.Type {
		case "task_updated":
			if updates, ok := e.Payload["updates"].(map[string]any); ok {
				if status, _ := updates["status"].(string); status == "skipped" {
					out = append(out, e)
				}
			}
		case "task_failed":
			if e.PayloadString("failure_type") == "skipped" {
				out = append(out, e)
			}
		}
	}
	return out
}

// latestEvidence returns the most recent events as evidence entries,
// newest last, capped at three.
func latestEvidence(events []event.Event, detail func(event.Event) string) []Evidence {
	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	if len(sorted) > 3 {
		sorted = sorted[len(sorted)-3:]
	}
	out := make([]Evidence, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, Evidence{
			EventID:   e.EventID,
			Timestamp: e.Timestamp,
			Detail:    detail(e),
		})
	}
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func ratioOf(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := round2(float64(num) / float64(den))
	return &r
}
