package retro

import (
	"fmt"
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// Signal names.
const (
	SignalRepeatedSkip   = "repeated_skip"
	SignalL2Interruption = "l2_interruption"
	SignalStagnation     = "stagnation"
)

// detectSignals runs the three deviation detectors. Each signal reports
// its count, the threshold in force, and up to three evidence events;
// with no data the detectors stay quiet instead of guessing.
func (a *Analyzer) detectSignals(events []event.Event, days int, now time.Time, th config.Thresholds) []Signal {
	return []Signal{
		repeatedSkipSignal(events, th.RepeatedSkip),
		a.l2InterruptionSignal(events, th.L2Interruption),
		a.stagnationSignal(events, days, now, th.StagnationDays),
	}
}

func repeatedSkipSignal(events []event.Event, threshold int) Signal {
	skips := skipEvents(events)
	active := len(skips) >= threshold

	severity := SeverityInfo
	summary := "No repeated skips."
	if active {
		severity = SeverityMedium
		summary = fmt.Sprintf("Tasks were skipped %d times this period; consider smaller steps or a priority change.", len(skips))
	}
	return Signal{
		Name:      SignalRepeatedSkip,
		Active:    active,
		Severity:  severity,
		Summary:   summary,
		Count:     len(skips),
		Threshold: threshold,
		Evidence:  activeEvidence(active, skips, skipDetail),
	}
}

// l2InterruptionSignal counts interruptions of deep work: explicit
// session interruptions, plus task skips that hit L2 goals. Skips of
// tasks the registry cannot place count too; an unmapped skip is not
// proof the block was safe.
func (a *Analyzer) l2InterruptionSignal(events []event.Event, threshold int) Signal {
	var goalTier, taskGoal map[string]string
	if a.registry != nil {
		goalTier, taskGoal = a.registry.TierMaps()
	}

	var hits []event.Event
	for _, e := range skipEvents(events) {
		tier, mapped := goalTier[taskGoal[e.PayloadString("id")]]
		if !mapped || tier == "L2_FLOURISHING" {
			hits = append(hits, e)
		}
	}
	for _, e := range events {
		if e.Type == "l2_session_interrupted" {
			hits = append(hits, e)
		}
	}

	active := len(hits) >= threshold
	severity := SeverityInfo
	summary := "Deep-work blocks were not interrupted."
	if active {
		severity = SeverityHigh
		summary = fmt.Sprintf("Deep work was interrupted %d times this period; protect the next block.", len(hits))
	}
	return Signal{
		Name:      SignalL2Interruption,
		Active:    active,
		Severity:  severity,
		Summary:   summary,
		Count:     len(hits),
		Threshold: threshold,
		Evidence: activeEvidence(active, hits, func(e event.Event) string {
			if e.Type == "l2_session_interrupted" {
				detail := fmt.Sprintf("session %s interrupted", e.PayloadString("session_id"))
				if reason := e.PayloadString("reason"); reason != "" {
					detail += " (" + reason + ")"
				}
				return detail
			}
			return "deep work interrupted: " + skipDetail(e)
		}),
	}
}

// stagnationSignal measures days since the last event matching a
// progress predicate. An empty window counts as the full lookback.
func (a *Analyzer) stagnationSignal(events []event.Event, days int, now time.Time, threshold int) Signal {
	var last *event.Event
	var lastAt time.Time
	for i := range events {
		if !a.progress.Matches(events[i]) {
			continue
		}
		t, err := events[i].Time()
		if err != nil {
			continue
		}
		if last == nil || t.After(lastAt) {
			last = &events[i]
			lastAt = t
		}
	}

	count := days
	if last != nil {
		count = int(now.Sub(lastAt).Hours() / 24)
		if count < 0 {
			count = 0
		}
	}

	active := count >= threshold
	severity := SeverityInfo
	summary := "Progress is being recorded regularly."
	if active {
		severity = SeverityMedium
		summary = fmt.Sprintf("No progress recorded for %d days; the smallest next step may unblock things.", count)
	}

	evidence := []Evidence{}
	if last != nil {
		evidence = append(evidence, Evidence{
			EventID:   last.EventID,
			Timestamp: last.Timestamp,
			Detail:    "most recent progress event (" + last.Type + ")",
		})
	}
	return Signal{
		Name:      SignalStagnation,
		Active:    active,
		Severity:  severity,
		Summary:   summary,
		Count:     count,
		Threshold: threshold,
		Evidence:  evidence,
	}
}

func skipDetail(e event.Event) string {
	if id := e.PayloadString("id"); id != "" {
		return "task " + id + " skipped"
	}
	if id := e.PayloadString("task_id"); id != "" {
		return "task " + id + " skipped"
	}
	return "task skipped"
}

func activeEvidence(active bool, hits []event.Event, detail func(event.Event) string) []Evidence {
	if !active || len(hits) == 0 {
		return []Evidence{}
	}
	return latestEvidence(hits, detail)
}
