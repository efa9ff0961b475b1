package retro

import (
	"sort"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// goalOutcomeTypes are the event types that tie execution back to a
// goal node for alignment purposes.
var goalOutcomeTypes = map[string]bool{
	"goal_confirmed": true,
	"goal_rejected":  true,
	"goal_completed": true,
	"goal_feedback":  true,
	"goal_action":    true,
}

// analyzeAlignment checks whether goal-level activity stayed anchored to
// the vision/objective tree. Deviation is raised on rejections, or when
// vision-linked goals saw activity without completions.
func (a *Analyzer) analyzeAlignment(events []event.Event) Alignment {
	trend := alignmentTrend(events)

	goalIDs := map[string]bool{}
	rejected := 0
	completed := 0
	for _, e := range events {
		if !goalOutcomeTypes[e.Type] {
			continue
		}
		if id := e.PayloadString("goal_id"); id != "" {
			goalIDs[id] = true
		}
		switch e.Type {
		case "goal_rejected":
			rejected++
		case "goal_completed":
			completed++
		}
	}

	if a.registry == nil || a.registry.Len() == 0 || len(goalIDs) == 0 {
		return Alignment{
			Deviated: false,
			Summary:  "No goal hierarchy data or related events yet.",
			Trend:    trend,
		}
	}

	linked := 0
	for id := range goalIDs {
		if a.registry.UnderVisionOrObjective(id) {
			linked++
		}
	}

	deviated := rejected > 0 || (linked > 0 && completed < linked)
	summary := "Execution stayed aligned with the vision and objectives."
	if deviated {
		summary = "Vision-linked goals were rejected or left incomplete; worth revisiting the current focus."
	}
	return Alignment{Deviated: deviated, Summary: summary, Trend: trend}
}

// alignmentTrend averages per-day alignment_score samples carried on
// events and classifies the overall direction.
func alignmentTrend(events []event.Event) AlignmentTrend {
	type acc struct {
		sum float64
		n   int
	}
	byDate := map[string]*acc{}
	for _, e := range events {
		score, ok := e.PayloadFloat("alignment_score")
		if !ok {
			continue
		}
		t, err := e.Time()
		if err != nil {
			continue
		}
		d := t.Format("2006-01-02")
		if byDate[d] == nil {
			byDate[d] = &acc{}
		}
		byDate[d].sum += score
		byDate[d].n++
	}

	if len(byDate) == 0 {
		return AlignmentTrend{
			Available: false,
			Points:    []TrendPoint{},
			Summary:   "Not enough alignment samples this period.",
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	points := make([]TrendPoint, 0, len(dates))
	for _, d := range dates {
		points = append(points, TrendPoint{
			Date:     d,
			AvgScore: round2(byDate[d].sum / float64(byDate[d].n)),
			Samples:  byDate[d].n,
		})
	}

	direction := "stable"
	summary := "Goal alignment held steady this period."
	if len(points) > 1 {
		delta := points[len(points)-1].AvgScore - points[0].AvgScore
		switch {
		case delta > 1:
			direction = "improving"
			summary = "Goal alignment improved over the period."
		case delta < -1:
			direction = "declining"
			summary = "Goal alignment declined over the period."
		}
	}
	return AlignmentTrend{Available: true, Direction: direction, Points: points, Summary: summary}
}
