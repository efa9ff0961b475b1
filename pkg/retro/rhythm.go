package retro

import (
	"time"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// analyzeRhythm checks the day-by-day activity pattern. The cadence is
// considered broken when at least two active days are each followed by
// an inactive day inside the window.
func (a *Analyzer) analyzeRhythm(events []event.Event, days int, now time.Time) Rhythm {
	daily := dailyActivity(events)
	if len(daily) == 0 {
		return Rhythm{Broken: false, Summary: "No execution recorded this period."}
	}

	start := now.AddDate(0, 0, -days)
	expected := make([]string, 0, days+1)
	for i := 0; i <= days; i++ {
		expected = append(expected, start.AddDate(0, 0, i).Format("2006-01-02"))
	}

	active := map[string]bool{}
	for _, d := range expected {
		if daily[d] > 0 {
			active[d] = true
		}
	}

	gaps := 0
	for i := 0; i < len(expected)-1; i++ {
		if active[expected[i]] && !active[expected[i+1]] {
			gaps++
		}
	}

	if gaps >= 2 {
		return Rhythm{Broken: true, Summary: "Several days in this period had no execution; the cadence may be broken."}
	}
	return Rhythm{Broken: false, Summary: "Execution cadence was continuous this period."}
}
