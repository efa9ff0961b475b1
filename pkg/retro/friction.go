package retro

import "github.com/eudaimon-labs/lifeos/core/pkg/event"

// analyzeFriction counts task skips in the window.
func analyzeFriction(events []event.Event, repeatedThreshold int) Friction {
	skips := len(skipEvents(events))
	repeated := skips >= repeatedThreshold

	var summary string
	switch {
	case repeated:
		summary = "Tasks were skipped repeatedly; consider splitting them into smaller steps or adjusting priorities."
	case skips == 1:
		summary = "One task was skipped this period, which is a normal adjustment."
	default:
		summary = "No notable behavioral friction."
	}
	return Friction{
		RepeatedSkip: repeated,
		DelaySignals: false,
		SkipCount:    skips,
		Summary:      summary,
	}
}
