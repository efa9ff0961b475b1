package policy

import (
	"sort"

	"github.com/eudaimon-labs/lifeos/core/pkg/canonical"
	"github.com/eudaimon-labs/lifeos/core/pkg/retro"
)

// Fingerprint derives a stable identifier for one concrete suggestion.
// The same lookback window, suggestion text and active-signal states
// always produce the same fingerprint, so confirmations and responses
// recorded against it stay valid until the underlying picture changes.
// The threshold is part of the tuple: reconfiguring one moves the
// suggestion context even when the counts hold still.
func Fingerprint(days int, suggestion string, signals []retro.Signal) string {
	tuples := make([][]any, 0, len(signals))
	for _, s := range signals {
		if !s.Active {
			continue
		}
		tuples = append(tuples, []any{s.Name, s.Severity, s.Count, s.Threshold})
	}
	sort.Slice(tuples, func(i, j int) bool {
		return tuples[i][0].(string) < tuples[j][0].(string)
	})

	digest, err := canonical.Hash(map[string]any{
		"lookback_days": days,
		"suggestion":    suggestion,
		"signals":       tuples,
	})
	if err != nil {
		return "gcf_unhashable"
	}
	return "gcf_" + digest[:16]
}
