package retro

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/eudaimon-labs/lifeos/core/pkg/event"
)

// ProgressMatcher evaluates the configured CEL predicates that decide
// whether an event counts as forward motion. Programs are compiled once
// at construction.
type ProgressMatcher struct {
	programs []cel.Program
}

// NewProgressMatcher compiles each predicate against an env exposing the
// event as a map. A predicate that fails to compile fails construction;
// a bad overlay should surface at reload, not silently drop detection.
func NewProgressMatcher(predicates []string) (*ProgressMatcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("progress predicates: %w", err)
	}

	programs := make([]cel.Program, 0, len(predicates))
	for _, expr := range predicates {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("progress predicate %q: %w", expr, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("progress predicate %q: must evaluate to bool", expr)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("progress predicate %q: %w", expr, err)
		}
		programs = append(programs, prg)
	}
	return &ProgressMatcher{programs: programs}, nil
}

// Matches reports whether any predicate accepts the event. Evaluation
// errors on a single predicate count as a non-match.
func (m *ProgressMatcher) Matches(e event.Event) bool {
	view := map[string]any{
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"payload":   e.Payload,
	}
	for _, prg := range m.programs {
		out, _, err := prg.Eval(map[string]any{"event": view})
		if err != nil {
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			return true
		}
	}
	return false
}
