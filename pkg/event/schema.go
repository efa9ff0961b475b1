package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// strictSchema is the envelope every freshly appended event must satisfy.
// Replay is deliberately more permissive; see ValidateLegacy.
const strictSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "type", "timestamp", "schema_version", "payload"],
  "properties": {
    "event_id": {"type": "string", "pattern": "^evt_[0-9a-f]{12}$"},
    "type": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "minLength": 1},
    "schema_version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+$"},
    "payload": {"type": "object"}
  },
  "additionalProperties": false
}`

const legacySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1}
  }
}`

var (
	compileOnce  sync.Once
	strictProg   *jsonschema.Schema
	legacyProg   *jsonschema.Schema
	compileError error
)

func compiled() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		strictProg, compileError = compileSchema("strict.json", strictSchema)
		if compileError != nil {
			return
		}
		legacyProg, compileError = compileSchema("legacy.json", legacySchema)
	})
	return strictProg, legacyProg, compileError
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return c.Compile(name)
}

// ValidateStrict enforces the full event envelope. Applied to every new
// append so malformed producers fail loudly at the write site.
func ValidateStrict(e Event) error {
	s, _, err := compiled()
	if err != nil {
		return err
	}
	return validateAgainst(s, e)
}

// ValidateLegacy admits any object that at least names an event type.
// Used when re-ingesting logs written before the envelope was fixed.
func ValidateLegacy(e Event) error {
	_, l, err := compiled()
	if err != nil {
		return err
	}
	return validateAgainst(l, e)
}

func validateAgainst(s *jsonschema.Schema, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("event schema: %w", err)
	}
	return nil
}
