// Package schema validates event payloads against the embedded CUE schema.
//
// Validation runs synchronously at append time: a payload that does not
// match its event type's closed definition never reaches the log. Once
// appended, an event is permanent, so the only place to reject a malformed
// one is before the append.
package schema

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/noteflowhq/noteflow/internal/event"
)

//go:embed events.cue
var schemaSource string

// ValidationError reports a payload that failed schema validation.
type ValidationError struct {
	Type    event.Type
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Message)
}

// Validator checks event payloads against the embedded schema.
// Safe for concurrent use after construction; cue.Value is immutable.
type Validator struct {
	cctx *cue.Context
	defs map[event.Type]cue.Value
}

// NewValidator compiles the embedded schema. Compilation failure is a
// programming error (the schema ships with the binary), so callers
// typically treat an error here as fatal at startup.
func NewValidator() (*Validator, error) {
	cctx := cuecontext.New()

	root := cctx.CompileString(schemaSource, cue.Filename("events.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}

	eventsVal := root.LookupPath(cue.ParsePath("events"))
	if err := eventsVal.Err(); err != nil {
		return nil, fmt.Errorf("schema missing events map: %w", err)
	}

	defs := make(map[event.Type]cue.Value)
	iter, err := eventsVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterate event schema: %w", err)
	}
	for iter.Next() {
		tag := iter.Selector().Unquoted()
		defs[event.Type(tag)] = iter.Value()
	}

	return &Validator{cctx: cctx, defs: defs}, nil
}

// Validate checks a raw JSON payload against the definition for its type.
// Returns *ValidationError for schema failures and unknown types.
func (v *Validator) Validate(t event.Type, payload []byte) error {
	def, ok := v.defs[t]
	if !ok {
		return &ValidationError{Type: t, Message: "unknown event type"}
	}

	// JSON is a subset of CUE, so the payload compiles directly.
	data := v.cctx.CompileBytes(payload, cue.Filename("payload.json"))
	if err := data.Err(); err != nil {
		return &ValidationError{Type: t, Message: fmt.Sprintf("malformed JSON: %v", err)}
	}

	unified := def.Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return &ValidationError{Type: t, Message: err.Error()}
	}

	return nil
}

// ValidatePayload encodes a typed payload and validates it. Convenience for
// writers that build payload structs rather than raw JSON.
func (v *Validator) ValidatePayload(p event.Payload) error {
	data, err := event.Encode(p)
	if err != nil {
		return err
	}
	return v.Validate(p.EventType(), data)
}
