package harness

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/schema"
	"github.com/noteflowhq/noteflow/internal/state"
)

// Result is the outcome of replaying a scenario.
type Result struct {
	Tables    *state.Tables
	Conflicts []state.AssignmentConflict
}

// Run replays the scenario's events from empty tables. Each payload goes
// through the same schema validation and codec the store uses, so a
// scenario cannot describe a log the system would have rejected.
func Run(s *Scenario) (*Result, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}

	tables := state.NewTables()
	result := &Result{Tables: tables}

	for i, step := range s.Events {
		env, err := buildEnvelope(validator, step, int64(i+1))
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}

		res, err := tables.Apply(env)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		result.Conflicts = append(result.Conflicts, res.Conflicts...)
	}

	if err := checkAssertions(s, result); err != nil {
		return nil, err
	}
	return result, nil
}

func buildEnvelope(validator *schema.Validator, step EventStep, position int64) (event.Envelope, error) {
	raw, err := json.Marshal(step.Payload)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("encode payload: %w", err)
	}

	typ := event.Type(step.Type)
	if err := validator.Validate(typ, raw); err != nil {
		return event.Envelope{}, err
	}

	p, err := event.Decode(typ, raw)
	if err != nil {
		return event.Envelope{}, err
	}

	// The step index is the commit nonce: scenarios replay deterministically,
	// and two steps with identical payloads stay distinct events.
	id, err := event.ID(strconv.FormatInt(position, 10), p)
	if err != nil {
		return event.Envelope{}, err
	}

	return event.Envelope{Position: position, ID: id, Type: typ, Payload: p}, nil
}

func checkAssertions(s *Scenario, r *Result) error {
	for i, a := range s.Assertions {
		if err := checkAssertion(&a, r); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func checkAssertion(a *Assertion, r *Result) error {
	switch a.Type {
	case AssertQueueStatus:
		e, ok := r.Tables.Queue[a.QueueID]
		if !ok {
			return fmt.Errorf("queue entry %s not found", a.QueueID)
		}
		if string(e.Status) != a.Expect {
			return fmt.Errorf("queue entry %s: status %s, expected %s", a.QueueID, e.Status, a.Expect)
		}
	case AssertCellState:
		c, ok := r.Tables.Cells[a.CellID]
		if !ok {
			return fmt.Errorf("cell %s not found", a.CellID)
		}
		if string(c.ExecutionState) != a.Expect {
			return fmt.Errorf("cell %s: execution state %s, expected %s", a.CellID, c.ExecutionState, a.Expect)
		}
	case AssertSessionStatus:
		sess, ok := r.Tables.Sessions[a.SessionID]
		if !ok {
			return fmt.Errorf("session %s not found", a.SessionID)
		}
		if string(sess.Status) != a.Expect {
			return fmt.Errorf("session %s: status %s, expected %s", a.SessionID, sess.Status, a.Expect)
		}
	case AssertOutputCount:
		got := len(r.Tables.OutputsFor(a.CellID))
		if got != a.Count {
			return fmt.Errorf("cell %s: %d outputs, expected %d", a.CellID, got, a.Count)
		}
	case AssertConflictCount:
		if len(r.Conflicts) != a.Count {
			return fmt.Errorf("%d assignment conflicts, expected %d", len(r.Conflicts), a.Count)
		}
	}
	return nil
}
