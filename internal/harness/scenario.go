// Package harness runs conformance scenarios: YAML-defined event sequences
// replayed through the materializers, with assertions on the final tables
// and golden-file comparison of the canonical state snapshot.
//
// Scenarios are the executable form of the coordination contract. Because
// derived state is a pure fold over the log, a scenario needs no running
// engine or store - just the event list and the reducers.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Events is the ordered log prefix to replay. Positions are assigned
	// sequentially from 1, exactly as the store would.
	Events []EventStep `yaml:"events"`

	// Assertions validate the final derived tables.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one event in the scenario's log.
type EventStep struct {
	// Type is the versioned event tag, e.g. "v1.CellCreated".
	Type string `yaml:"type"`

	// Payload holds the event fields. Unknown fields are rejected by the
	// payload codec, so a typo fails the scenario load, not the diff.
	Payload map[string]interface{} `yaml:"payload"`
}

// Assertion validates one fact about the final tables.
type Assertion struct {
	// Type selects the assertion: queue_status, cell_state,
	// session_status, output_count, or conflict_count.
	Type string `yaml:"type"`

	QueueID   string `yaml:"queue_id,omitempty"`
	CellID    string `yaml:"cell_id,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`

	// Expect is the expected status/state value for the status assertions.
	Expect string `yaml:"expect,omitempty"`

	// Count is the expected count for output_count and conflict_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueStatus   = "queue_status"
	AssertCellState     = "cell_state"
	AssertSessionStatus = "session_status"
	AssertOutputCount   = "output_count"
	AssertConflictCount = "conflict_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown YAML fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	for i, step := range s.Events {
		if step.Type == "" {
			return fmt.Errorf("events[%d]: type is required", i)
		}
		if step.Payload == nil {
			return fmt.Errorf("events[%d]: payload is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertQueueStatus:
		if a.QueueID == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: queue_id and expect are required for queue_status", index)
		}
	case AssertCellState:
		if a.CellID == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: cell_id and expect are required for cell_state", index)
		}
	case AssertSessionStatus:
		if a.SessionID == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: session_id and expect are required for session_status", index)
		}
	case AssertOutputCount:
		if a.CellID == "" {
			return fmt.Errorf("assertions[%d]: cell_id is required for output_count", index)
		}
	case AssertConflictCount:
		// Count zero is meaningful; nothing more to check.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
