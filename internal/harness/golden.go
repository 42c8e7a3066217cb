package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/noteflowhq/noteflow/internal/canon"
)

// RunWithGolden replays a scenario and compares the final canonical state
// snapshot against a golden file at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
//
// The snapshot uses the same canonical serialization as replay digests, so
// a golden file doubles as a pinned replay: any materializer change that
// alters derived state for this log prefix shows up as a byte diff.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already-computed result against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := canon.Marshal(result.Tables.Snapshot())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
