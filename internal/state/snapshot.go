package state

import (
	"github.com/noteflowhq/noteflow/internal/canon"
	"github.com/noteflowhq/noteflow/internal/event"
)

// Snapshot flattens the tables into a canonical-JSON-compatible structure.
// Two replicas at the same applied position produce byte-identical
// serializations of this map; its hash is the replay-integrity check.
func (t *Tables) Snapshot() map[string]any {
	cells := make(map[string]any, len(t.Cells))
	for id, c := range t.Cells {
		cells[id] = map[string]any{
			"cellType":         string(c.CellType),
			"source":           c.Source,
			"position":         c.Position,
			"executionState":   string(c.ExecutionState),
			"executionCount":   c.ExecutionCount,
			"sourceVisible":    c.SourceVisible,
			"outputVisible":    c.OutputVisible,
			"aiContextVisible": c.AIContextVisible,
			"deleted":          c.Deleted,
		}
	}

	queue := make(map[string]any, len(t.Queue))
	for id, e := range t.Queue {
		queue[id] = map[string]any{
			"cellId":          e.CellID,
			"cellType":        string(e.CellType),
			"executionCount":  e.ExecutionCount,
			"requestedBy":     e.RequestedBy,
			"priority":        e.Priority,
			"requestedAt":     e.RequestedAt,
			"status":          string(e.Status),
			"assignedSession": e.AssignedSession,
		}
	}

	sessions := make(map[string]any, len(t.Sessions))
	for id, s := range t.Sessions {
		sessions[id] = map[string]any{
			"kernelId":        s.KernelID,
			"kernelType":      s.KernelType,
			"canExecuteCode":  s.CanExecuteCode,
			"canExecuteSql":   s.CanExecuteSQL,
			"canExecuteAi":    s.CanExecuteAI,
			"status":          string(s.Status),
			"active":          s.Active,
			"lastHeartbeatMs": s.LastHeartbeatMs,
		}
	}

	outputs := make(map[string]any, len(t.Outputs))
	for id, o := range t.Outputs {
		outputs[id] = map[string]any{
			"cellId":     o.CellID,
			"outputType": o.OutputType,
			"data":       o.Data,
			"position":   o.Position,
		}
	}

	return map[string]any{
		"notebook": map[string]any{
			"id":          t.Notebook.ID,
			"title":       t.Notebook.Title,
			"ownerId":     t.Notebook.OwnerID,
			"initialized": t.Notebook.Initialized,
		},
		"cells":    cells,
		"queue":    queue,
		"sessions": sessions,
		"outputs":  outputs,
		"position": t.AppliedPosition,
	}
}

// Digest returns the canonical hash of the current snapshot.
func (t *Tables) Digest() (string, error) {
	return canon.SnapshotDigest(t.Snapshot())
}

// Rebuild replays events onto empty tables. Conflicts recorded during
// replay are discarded; they were surfaced live to the losing claimants
// and carry no state.
func Rebuild(events []event.Envelope) (*Tables, error) {
	t := NewTables()
	for _, env := range events {
		if _, err := t.Apply(env); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// VerifyReplay rebuilds the tables twice from the same events and checks
// the digests match. A mismatch means a materializer is nondeterministic,
// which poisons every replica; the caller should treat it as fatal.
func VerifyReplay(events []event.Envelope) (string, error) {
	first, err := Rebuild(events)
	if err != nil {
		return "", err
	}
	second, err := Rebuild(events)
	if err != nil {
		return "", err
	}

	d1, err := first.Digest()
	if err != nil {
		return "", err
	}
	d2, err := second.Digest()
	if err != nil {
		return "", err
	}

	if d1 != d2 {
		return "", &IntegrityError{
			Position: first.AppliedPosition,
			Reason:   "replay diverged: materializers are not deterministic",
		}
	}
	return d1, nil
}
