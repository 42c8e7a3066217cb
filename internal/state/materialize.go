package state

import (
	"fmt"

	"github.com/noteflowhq/noteflow/internal/event"
)

// IntegrityError reports a condition that makes derived state untrustworthy:
// an event the dispatch table does not know, or events applied out of
// order. These are fatal to the holding replica; recovery is a full replay,
// never a patch-up of divergent tables.
type IntegrityError struct {
	Position int64
	Type     event.Type
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation at position %d (%s): %s", e.Position, e.Type, e.Reason)
}

// AssignmentConflict records a losing claim on an already-assigned queue
// entry. The first ExecutionAssigned event wins; the later one is a no-op
// surfaced here so the losing worker can move on.
type AssignmentConflict struct {
	QueueID string
	Winner  string
	Loser   string
}

// ApplyResult carries the non-fatal outcomes of applying one event.
type ApplyResult struct {
	Conflicts []AssignmentConflict
}

// Apply folds one event into the tables. Each table's reducer sees only its
// own rows and the payload; nothing here queries across tables. Same event,
// same prior state, same result - on every replica, on every replay.
func (t *Tables) Apply(env event.Envelope) (ApplyResult, error) {
	if env.Payload == nil {
		return ApplyResult{}, &IntegrityError{Position: env.Position, Type: env.Type, Reason: "nil payload"}
	}
	if env.Position <= t.AppliedPosition {
		return ApplyResult{}, &IntegrityError{
			Position: env.Position,
			Type:     env.Type,
			Reason:   fmt.Sprintf("out of order: already applied through %d", t.AppliedPosition),
		}
	}
	if !knownPayload(env.Payload) {
		return ApplyResult{}, &IntegrityError{Position: env.Position, Type: env.Type, Reason: "no materializer for event type"}
	}

	applyNotebook(&t.Notebook, env)
	applyCells(t.Cells, env)
	res := applyQueue(t.Queue, env)
	applySessions(t.Sessions, env)
	applyOutputs(t.Outputs, env)

	t.AppliedPosition = env.Position
	return res, nil
}

// knownPayload is the closed dispatch table. A payload type missing here is
// a determinism hazard, not a skippable event.
func knownPayload(p event.Payload) bool {
	switch p.(type) {
	case *event.NotebookInitialized,
		*event.NotebookTitleChanged,
		*event.CellCreated,
		*event.CellSourceChanged,
		*event.CellTypeChanged,
		*event.CellMoved,
		*event.CellVisibilityToggled,
		*event.CellDeleted,
		*event.ExecutionRequested,
		*event.ExecutionAssigned,
		*event.ExecutionStarted,
		*event.ExecutionCompleted,
		*event.ExecutionCancelled,
		*event.CellOutputAdded,
		*event.CellOutputsCleared,
		*event.KernelSessionStarted,
		*event.KernelSessionHeartbeat,
		*event.KernelSessionTerminated:
		return true
	}
	return false
}

func applyNotebook(nb *Notebook, env event.Envelope) {
	switch p := env.Payload.(type) {
	case *event.NotebookInitialized:
		// First initialization wins; a replayed duplicate is a no-op.
		if nb.Initialized {
			return
		}
		nb.ID = p.NotebookID
		nb.Title = p.Title
		nb.OwnerID = p.OwnerID
		nb.Initialized = true
	case *event.NotebookTitleChanged:
		if nb.Initialized && nb.ID == p.NotebookID {
			nb.Title = p.Title
		}
	}
}

func applyCells(cells map[string]*Cell, env event.Envelope) {
	switch p := env.Payload.(type) {
	case *event.CellCreated:
		if _, exists := cells[p.CellID]; exists {
			return
		}
		cells[p.CellID] = &Cell{
			ID:               p.CellID,
			CellType:         p.CellType,
			Position:         p.Position,
			ExecutionState:   ExecIdle,
			SourceVisible:    true,
			OutputVisible:    true,
			AIContextVisible: true,
		}
	case *event.CellSourceChanged:
		if c := liveCell(cells, p.CellID); c != nil {
			c.Source = p.Source
		}
	case *event.CellTypeChanged:
		if c := liveCell(cells, p.CellID); c != nil {
			c.CellType = p.CellType
		}
	case *event.CellMoved:
		if c := liveCell(cells, p.CellID); c != nil {
			c.Position = p.Position
		}
	case *event.CellVisibilityToggled:
		c := liveCell(cells, p.CellID)
		if c == nil {
			return
		}
		switch p.Field {
		case event.VisibilitySource:
			c.SourceVisible = p.Visible
		case event.VisibilityOutput:
			c.OutputVisible = p.Visible
		case event.VisibilityAIContext:
			c.AIContextVisible = p.Visible
		}
	case *event.CellDeleted:
		if c, ok := cells[p.CellID]; ok {
			c.Deleted = true
		}
	case *event.ExecutionRequested:
		if c := liveCell(cells, p.CellID); c != nil {
			c.ExecutionState = ExecQueued
			c.ExecutionCount = p.ExecutionCount
		}
	case *event.ExecutionStarted:
		if c := liveCell(cells, p.CellID); c != nil {
			c.ExecutionState = ExecRunning
		}
	case *event.ExecutionCompleted:
		c := liveCell(cells, p.CellID)
		if c == nil {
			return
		}
		if p.Status == event.CompletionSuccess {
			c.ExecutionState = ExecCompleted
		} else {
			c.ExecutionState = ExecError
		}
	case *event.ExecutionCancelled:
		if c := liveCell(cells, p.CellID); c != nil {
			c.ExecutionState = ExecIdle
		}
	}
}

// liveCell looks up a cell by the primary key carried in the payload.
// Tombstoned and unknown cells absorb updates silently; the events are
// permanent either way, and ignoring them is the deterministic choice.
func liveCell(cells map[string]*Cell, id string) *Cell {
	c, ok := cells[id]
	if !ok || c.Deleted {
		return nil
	}
	return c
}

func applyQueue(queue map[string]*QueueEntry, env event.Envelope) ApplyResult {
	var res ApplyResult

	switch p := env.Payload.(type) {
	case *event.ExecutionRequested:
		if _, exists := queue[p.QueueID]; exists {
			return res
		}
		queue[p.QueueID] = &QueueEntry{
			QueueID:        p.QueueID,
			CellID:         p.CellID,
			CellType:       p.CellType,
			ExecutionCount: p.ExecutionCount,
			RequestedBy:    p.RequestedBy,
			Priority:       p.Priority,
			RequestedAt:    env.Position,
			Status:         QueuePending,
		}

	case *event.ExecutionAssigned:
		e, ok := queue[p.QueueID]
		if !ok || e.Status.Terminal() {
			return res
		}
		if e.Status != QueuePending {
			// First claim won; report the losing session.
			res.Conflicts = append(res.Conflicts, AssignmentConflict{
				QueueID: p.QueueID,
				Winner:  e.AssignedSession,
				Loser:   p.KernelSessionID,
			})
			return res
		}
		e.Status = QueueAssigned
		e.AssignedSession = p.KernelSessionID

	case *event.ExecutionStarted:
		e, ok := queue[p.QueueID]
		if !ok || e.Status.Terminal() {
			return res
		}
		if e.Status == QueueAssigned && e.AssignedSession == p.KernelSessionID {
			e.Status = QueueRunning
		}

	case *event.ExecutionCompleted:
		e, ok := queue[p.QueueID]
		if !ok || e.Status.Terminal() {
			return res
		}
		// Completion only lands on a running entry; a completion for work
		// that never started is ignored like any other out-of-graph step.
		if e.Status != QueueRunning {
			return res
		}
		if p.Status == event.CompletionSuccess {
			e.Status = QueueCompleted
		} else {
			e.Status = QueueFailed
		}

	case *event.ExecutionCancelled:
		e, ok := queue[p.QueueID]
		if !ok || e.Status.Terminal() {
			return res
		}
		e.Status = QueueCancelled
	}

	return res
}

func applySessions(sessions map[string]*KernelSession, env event.Envelope) {
	switch p := env.Payload.(type) {
	case *event.KernelSessionStarted:
		if _, exists := sessions[p.SessionID]; exists {
			return
		}
		sessions[p.SessionID] = &KernelSession{
			SessionID:       p.SessionID,
			KernelID:        p.KernelID,
			KernelType:      p.KernelType,
			CanExecuteCode:  p.CanExecuteCode,
			CanExecuteSQL:   p.CanExecuteSQL,
			CanExecuteAI:    p.CanExecuteAI,
			Status:          SessionReady,
			Active:          true,
			LastHeartbeatMs: p.StartedAtMs,
		}
	case *event.KernelSessionHeartbeat:
		s, ok := sessions[p.SessionID]
		if !ok || s.Status == SessionTerminated {
			return
		}
		s.Status = SessionStatus(p.Status)
		s.LastHeartbeatMs = p.TimestampMs
	case *event.KernelSessionTerminated:
		s, ok := sessions[p.SessionID]
		if !ok {
			return
		}
		// Terminated is absorbing.
		s.Status = SessionTerminated
		s.Active = false
	}
}

func applyOutputs(outputs map[string]*Output, env event.Envelope) {
	switch p := env.Payload.(type) {
	case *event.CellOutputAdded:
		if _, exists := outputs[p.OutputID]; exists {
			return
		}
		data := make(map[string]string, len(p.Data))
		for k, v := range p.Data {
			data[k] = v
		}
		outputs[p.OutputID] = &Output{
			ID:         p.OutputID,
			CellID:     p.CellID,
			OutputType: p.OutputType,
			Data:       data,
			Position:   p.Position,
		}
	case *event.CellOutputsCleared:
		dropCellOutputs(outputs, p.CellID)
	case *event.CellDeleted:
		// A tombstoned cell keeps no outputs.
		dropCellOutputs(outputs, p.CellID)
	}
}

func dropCellOutputs(outputs map[string]*Output, cellID string) {
	for id, o := range outputs {
		if o.CellID == cellID {
			delete(outputs, id)
		}
	}
}
