// Package state holds the derived tables and the materializers that fold
// events into them.
//
// Every table is a deterministic function of the event log prefix: rebuild
// from empty plus the full log reproduces identical tables, byte for byte.
// That property rests on one structural rule - a materializer receives only
// its own table and the event, never a handle to the rest of the store.
// Anything a reducer needs about another entity (a queue entry's cell type,
// say) must already be in the event payload.
package state

import (
	"sort"

	"github.com/noteflowhq/noteflow/internal/event"
)

// ExecState is a cell's execution lifecycle state.
type ExecState string

const (
	ExecIdle      ExecState = "idle"
	ExecQueued    ExecState = "queued"
	ExecRunning   ExecState = "running"
	ExecCompleted ExecState = "completed"
	ExecError     ExecState = "error"
)

// QueueStatus is a queue entry's lifecycle state. Transitions are forward
// only; completed, failed, and cancelled are absorbing.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueAssigned  QueueStatus = "assigned"
	QueueRunning   QueueStatus = "running"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

// Terminal reports whether a status is absorbing.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed || s == QueueCancelled
}

// SessionStatus is a kernel session's lifecycle state.
type SessionStatus string

const (
	SessionStarting   SessionStatus = "starting"
	SessionReady      SessionStatus = "ready"
	SessionBusy       SessionStatus = "busy"
	SessionTerminated SessionStatus = "terminated"
)

// Notebook is the single document-level row.
type Notebook struct {
	ID          string
	Title       string
	OwnerID     string
	Initialized bool
}

// Cell is one notebook cell. Deleted cells stay as tombstones so later
// events targeting them resolve deterministically.
type Cell struct {
	ID               string
	CellType         event.CellKind
	Source           string
	Position         int64
	ExecutionState   ExecState
	ExecutionCount   int64
	SourceVisible    bool
	OutputVisible    bool
	AIContextVisible bool
	Deleted          bool
}

// QueueEntry is one requested execution of a cell. RequestedAt is the log
// position of the originating ExecutionRequested event; it is the FIFO
// tiebreak among equal priorities.
type QueueEntry struct {
	QueueID         string
	CellID          string
	CellType        event.CellKind
	ExecutionCount  int64
	RequestedBy     string
	Priority        int64
	RequestedAt     int64
	Status          QueueStatus
	AssignedSession string
}

// KernelSession is one live worker instance. Active tracks explicit
// lifecycle events only; heartbeat recency is judged by the liveness
// monitor outside the reducer layer.
type KernelSession struct {
	SessionID       string
	KernelID        string
	KernelType      string
	CanExecuteCode  bool
	CanExecuteSQL   bool
	CanExecuteAI    bool
	Status          SessionStatus
	Active          bool
	LastHeartbeatMs int64
}

// CanExecute reports whether the session declares the capability a cell
// kind requires.
func (s *KernelSession) CanExecute(kind event.CellKind) bool {
	switch kind {
	case event.CellKindCode:
		return s.CanExecuteCode
	case event.CellKindSQL:
		return s.CanExecuteSQL
	case event.CellKindAI:
		return s.CanExecuteAI
	default:
		return false
	}
}

// Output is one output fragment for a cell, ordered by its explicit
// position within the cell, never by commit time.
type Output struct {
	ID         string
	CellID     string
	OutputType string
	Data       map[string]string
	Position   int64
}

// Tables is the full derived state: everything rebuildable from the log.
type Tables struct {
	Notebook Notebook
	Cells    map[string]*Cell
	Queue    map[string]*QueueEntry
	Sessions map[string]*KernelSession
	Outputs  map[string]*Output

	// AppliedPosition is the log position of the last applied event.
	AppliedPosition int64
}

// NewTables returns the empty state every replay starts from.
func NewTables() *Tables {
	return &Tables{
		Cells:    make(map[string]*Cell),
		Queue:    make(map[string]*QueueEntry),
		Sessions: make(map[string]*KernelSession),
		Outputs:  make(map[string]*Output),
	}
}

// Clone deep-copies the tables. Snapshot readers get a copy so the
// single-writer apply loop never shares mutable rows.
func (t *Tables) Clone() *Tables {
	out := &Tables{
		Notebook:        t.Notebook,
		Cells:           make(map[string]*Cell, len(t.Cells)),
		Queue:           make(map[string]*QueueEntry, len(t.Queue)),
		Sessions:        make(map[string]*KernelSession, len(t.Sessions)),
		Outputs:         make(map[string]*Output, len(t.Outputs)),
		AppliedPosition: t.AppliedPosition,
	}
	for id, c := range t.Cells {
		cc := *c
		out.Cells[id] = &cc
	}
	for id, e := range t.Queue {
		ee := *e
		out.Queue[id] = &ee
	}
	for id, s := range t.Sessions {
		ss := *s
		out.Sessions[id] = &ss
	}
	for id, o := range t.Outputs {
		oo := *o
		oo.Data = make(map[string]string, len(o.Data))
		for k, v := range o.Data {
			oo.Data[k] = v
		}
		out.Outputs[id] = &oo
	}
	return out
}

// CellsOrdered returns live (non-tombstoned) cells in notebook order.
func (t *Tables) CellsOrdered() []*Cell {
	cells := make([]*Cell, 0, len(t.Cells))
	for _, c := range t.Cells {
		if !c.Deleted {
			cells = append(cells, c)
		}
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Position != cells[j].Position {
			return cells[i].Position < cells[j].Position
		}
		return cells[i].ID < cells[j].ID
	})
	return cells
}

// PendingQueue returns pending entries in scheduling order: priority
// descending, then request order ascending (FIFO among equal priority).
func (t *Tables) PendingQueue() []*QueueEntry {
	entries := make([]*QueueEntry, 0, len(t.Queue))
	for _, e := range t.Queue {
		if e.Status == QueuePending {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].RequestedAt < entries[j].RequestedAt
	})
	return entries
}

// InFlight returns entries assigned to or running on the given session.
func (t *Tables) InFlight(sessionID string) []*QueueEntry {
	var entries []*QueueEntry
	for _, e := range t.Queue {
		if e.AssignedSession != sessionID {
			continue
		}
		if e.Status == QueueAssigned || e.Status == QueueRunning {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RequestedAt < entries[j].RequestedAt
	})
	return entries
}

// ActiveSessions returns non-terminated sessions ordered by session ID.
func (t *Tables) ActiveSessions() []*KernelSession {
	sessions := make([]*KernelSession, 0, len(t.Sessions))
	for _, s := range t.Sessions {
		if s.Active {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions
}

// OutputsFor returns a cell's outputs in fragment order.
func (t *Tables) OutputsFor(cellID string) []*Output {
	var outs []*Output
	for _, o := range t.Outputs {
		if o.CellID == cellID {
			outs = append(outs, o)
		}
	}
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].Position != outs[j].Position {
			return outs[i].Position < outs[j].Position
		}
		return outs[i].ID < outs[j].ID
	})
	return outs
}
