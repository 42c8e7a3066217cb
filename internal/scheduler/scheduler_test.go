package scheduler

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/state"
)

func buildTables(t *testing.T, payloads ...event.Payload) *state.Tables {
	t.Helper()
	tables := state.NewTables()
	for i, p := range payloads {
		id, err := event.ID(strconv.Itoa(i+1), p)
		require.NoError(t, err)
		_, err = tables.Apply(event.Envelope{
			Position: int64(i + 1),
			ID:       id,
			Type:     p.EventType(),
			Payload:  p,
		})
		require.NoError(t, err)
	}
	return tables
}

func TestNext_PriorityOrdering(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 10, RequestedBy: "u1"},
	)

	a, ok := Next(tables)
	require.True(t, ok)
	assert.Equal(t, Assignment{QueueID: "q2", SessionID: "s1"}, a)
}

func TestNext_FIFOAmongEqualPriority(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 5, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 5, RequestedBy: "u1"},
	)

	a, ok := Next(tables)
	require.True(t, ok)
	assert.Equal(t, "q1", a.QueueID, "earlier request wins the tie")
}

func TestNext_CapabilityMatching(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		// Higher priority but needs SQL, which no session declares.
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindSQL, ExecutionCount: 1, Priority: 10, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	a, ok := Next(tables)
	require.True(t, ok)
	assert.Equal(t, "q2", a.QueueID, "unservable entry must not block servable ones")
}

func TestNext_NoIdleSessions(t *testing.T) {
	tables := buildTables(t,
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	_, ok := Next(tables)
	assert.False(t, ok)
}

func TestNext_SkipsBusyAndTerminatedSessions(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.KernelSessionStarted{SessionID: "s2", KernelID: "k2", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.KernelSessionHeartbeat{SessionID: "s1", Status: event.SessionBusy, TimestampMs: 2},
		&event.KernelSessionTerminated{SessionID: "s2", Reason: "shutdown", TimestampMs: 3},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	_, ok := Next(tables)
	assert.False(t, ok, "busy and terminated sessions take no work")
}

func TestNext_SkipsSessionsWithInFlightWork(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
		&event.ExecutionAssigned{QueueID: "q1", KernelSessionID: "s1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	_, ok := Next(tables)
	assert.False(t, ok, "a session already holding an entry is not idle")
}

func TestPlan_OneEntryPerSession(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.KernelSessionStarted{SessionID: "s2", KernelID: "k2", KernelType: "duckdb", CanExecuteSQL: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 5, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindSQL, ExecutionCount: 1, Priority: 3, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q3", CellID: "c3", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	plan := Plan(tables)
	require.Len(t, plan, 2)
	assert.Equal(t, Assignment{QueueID: "q1", SessionID: "s1"}, plan[0])
	assert.Equal(t, Assignment{QueueID: "q2", SessionID: "s2"}, plan[1])
}

func TestOrphaned(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
		&event.ExecutionAssigned{QueueID: "q1", KernelSessionID: "s1"},
		&event.ExecutionStarted{QueueID: "q1", CellID: "c1", KernelSessionID: "s1", StartedAtMs: 10},
		&event.KernelSessionTerminated{SessionID: "s1", Reason: "timeout", TimestampMs: 20},
	)

	orphans := Orphaned(tables)
	require.Len(t, orphans, 1)
	assert.Equal(t, "q1", orphans[0].QueueID)

	// Cancellation returns the entry to a requestable (terminal) state;
	// nothing is orphaned afterwards.
	p := &event.ExecutionCancelled{QueueID: "q1", CellID: "c1", Reason: event.CancelReasonSessionLost}
	id, err := event.ID("cancel-q1", p)
	require.NoError(t, err)
	_, err = tables.Apply(event.Envelope{Position: tables.AppliedPosition + 1, ID: id, Type: p.EventType(), Payload: p})
	require.NoError(t, err)

	assert.Empty(t, Orphaned(tables))
}
