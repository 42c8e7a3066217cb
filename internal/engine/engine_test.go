package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
	"github.com/noteflowhq/noteflow/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEngine runs an engine over a fresh store until the test ends.
func startEngine(t *testing.T) (*eventlog.Store, *Engine) {
	t.Helper()

	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := New(store,
		WithLogger(quietLogger()),
		WithIDGenerator(testutil.NewIDs("requeue").Next),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return store, eng
}

func appendAll(t *testing.T, store *eventlog.Store, payloads ...event.Payload) {
	t.Helper()
	for _, p := range payloads {
		_, err := store.Append(context.Background(), p)
		require.NoError(t, err)
	}
}

func waitFor(t *testing.T, eng *Engine, cond func(*state.Tables) bool) *state.Tables {
	t.Helper()
	var snap *state.Tables
	require.Eventually(t, func() bool {
		snap = eng.Snapshot()
		return cond(snap)
	}, 3*time.Second, 10*time.Millisecond)
	return snap
}

func TestEngine_AssignsPendingWorkToIdleSession(t *testing.T) {
	store, eng := startEngine(t)

	appendAll(t, store,
		&event.CellCreated{CellID: "c1", CellType: event.CellKindCode, Position: 1024, CreatedBy: "u1"},
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	snap := waitFor(t, eng, func(s *state.Tables) bool {
		e := s.Queue["q1"]
		return e != nil && e.Status == state.QueueAssigned
	})
	assert.Equal(t, "s1", snap.Queue["q1"].AssignedSession)
}

func TestEngine_AssignsHighestPriorityFirst(t *testing.T) {
	store, eng := startEngine(t)

	// Both requests land before any session exists, so the engine picks
	// from a two-entry pending queue when s1 appears.
	appendAll(t, store,
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
		&event.ExecutionRequested{QueueID: "q2", CellID: "c2", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 10, RequestedBy: "u1"},
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
	)

	snap := waitFor(t, eng, func(s *state.Tables) bool {
		e := s.Queue["q2"]
		return e != nil && e.Status == state.QueueAssigned
	})
	assert.Equal(t, state.QueuePending, snap.Queue["q1"].Status, "lower priority waits for the session to free up")
}

func TestEngine_RecoversWorkFromLostSession(t *testing.T) {
	store, eng := startEngine(t)

	appendAll(t, store,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	waitFor(t, eng, func(s *state.Tables) bool {
		e := s.Queue["q1"]
		return e != nil && e.Status == state.QueueAssigned
	})

	appendAll(t, store,
		&event.KernelSessionTerminated{SessionID: "s1", Reason: "timeout", TimestampMs: 99},
	)

	snap := waitFor(t, eng, func(s *state.Tables) bool {
		e := s.Queue["requeue-1"]
		return e != nil && e.Status == state.QueuePending
	})

	assert.Equal(t, state.QueueCancelled, snap.Queue["q1"].Status)
	replacement := snap.Queue["requeue-1"]
	assert.Equal(t, "c1", replacement.CellID)
	assert.Equal(t, RequeuedBy, replacement.RequestedBy)
	assert.Equal(t, int64(1), replacement.Priority)
}

func TestEngine_ReactCommitsEachAssignmentOnce(t *testing.T) {
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	eng := New(store, WithLogger(quietLogger()))
	ctx := context.Background()

	appendAll(t, store,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1},
		&event.ExecutionRequested{QueueID: "q1", CellID: "c1", CellType: event.CellKindCode, ExecutionCount: 1, Priority: 1, RequestedBy: "u1"},
	)

	// Fold the log into the engine's tables without reacting, then react
	// twice: the entry is still pending on the second pass because the
	// assignment has not round-tripped, and it must not be committed again.
	envs, err := store.ReadFrom(ctx, 0)
	require.NoError(t, err)
	for _, env := range envs {
		_, err := eng.tables.Apply(env)
		require.NoError(t, err)
	}

	require.NoError(t, eng.react(ctx))
	require.NoError(t, eng.react(ctx))

	all, err := store.ReadFrom(ctx, 0)
	require.NoError(t, err)

	var assignments int
	for _, env := range all {
		if env.Type == event.TypeExecutionAssigned {
			assignments++
		}
	}
	assert.Equal(t, 1, assignments, "re-planning before the assignment applies must not commit it twice")
}

func TestEngine_RebuildsStateOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store, err := eventlog.Open(path)
	require.NoError(t, err)

	payloads := []event.Payload{
		&event.NotebookInitialized{NotebookID: "n1", Title: "t", OwnerID: "u1"},
		&event.CellCreated{CellID: "c1", CellType: event.CellKindCode, Position: 1024, CreatedBy: "u1"},
	}
	for _, p := range payloads {
		_, err := store.Append(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	store, err = eventlog.Open(path)
	require.NoError(t, err)
	defer store.Close()

	eng := New(store, WithLogger(quietLogger()))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	snap := waitFor(t, eng, func(s *state.Tables) bool {
		return s.AppliedPosition == 2
	})
	assert.True(t, snap.Notebook.Initialized)
	require.NotNil(t, snap.Cells["c1"])
}
