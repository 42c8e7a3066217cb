package liveness

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
	"github.com/noteflowhq/noteflow/internal/testutil"
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

func TestStale(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "fresh", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 9_000},
		&event.KernelSessionStarted{SessionID: "stale", KernelID: "k2", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1_000},
		&event.KernelSessionStarted{SessionID: "dead", KernelID: "k3", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1_000},
		&event.KernelSessionTerminated{SessionID: "dead", Reason: "shutdown", TimestampMs: 2_000},
	)

	stale := Stale(tables, 10_000, 5*time.Second)
	require.Len(t, stale, 1, "terminated sessions are not re-terminated")
	assert.Equal(t, "stale", stale[0].SessionID)
}

func TestStale_HeartbeatRefreshes(t *testing.T) {
	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1_000},
		&event.KernelSessionHeartbeat{SessionID: "s1", Status: event.SessionReady, TimestampMs: 9_000},
	)

	assert.Empty(t, Stale(tables, 10_000, 5*time.Second))
	assert.Len(t, Stale(tables, 15_000, 5*time.Second), 1)
}

func TestSweep_TerminatesStaleSessions(t *testing.T) {
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Append(ctx, &event.KernelSessionStarted{
		SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1_000,
	})
	require.NoError(t, err)

	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 1_000},
	)

	clock := testutil.NewClock(time.UnixMilli(20_000))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := New(store, func() *state.Tables { return tables }, 5*time.Second, time.Second, logger)
	m.SetNow(clock.Now)

	require.NoError(t, m.Sweep(ctx))

	envs, err := store.ReadFrom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	term, ok := envs[0].Payload.(*event.KernelSessionTerminated)
	require.True(t, ok)
	assert.Equal(t, "s1", term.SessionID)
	assert.Equal(t, "timeout", term.Reason)
	assert.Equal(t, int64(20_000), term.TimestampMs)
}

func TestSweep_HealthySessionUntouched(t *testing.T) {
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	tables := buildTables(t,
		&event.KernelSessionStarted{SessionID: "s1", KernelID: "k1", KernelType: "python", CanExecuteCode: true, StartedAtMs: 19_000},
	)

	clock := testutil.NewClock(time.UnixMilli(20_000))
	m := New(store, func() *state.Tables { return tables }, 5*time.Second, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetNow(clock.Now)

	require.NoError(t, m.Sweep(ctx))

	pos, err := store.LastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos, "no termination events for healthy sessions")
}
