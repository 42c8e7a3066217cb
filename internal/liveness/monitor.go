// Package liveness detects dead kernel sessions by heartbeat recency.
//
// This is deliberately not a materializer: judging staleness needs
// wall-clock "now", which must stay outside pure reduction. The monitor is
// a process-level watchdog that periodically compares heartbeats against
// the clock and commits ordinary KernelSessionTerminated events; every
// replica then derives the same inactive state from the log, with a full
// event trail and no ambient clock reads in any reducer.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/state"
)

// Appender commits events to the log.
type Appender interface {
	Append(ctx context.Context, p event.Payload) (event.Envelope, error)
}

// Stale returns active sessions whose last heartbeat is older than the
// window at nowMs. Pure; the monitor and tests share it.
func Stale(t *state.Tables, nowMs int64, window time.Duration) []*state.KernelSession {
	var stale []*state.KernelSession
	for _, s := range t.ActiveSessions() {
		if nowMs-s.LastHeartbeatMs > window.Milliseconds() {
			stale = append(stale, s)
		}
	}
	return stale
}

// Monitor periodically sweeps for stale sessions and terminates them.
type Monitor struct {
	log      Appender
	snapshot func() *state.Tables
	window   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a monitor over the given log and table snapshot accessor.
// window is how long a session may go without heartbeating; interval is
// the sweep period.
func New(log Appender, snapshot func() *state.Tables, window, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		log:      log,
		snapshot: snapshot,
		window:   window,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// SetNow overrides the clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				return err
			}
		}
	}
}

// Sweep terminates every session that is stale right now. A session
// already terminated by the time the event applies is a no-op at the
// materializer, so overlapping sweeps are harmless.
func (m *Monitor) Sweep(ctx context.Context) error {
	nowMs := m.now().UnixMilli()

	for _, s := range Stale(m.snapshot(), nowMs, m.window) {
		m.logger.Warn("session heartbeat timed out",
			"sessionId", s.SessionID,
			"lastHeartbeatMs", s.LastHeartbeatMs,
			"windowMs", m.window.Milliseconds(),
		)

		_, err := m.log.Append(ctx, &event.KernelSessionTerminated{
			SessionID:   s.SessionID,
			Reason:      "timeout",
			TimestampMs: nowMs,
		})
		if err != nil {
			return fmt.Errorf("terminate stale session %s: %w", s.SessionID, err)
		}
	}
	return nil
}
