// Package engine runs the coordination loop: tail the event log, fold each
// event into the derived tables, then react - assign pending work to idle
// sessions and recover work stranded on dead ones.
//
// One engine instance is the coordinator for its store. All table mutation
// happens on the single Run goroutine; readers get point-in-time copies via
// Snapshot. Reactions are expressed only as appended events, so every
// decision the engine makes is in the log and replayable.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/scheduler"
	"github.com/noteflowhq/noteflow/internal/state"
)

// RequeuedBy marks ExecutionRequested events the engine emits when
// recovering work from a lost session, distinguishing them from user
// requests in the log.
const RequeuedBy = "coordinator:requeue"

// Engine is the single-writer coordinator.
type Engine struct {
	log    *eventlog.Store
	logger *slog.Logger
	newID  func() string

	mu     sync.RWMutex
	tables *state.Tables

	// recovered maps orphaned queue IDs to their replacement, so a burst
	// of events between appending the recovery pair and applying it does
	// not requeue the same entry twice. Transient; rebuilt state does not
	// depend on it.
	recovered map[string]string

	// assigned holds queue IDs this engine has already committed an
	// assignment for. Re-planning between the append and its round-trip
	// through the subscription would otherwise commit the same assignment
	// again as a second event. Transient, same as recovered.
	assigned map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithIDGenerator overrides queue ID generation. Test hook.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New builds an engine over the given store.
func New(log *eventlog.Store, opts ...Option) *Engine {
	e := &Engine{
		log:       log,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		tables:    state.NewTables(),
		recovered: make(map[string]string),
		assigned:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns a point-in-time copy of the derived tables.
func (e *Engine) Snapshot() *state.Tables {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tables.Clone()
}

// Position returns the log position the engine has applied through.
func (e *Engine) Position() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tables.AppliedPosition
}

// Run tails the log from the beginning and coordinates until the context
// is cancelled or the store closes. The full-log catch-up doubles as the
// replay that rebuilds derived state on restart.
//
// An integrity error from the materializer is fatal: the engine stops
// rather than continue with tables it cannot trust.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.log.Subscribe(ctx, 0)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := e.step(ctx, env); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) step(ctx context.Context, env event.Envelope) error {
	e.mu.Lock()
	res, err := e.tables.Apply(env)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	for _, c := range res.Conflicts {
		e.logger.Warn("assignment conflict",
			"queueId", c.QueueID,
			"winner", c.Winner,
			"loser", c.Loser,
		)
	}

	e.logger.Debug("applied event", "position", env.Position, "type", env.Type)

	return e.react(ctx)
}

// react turns the current tables into events: recovery first, then
// assignment. Re-planning after every event is safe - the assigned map
// keeps this engine from committing the same assignment twice, and the
// materializer's accept-first rule absorbs anything another committer
// races in.
func (e *Engine) react(ctx context.Context) error {
	e.mu.RLock()
	orphans := scheduler.Orphaned(e.tables)
	plan := scheduler.Plan(e.tables)
	e.mu.RUnlock()

	for _, o := range orphans {
		if err := e.recover(ctx, o); err != nil {
			return err
		}
	}

	for _, a := range plan {
		if _, done := e.assigned[a.QueueID]; done {
			continue
		}
		e.logger.Info("assigning execution", "queueId", a.QueueID, "sessionId", a.SessionID)
		_, err := e.log.Append(ctx, &event.ExecutionAssigned{
			QueueID:         a.QueueID,
			KernelSessionID: a.SessionID,
		})
		if err != nil {
			return err
		}
		e.assigned[a.QueueID] = a.SessionID
	}
	return nil
}

// recover cancels an entry stranded on a dead session and requeues the
// same execution under a fresh queue ID. Both steps are events; the
// stranded assignment is never silently reused.
func (e *Engine) recover(ctx context.Context, o *state.QueueEntry) error {
	if _, done := e.recovered[o.QueueID]; done {
		return nil
	}

	e.logger.Warn("recovering execution from lost session",
		"queueId", o.QueueID,
		"sessionId", o.AssignedSession,
		"cellId", o.CellID,
	)

	_, err := e.log.Append(ctx, &event.ExecutionCancelled{
		QueueID: o.QueueID,
		CellID:  o.CellID,
		Reason:  event.CancelReasonSessionLost,
	})
	if err != nil {
		return err
	}

	replacement := e.newID()
	_, err = e.log.Append(ctx, &event.ExecutionRequested{
		QueueID:        replacement,
		CellID:         o.CellID,
		CellType:       o.CellType,
		ExecutionCount: o.ExecutionCount,
		Priority:       o.Priority,
		RequestedBy:    RequeuedBy,
	})
	if err != nil {
		return err
	}

	e.recovered[o.QueueID] = replacement
	return nil
}
