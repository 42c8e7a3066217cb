// Package worker is one kernel session: it registers itself, heartbeats,
// tails the log for entries assigned to it, and runs them through an
// Executor.
//
// The worker talks to the rest of the system only by committing events. It
// keeps its own materialized tables by tailing the log, the same fold the
// coordinator runs, so "work assigned to me" is a local table read rather
// than an RPC.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
)

// Fragment is one output piece an Executor produced, in emission order.
// OutputType is one of the event.OutputType* constants.
type Fragment struct {
	OutputType string
	Data       map[string]string
}

// ExecutionError is a structured execution failure. The worker records it
// as an error-typed output and marks the run failed; it never crashes the
// worker itself.
type ExecutionError struct {
	Ename     string
	Evalue    string
	Traceback []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Ename, e.Evalue)
}

// ExecSpec is what an Executor needs to run one cell.
type ExecSpec struct {
	CellID   string
	CellType event.CellKind
	Source   string
}

// Executor runs one cell. Returning *ExecutionError reports a structured
// failure; any other error is wrapped into one.
type Executor interface {
	Execute(ctx context.Context, spec ExecSpec) ([]Fragment, error)
}

// Config describes the session this worker registers.
type Config struct {
	SessionID  string // generated when empty
	KernelID   string
	KernelType string

	CanExecuteCode bool
	CanExecuteSQL  bool
	CanExecuteAI   bool

	HeartbeatInterval time.Duration
}

// Worker is one running kernel session.
type Worker struct {
	log    *eventlog.Store
	exec   Executor
	cfg    Config
	logger *slog.Logger
	newID  func() string
	now    func() time.Time

	busy atomic.Bool

	mu     sync.Mutex
	tables *state.Tables

	// claimed remembers queue IDs this worker has already started, so an
	// unrelated event arriving before our own ExecutionStarted round-trips
	// through the log cannot trigger a second run.
	claimed map[string]bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithIDGenerator overrides output ID generation. Test hook.
func WithIDGenerator(newID func() string) Option {
	return func(w *Worker) { w.newID = newID }
}

// WithClock overrides the wall clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New builds a worker over the given store and executor.
func New(log *eventlog.Store, exec Executor, cfg Config, opts ...Option) *Worker {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	w := &Worker{
		log:     log,
		exec:    exec,
		cfg:     cfg,
		logger:  slog.Default(),
		newID:   uuid.NewString,
		now:     time.Now,
		tables:  state.NewTables(),
		claimed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("sessionId", cfg.SessionID)
	return w
}

// SessionID returns the session identity this worker registered under.
func (w *Worker) SessionID() string {
	return w.cfg.SessionID
}

// Claim commits a direct assignment of a pending queue entry to this
// session, for deployments that run workers without a coordinator. Races
// are safe: the first assignment to materialize wins, and a losing claim
// folds to a no-op, so the entry never shows up in this worker's assigned
// set.
func (w *Worker) Claim(ctx context.Context, queueID string) error {
	_, err := w.log.Append(ctx, &event.ExecutionAssigned{
		QueueID:         queueID,
		KernelSessionID: w.cfg.SessionID,
	})
	if err != nil {
		return fmt.Errorf("claim %s: %w", queueID, err)
	}
	return nil
}

// Run registers the session and serves assigned work until the context is
// cancelled, then terminates the session with an explicit event.
func (w *Worker) Run(ctx context.Context) error {
	_, err := w.log.Append(ctx, &event.KernelSessionStarted{
		SessionID:      w.cfg.SessionID,
		KernelID:       w.cfg.KernelID,
		KernelType:     w.cfg.KernelType,
		CanExecuteCode: w.cfg.CanExecuteCode,
		CanExecuteSQL:  w.cfg.CanExecuteSQL,
		CanExecuteAI:   w.cfg.CanExecuteAI,
		StartedAtMs:    w.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	w.logger.Info("session registered", "kernelType", w.cfg.KernelType)

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeatLoop(hbCtx)
	}()

	err = w.serve(ctx)

	stopHeartbeat()
	hb.Wait()

	// Deregister on a fresh context; the run context is already done.
	termCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, terr := w.log.Append(termCtx, &event.KernelSessionTerminated{
		SessionID:   w.cfg.SessionID,
		Reason:      "shutdown",
		TimestampMs: w.now().UnixMilli(),
	}); terr != nil {
		w.logger.Error("session deregistration failed", "error", terr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := event.SessionReady
			if w.busy.Load() {
				status = event.SessionBusy
			}
			_, err := w.log.Append(ctx, &event.KernelSessionHeartbeat{
				SessionID:   w.cfg.SessionID,
				Status:      status,
				TimestampMs: w.now().UnixMilli(),
			})
			if err != nil && ctx.Err() == nil {
				w.logger.Error("heartbeat failed", "error", err)
			}
		}
	}
}

// serve tails the log and claims work as assignments to this session
// materialize.
func (w *Worker) serve(ctx context.Context) error {
	sub := w.log.Subscribe(ctx, 0)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Events():
			if !ok {
				return nil
			}

			w.mu.Lock()
			_, err := w.tables.Apply(env)
			w.mu.Unlock()
			if err != nil {
				return err
			}

			if entry, spec, ok := w.claimable(); ok {
				if err := w.execute(ctx, entry, spec); err != nil {
					return err
				}
			}
		}
	}
}

// claimable returns the oldest entry assigned to this session that has not
// started yet, along with the cell snapshot it should run.
func (w *Worker) claimable() (*state.QueueEntry, ExecSpec, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range w.tables.InFlight(w.cfg.SessionID) {
		if e.Status != state.QueueAssigned || w.claimed[e.QueueID] {
			continue
		}
		w.claimed[e.QueueID] = true
		spec := ExecSpec{CellID: e.CellID, CellType: e.CellType}
		if c, ok := w.tables.Cells[e.CellID]; ok {
			spec.Source = c.Source
		}
		return e, spec, true
	}
	return nil, ExecSpec{}, false
}

// execute runs one entry: start, clear old outputs, emit fresh ones, then
// complete. The clear always precedes the first new output so stale output
// never coexists with a new run's fragments.
func (w *Worker) execute(ctx context.Context, entry *state.QueueEntry, spec ExecSpec) error {
	w.busy.Store(true)
	defer w.busy.Store(false)

	started := w.now()
	w.logger.Info("executing cell", "queueId", entry.QueueID, "cellId", entry.CellID)

	_, err := w.log.Append(ctx, &event.ExecutionStarted{
		QueueID:         entry.QueueID,
		CellID:          entry.CellID,
		KernelSessionID: w.cfg.SessionID,
		StartedAtMs:     started.UnixMilli(),
	})
	if err != nil {
		return err
	}

	if _, err := w.log.Append(ctx, &event.CellOutputsCleared{
		CellID:    entry.CellID,
		ClearedBy: w.cfg.SessionID,
	}); err != nil {
		return err
	}

	fragments, execErr := w.exec.Execute(ctx, spec)

	for i, f := range fragments {
		data := f.Data
		if data == nil {
			data = map[string]string{}
		}
		if _, err := w.log.Append(ctx, &event.CellOutputAdded{
			OutputID:   w.newID(),
			CellID:     entry.CellID,
			OutputType: f.OutputType,
			Data:       data,
			Position:   int64(i + 1),
		}); err != nil {
			return err
		}
	}

	status := event.CompletionSuccess
	if execErr != nil {
		status = event.CompletionError
		if err := w.emitError(ctx, entry, len(fragments), execErr); err != nil {
			return err
		}
	}

	_, err = w.log.Append(ctx, &event.ExecutionCompleted{
		QueueID:    entry.QueueID,
		CellID:     entry.CellID,
		Status:     status,
		DurationMs: w.now().Sub(started).Milliseconds(),
	})
	return err
}

func (w *Worker) emitError(ctx context.Context, entry *state.QueueEntry, position int, execErr error) error {
	eerr, ok := execErr.(*ExecutionError)
	if !ok {
		eerr = &ExecutionError{Ename: "ExecutionError", Evalue: execErr.Error()}
	}

	w.logger.Warn("execution failed",
		"queueId", entry.QueueID,
		"cellId", entry.CellID,
		"ename", eerr.Ename,
	)

	_, err := w.log.Append(ctx, &event.CellOutputAdded{
		OutputID:   w.newID(),
		CellID:     entry.CellID,
		OutputType: event.OutputTypeError,
		Data: map[string]string{
			"ename":     eerr.Ename,
			"evalue":    eerr.Evalue,
			"traceback": strings.Join(eerr.Traceback, "\n"),
		},
		Position: int64(position + 1),
	})
	return err
}
