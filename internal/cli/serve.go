package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/noteflowhq/noteflow/internal/engine"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/liveness"
)

// NewServeCommand runs the coordinator: the assignment engine plus the
// heartbeat watchdog, over the configured store.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the execution coordinator",
		Long: "Tails the event log, assigns pending executions to idle kernel " +
			"sessions, and terminates sessions whose heartbeats lapse.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(opts)

	store, err := eventlog.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(store, engine.WithLogger(logger))
	monitor := liveness.New(store, eng.Snapshot, cfg.Liveness.Window(), cfg.Liveness.SweepInterval(), logger)

	logger.Info("coordinator starting",
		"store", cfg.Store.Path,
		"heartbeatWindow", cfg.Liveness.Window(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("coordinator failed: %w", err)
	}
	return nil
}
