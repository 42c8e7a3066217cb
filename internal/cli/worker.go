package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/worker"
)

// NewWorkerCommand runs one kernel session against the configured store.
// The built-in echo executor streams cell source back as output; real
// sandboxes plug in behind the same Executor interface.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a kernel session worker",
		Long: "Registers a kernel session, heartbeats, and executes queue entries " +
			"assigned to it until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), opts, sessionID)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session identity (generated when empty)")
	return cmd
}

func runWorker(ctx context.Context, opts *RootOptions, sessionID string) error {
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

	w := worker.New(store, worker.EchoExecutor{}, worker.Config{
		SessionID:         sessionID,
		KernelID:          cfg.Worker.KernelID,
		KernelType:        cfg.Worker.KernelType,
		CanExecuteCode:    cfg.Worker.CanExecuteCode,
		CanExecuteSQL:     cfg.Worker.CanExecuteSQL,
		CanExecuteAI:      cfg.Worker.CanExecuteAI,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
	}, worker.WithLogger(logger))

	logger.Info("worker starting", "sessionId", w.SessionID(), "store", cfg.Store.Path)
	return w.Run(ctx)
}
