package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
)

// NewStatusCommand prints the derived tables rebuilt from the log.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show notebook, queue, and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts)
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	store, err := eventlog.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	envs, err := store.ReadFrom(ctx, 0)
	if err != nil {
		return err
	}
	tables, err := state.Rebuild(envs)
	if err != nil {
		return err
	}

	return printResult(opts, tables.Snapshot(), func() {
		printStatusText(tables)
	})
}

func printStatusText(t *state.Tables) {
	if t.Notebook.Initialized {
		fmt.Printf("notebook %s %q (owner %s)\n", t.Notebook.ID, t.Notebook.Title, t.Notebook.OwnerID)
	}
	fmt.Printf("position %d\n", t.AppliedPosition)

	cells := t.CellsOrdered()
	fmt.Printf("\ncells (%d):\n", len(cells))
	for _, c := range cells {
		fmt.Printf("  %-12s %-8s %-9s count=%d outputs=%d\n",
			c.ID, c.CellType, c.ExecutionState, c.ExecutionCount, len(t.OutputsFor(c.ID)))
	}

	fmt.Printf("\nqueue:\n")
	for _, e := range t.PendingQueue() {
		fmt.Printf("  %-12s cell=%s priority=%d pending\n", e.QueueID, e.CellID, e.Priority)
	}
	for _, e := range t.Queue {
		if e.Status == state.QueueAssigned || e.Status == state.QueueRunning {
			fmt.Printf("  %-12s cell=%s %s on %s\n", e.QueueID, e.CellID, e.Status, e.AssignedSession)
		}
	}

	sessions := t.ActiveSessions()
	fmt.Printf("\nsessions (%d active):\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("  %-12s %-8s %-6s lastHeartbeat=%d\n", s.SessionID, s.KernelType, s.Status, s.LastHeartbeatMs)
	}
}
