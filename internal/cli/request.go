package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/noteflowhq/noteflow/internal/event"
	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
)

// NewRequestCommand enqueues an execution for a cell, creating the cell
// first when it does not exist yet.
func NewRequestCommand(opts *RootOptions) *cobra.Command {
	var (
		cellID   string
		cellType string
		source   string
		priority int64
		user     string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request execution of a cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd.Context(), opts, cellID, cellType, source, priority, user)
		},
	}

	cmd.Flags().StringVar(&cellID, "cell", "", "cell ID (required)")
	cmd.Flags().StringVar(&cellType, "type", "code", "cell type (code|sql|ai)")
	cmd.Flags().StringVar(&source, "source", "", "cell source; when set, replaces the cell's source before queueing")
	cmd.Flags().Int64Var(&priority, "priority", 0, "queue priority (higher runs first)")
	cmd.Flags().StringVar(&user, "as", "cli", "requesting user")
	cmd.MarkFlagRequired("cell")

	return cmd
}

func runRequest(ctx context.Context, opts *RootOptions, cellID, cellType, source string, priority int64, user string) error {
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

	kind := event.CellKind(cellType)
	cell, exists := tables.Cells[cellID]

	if !exists {
		// New cells go after the current last one, leaving a gap for
		// fractional insertion later.
		var position int64 = 1024
		if ordered := tables.CellsOrdered(); len(ordered) > 0 {
			position = ordered[len(ordered)-1].Position + 1024
		}
		if _, err := store.Append(ctx, &event.CellCreated{
			CellID:    cellID,
			CellType:  kind,
			Position:  position,
			CreatedBy: user,
		}); err != nil {
			return err
		}
	} else {
		kind = cell.CellType
	}

	if source != "" {
		if _, err := store.Append(ctx, &event.CellSourceChanged{CellID: cellID, Source: source}); err != nil {
			return err
		}
	}

	var count int64 = 1
	if exists {
		count = cell.ExecutionCount + 1
	}

	queueID := uuid.NewString()
	env, err := store.Append(ctx, &event.ExecutionRequested{
		QueueID:        queueID,
		CellID:         cellID,
		CellType:       kind,
		ExecutionCount: count,
		Priority:       priority,
		RequestedBy:    user,
	})
	if err != nil {
		return err
	}

	return printResult(opts, map[string]any{
		"queueId":  queueID,
		"cellId":   cellID,
		"position": env.Position,
	}, func() {
		fmt.Printf("queued %s for cell %s at position %d\n", queueID, cellID, env.Position)
	})
}
