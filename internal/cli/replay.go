package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteflowhq/noteflow/internal/eventlog"
	"github.com/noteflowhq/noteflow/internal/state"
)

// NewReplayCommand rebuilds derived state from scratch and verifies the
// replay is deterministic. Operators run this when a replica is suspected
// of divergence; a digest mismatch means resync, not repair.
func NewReplayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Verify replay determinism and print the state digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts)
		},
	}
}

func runReplay(ctx context.Context, opts *RootOptions) error {
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

	digest, err := state.VerifyReplay(envs)
	if err != nil {
		return fmt.Errorf("replay verification failed: %w", err)
	}

	return printResult(opts, map[string]any{
		"events": int64(len(envs)),
		"digest": digest,
	}, func() {
		fmt.Printf("replayed %d events, digest %s\n", len(envs), digest)
	})
}
