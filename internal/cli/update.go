package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bowmanmike/libsync/internal/player"
	"github.com/bowmanmike/libsync/internal/update"
)

func newUpdateCmd(opts *options) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply locally recorded edits to the player",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if policy != "" {
				opts.cfg.Update.FailurePolicy = policy
			}
			_, err := runUpdate(cmd.Context(), opts)
			return err
		},
	}

	cmd.Flags().StringVar(&policy, "failure-policy", "", "abort or continue when the player rejects an update")

	return cmd
}

func runUpdate(ctx context.Context, opts *options) (update.Result, error) {
	store, err := opts.openStore()
	if err != nil {
		return update.Result{}, err
	}
	defer store.Close()

	updater, err := update.New(update.Config{
		Player:     opts.newPlayer(player.Config{Application: opts.cfg.Library.Application}),
		ArtworkDir: opts.cfg.ArtworkDir,
		Policy:     update.Policy(opts.cfg.Update.FailurePolicy),
		Metrics:    opts.metrics,
		Logger:     opts.logger,
	})
	if err != nil {
		return update.Result{}, fmt.Errorf("init updater: %w", err)
	}

	res, err := updater.DrainLocal(ctx, store)
	if err != nil {
		return res, fmt.Errorf("drain local updates: %w", err)
	}
	return res, nil
}
