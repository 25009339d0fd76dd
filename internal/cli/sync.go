package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/bowmanmike/libsync/internal/auth"
	"github.com/bowmanmike/libsync/internal/config"
	"github.com/bowmanmike/libsync/internal/player"
	"github.com/bowmanmike/libsync/internal/remote"
	"github.com/bowmanmike/libsync/internal/update"
)

// errRemoteNotReady is returned while the server has no finished export.
var errRemoteNotReady = errors.New("remote snapshot is not ready")

func newSyncCmd(opts *options) *cobra.Command {
	var (
		baseURL string
		policy  string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply edits pending on a remote sync server to the player",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if baseURL != "" {
				opts.cfg.Remote.BaseURL = baseURL
			}
			if policy != "" {
				opts.cfg.Update.FailurePolicy = policy
			}
			_, err := runSync(cmd.Context(), opts)
			return err
		},
	}

	cmd.Flags().StringVar(&baseURL, "remote-url", getEnv("LIBSYNC_REMOTE_URL", ""), "Sync server base URL (or LIBSYNC_REMOTE_URL)")
	cmd.Flags().StringVar(&policy, "failure-policy", "", "abort or continue when the player rejects an update")

	return cmd
}

func runSync(ctx context.Context, opts *options) (update.Result, error) {
	if opts.cfg.Remote.BaseURL == "" {
		return update.Result{}, errors.New("remote URL must be set via --remote-url, LIBSYNC_REMOTE_URL or remote.base_url")
	}

	signer, err := auth.NewSigner(auth.Config{
		Secret:          opts.cfg.Remote.Secret,
		ServiceIdentity: opts.cfg.Remote.ServiceIdentity,
	})
	if err != nil {
		return update.Result{}, fmt.Errorf("init signer (set %s): %w", config.EnvRemoteSecret, err)
	}

	client, err := opts.newRemote(remote.Config{
		BaseURL:    opts.cfg.Remote.BaseURL,
		Tokens:     signer,
		HTTPClient: &http.Client{Timeout: opts.cfg.Remote.Timeout},
	})
	if err != nil {
		return update.Result{}, fmt.Errorf("init remote client: %w", err)
	}

	updater, err := update.New(update.Config{
		Player:     opts.newPlayer(player.Config{Application: opts.cfg.Library.Application}),
		ArtworkDir: opts.cfg.ArtworkDir,
		Artwork:    client,
		Policy:     update.Policy(opts.cfg.Update.FailurePolicy),
		Metrics:    opts.metrics,
		Logger:     opts.logger,
	})
	if err != nil {
		return update.Result{}, fmt.Errorf("init updater: %w", err)
	}

	version, err := client.SnapshotVersion(ctx)
	if err != nil {
		return update.Result{}, fmt.Errorf("read remote snapshot version: %w", err)
	}
	if version == 0 {
		return update.Result{}, errRemoteNotReady
	}

	opts.logger.Info("starting remote sync",
		"remote_url", opts.cfg.Remote.BaseURL,
		"identity", signer.ServiceIdentity(),
		"snapshot_version", version,
	)
	res, err := updater.DrainRemote(ctx, client)
	if err != nil {
		return res, fmt.Errorf("drain remote updates: %w", err)
	}
	return res, nil
}
