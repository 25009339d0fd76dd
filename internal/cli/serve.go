package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bowmanmike/libsync/internal/auth"
	"github.com/bowmanmike/libsync/internal/config"
	"github.com/bowmanmike/libsync/internal/remote"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pending updates, artwork and snapshot version to sync clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if listen != "" {
				opts.cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", getEnv("LIBSYNC_LISTEN", ""), "Listen address (or LIBSYNC_LISTEN)")

	return cmd
}

func runServe(ctx context.Context, opts *options) error {
	signer, err := auth.NewSigner(auth.Config{
		Secret:          opts.cfg.Server.Secret,
		ServiceIdentity: opts.cfg.Remote.ServiceIdentity,
		TTL:             opts.cfg.Server.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("init signer (set %s): %w", config.EnvServerSecret, err)
	}

	store, err := opts.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	server, err := remote.NewServer(remote.ServerConfig{
		Store:      store,
		Signer:     signer,
		ArtworkDir: opts.cfg.ArtworkDir,
		Metrics:    opts.metrics,
		Logger:     opts.logger,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              opts.cfg.Server.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		opts.logger.Info("sync server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		opts.logger.Info("shutting down sync server")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
