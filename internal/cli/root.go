package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/catalog"
	"github.com/bowmanmike/libsync/internal/config"
	"github.com/bowmanmike/libsync/internal/logging"
	"github.com/bowmanmike/libsync/internal/metrics"
	"github.com/bowmanmike/libsync/internal/player"
	"github.com/bowmanmike/libsync/internal/remote"
	"github.com/bowmanmike/libsync/internal/storage/sqlite"
)

// Execute runs the root CLI command.
func Execute() error {
	opts := newOptions()
	rootCmd := newRootCmd(opts)
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	return rootCmd.Execute()
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "libsync",
		Short:         "Export a media player library to SQLite and sync edits back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", getEnv("LIBSYNC_CONFIG", ""), "Path to YAML config (or LIBSYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db-path", getEnv("LIBSYNC_DB_PATH", ""), "Snapshot database path (or LIBSYNC_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", getEnv("LIBSYNC_LOG_LEVEL", ""), "Log level: debug, info, warn, error (or LIBSYNC_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", getEnv("LIBSYNC_LOG_FORMAT", ""), "Log format: json, text, console (or LIBSYNC_LOG_FORMAT)")

	cmd.AddCommand(
		newExportCmd(opts),
		newUpdateCmd(opts),
		newSyncCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newEditCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// snapshotDB is the slice of *sqlite.Store the commands use.
type snapshotDB interface {
	app.SnapshotStore
	app.UpdateLog
	DeleteApplied(ctx context.Context, upd app.PendingUpdate) (int64, error)
	RecordEdit(ctx context.Context, edit app.Edit) (string, error)
	SnapshotVersion(ctx context.Context) (int64, error)
	TotalFileSize(ctx context.Context) (int64, error)
	PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
	Close() error
}

type remoteAPI interface {
	FetchUpdates(ctx context.Context) ([]app.PendingUpdate, error)
	AcknowledgeUpdate(ctx context.Context, upd app.PendingUpdate) error
	FetchArtwork(ctx context.Context, filename string) ([]byte, error)
	SnapshotVersion(ctx context.Context) (int64, error)
}

type options struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Recorder

	newStore   func(sqlite.Config) (snapshotDB, error)
	newCatalog func(catalog.Config) (app.Catalog, error)
	newPlayer  func(player.Config) app.Player
	newRemote  func(remote.Config) (remoteAPI, error)
}

func newOptions() *options {
	return &options{
		newStore: func(cfg sqlite.Config) (snapshotDB, error) {
			return sqlite.New(cfg)
		},
		newCatalog: func(cfg catalog.Config) (app.Catalog, error) {
			return catalog.NewReader(cfg)
		},
		newPlayer: func(cfg player.Config) app.Player {
			return player.New(cfg)
		},
		newRemote: func(cfg remote.Config) (remoteAPI, error) {
			return remote.NewClient(cfg)
		},
	}
}

// setup loads config, applies flag overrides and builds the logger. It is
// idempotent so tests can pre-populate cfg and logger.
func (o *options) setup(errOut io.Writer) error {
	if o.cfg == nil {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}
	if o.dbPath != "" {
		o.cfg.DBPath = o.dbPath
	}
	if o.logLevel != "" {
		o.cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		o.cfg.Log.Format = o.logFormat
	}

	if err := o.ensureLogger(errOut); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	return nil
}

func (o *options) ensureLogger(errOut io.Writer) error {
	if o.logger != nil {
		return nil
	}
	logger, err := logging.New(o.cfg.Log.Level, o.cfg.Log.Format, errOut)
	if err != nil {
		return err
	}
	o.logger = logger
	slog.SetDefault(logger)
	return nil
}

func (o *options) openStore() (snapshotDB, error) {
	store, err := o.newStore(sqlite.Config{
		Path:            o.cfg.DBPath,
		MaxOpenConns:    o.cfg.Database.MaxOpenConns,
		CheckoutTimeout: o.cfg.Database.CheckoutTimeout,
		ArtworkDir:      o.cfg.ArtworkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	o.logger.Debug("snapshot store opened", "db_path", o.cfg.DBPath)
	return store, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
