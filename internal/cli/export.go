package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bowmanmike/libsync/internal/catalog"
	"github.com/bowmanmike/libsync/internal/export"
	"github.com/bowmanmike/libsync/internal/hasher"
)

func newExportCmd(opts *options) *cobra.Command {
	var (
		fast       bool
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Rebuild the snapshot database from the player library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			progressOut := cmd.ErrOrStderr()
			if noProgress {
				progressOut = io.Discard
			}
			_, err := runExport(cmd.Context(), opts, fast, progressOut)
			return err
		},
	}

	cmd.Flags().BoolVar(&fast, "fast", false, "Reuse digests from the previous snapshot and keep orphaned artwork")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

func runExport(ctx context.Context, opts *options, fast bool, progressOut io.Writer) (export.Result, error) {
	if opts.cfg.Library.XMLPath == "" {
		return export.Result{}, errors.New("library.xml_path must be set in the config")
	}

	reader, err := opts.newCatalog(catalog.Config{
		LibraryPath: opts.cfg.Library.XMLPath,
		MusicRoot:   opts.cfg.Library.MusicRoot,
		Logger:      opts.logger,
	})
	if err != nil {
		return export.Result{}, fmt.Errorf("init catalog: %w", err)
	}

	store, err := opts.openStore()
	if err != nil {
		return export.Result{}, err
	}
	defer store.Close()

	exporter, err := export.New(export.Config{
		Catalog:    reader,
		Store:      store,
		Hasher:     hasher.New(opts.cfg.Export.HashChunkSize),
		ArtworkDir: opts.cfg.ArtworkDir,
		MusicRoot:  opts.cfg.Library.MusicRoot,
		BatchSize:  opts.cfg.Export.BatchSize,
		Metrics:    opts.metrics,
		Logger:     opts.logger,
	})
	if err != nil {
		return export.Result{}, fmt.Errorf("init exporter: %w", err)
	}

	opts.logger.Info("starting export", "fast", fast, "library", opts.cfg.Library.XMLPath)

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription(export.PhaseIdle.String()),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	res, err := export.RunWithProgress(ctx, exporter, export.Options{Fast: fast}, opts.cfg.Export.ProgressInterval, func(s export.ProgressSnapshot) {
		if s.Total > 0 && bar.GetMax64() != s.Total {
			bar.ChangeMax64(s.Total)
		}
		bar.Describe(s.Phase.String())
		_ = bar.Set64(s.Processed)
	})
	_ = bar.Finish()
	if err != nil {
		return res, fmt.Errorf("export: %w", err)
	}

	for _, p := range res.Phases {
		opts.logger.Debug("phase timing", "phase", p.Phase.String(), "duration", p.Duration)
	}
	return res, nil
}
