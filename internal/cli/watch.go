package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var skipUpdate bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-export (fast) and drain local edits whenever the library XML changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, func(ctx context.Context) error {
				return watchCycle(ctx, opts, !skipUpdate)
			})
		},
	}

	cmd.Flags().BoolVar(&skipUpdate, "skip-update", false, "Only export; do not drain local edits after each export")

	return cmd
}

func watchCycle(ctx context.Context, opts *options, drain bool) error {
	if drain {
		if _, err := runUpdate(ctx, opts); err != nil {
			return err
		}
	}
	_, err := runExport(ctx, opts, true, io.Discard)
	return err
}

// runWatch calls onChange once at start and then after every burst of
// writes to the library XML, once the file has been quiet for the debounce
// interval. A failed cycle is logged and the watch continues.
func runWatch(ctx context.Context, opts *options, onChange func(context.Context) error) error {
	target := opts.cfg.Library.XMLPath
	if target == "" {
		return errors.New("library.xml_path must be set in the config")
	}
	target, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve library path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// The player replaces the file on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	run := func() {
		if err := onChange(ctx); err != nil && ctx.Err() == nil {
			opts.logger.Error("watch cycle failed", "error", err)
		}
	}

	opts.logger.Info("watching library", "path", target, "debounce", opts.cfg.Watch.Debounce)
	run()

	timer := time.NewTimer(opts.cfg.Watch.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			opts.logger.Debug("library changed", "op", event.Op.String())
			timer.Reset(opts.cfg.Watch.Debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			opts.logger.Warn("watcher error", "error", err)
		case <-timer.C:
			run()
		}
	}
}
