package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/catalog"
	"github.com/bowmanmike/libsync/internal/config"
	"github.com/bowmanmike/libsync/internal/player"
)

func testOptions(t *testing.T) *options {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "snapshot.db")
	cfg.ArtworkDir = filepath.Join(dir, "artwork")
	cfg.Library.XMLPath = filepath.Join(dir, "Library.xml")
	cfg.Library.MusicRoot = filepath.Join(dir, "music")

	opts := newOptions()
	opts.cfg = cfg
	opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

type stubCatalog struct {
	lib *app.Library
}

func (s stubCatalog) Load(context.Context) (*app.Library, error) { return s.lib, nil }

func (s stubCatalog) Artwork(context.Context, app.MediaItem) (*app.Artwork, error) { return nil, nil }

// withLibrary writes one audio file and points the catalog at it.
func withLibrary(t *testing.T, opts *options, trackID string) {
	t.Helper()
	root := opts.cfg.Library.MusicRoot
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(root, "song.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lib := &app.Library{
		MusicRoot: root,
		Items: []app.MediaItem{{
			PersistentID: trackID,
			Name:         "Song",
			Kind:         "MPEG audio file",
			TrackType:    "File",
			PlayCount:    2,
			Path:         path,
		}},
	}
	opts.newCatalog = func(catalog.Config) (app.Catalog, error) {
		return stubCatalog{lib: lib}, nil
	}
}

type recordingPlayer struct {
	values map[string]string
	calls  int
}

func (p *recordingPlayer) Get(_ context.Context, field app.Field, trackID string) (string, error) {
	p.calls++
	return p.values[field.String()+"/"+trackID], nil
}

func (p *recordingPlayer) Set(_ context.Context, field app.Field, trackID, value string) error {
	p.calls++
	p.values[field.String()+"/"+trackID] = value
	return nil
}

func TestGetEnv(t *testing.T) {
	t.Setenv("LIBSYNC_TEST_VALUE", "set")
	if got := getEnv("LIBSYNC_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := getEnv("LIBSYNC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRootFlagsFallBackToEnv(t *testing.T) {
	t.Setenv("LIBSYNC_DB_PATH", "/tmp/from-env.db")
	opts := newOptions()
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if opts.dbPath != "/tmp/from-env.db" {
		t.Fatalf("expected db path from env, got %q", opts.dbPath)
	}
}

func TestSetupAppliesFlagOverrides(t *testing.T) {
	opts := testOptions(t)
	opts.logger = nil
	opts.dbPath = "/tmp/override.db"
	opts.logFormat = "text"

	if err := opts.setup(io.Discard); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if opts.cfg.DBPath != "/tmp/override.db" || opts.cfg.Log.Format != "text" {
		t.Fatalf("flags not applied: %+v", opts.cfg)
	}
	if opts.logger == nil || opts.metrics == nil {
		t.Fatalf("expected logger and metrics to be built")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd(newOptions())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestExportEditUpdateRoundTrip(t *testing.T) {
	const trackID = "00000000000000AA"
	opts := testOptions(t)
	withLibrary(t, opts, trackID)
	ctx := context.Background()

	res, err := runExport(ctx, opts, false, io.Discard)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.TracksExported != 1 {
		t.Fatalf("expected one exported track, got %d", res.TracksExported)
	}

	root := newRootCmd(opts)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)

	root.SetArgs([]string{"edit", "00000000000000aa", "rating", "150"})
	if err := root.Execute(); !errors.Is(err, app.ErrInvalidEdit) {
		t.Fatalf("expected invalid edit, got %v", err)
	}

	root.SetArgs([]string{"edit", "00000000000000aa", "plays"})
	if err := root.Execute(); err != nil {
		t.Fatalf("edit plays: %v", err)
	}
	if !strings.Contains(out.String(), trackID+" plays = 3") {
		t.Fatalf("unexpected edit output %q", out.String())
	}

	p := &recordingPlayer{values: map[string]string{"plays/" + trackID: "2"}}
	opts.newPlayer = func(player.Config) app.Player { return p }

	drained, err := runUpdate(ctx, opts)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if drained.Applied != 1 || p.values["plays/"+trackID] != "3" {
		t.Fatalf("unexpected drain %+v, player %v", drained, p.values)
	}

	drained, err = runUpdate(ctx, opts)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if drained.Applied+drained.Skipped != 0 {
		t.Fatalf("expected empty update log after drain, got %+v", drained)
	}
}

func TestExportRequiresLibraryPath(t *testing.T) {
	opts := testOptions(t)
	opts.cfg.Library.XMLPath = ""
	if _, err := runExport(context.Background(), opts, false, io.Discard); err == nil {
		t.Fatalf("expected error without library path")
	}
}
