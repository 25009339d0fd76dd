// Package export rebuilds the snapshot database from the player's catalogue.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/artwork"
	"github.com/bowmanmike/libsync/internal/catalog"
	"github.com/bowmanmike/libsync/internal/hasher"
	"github.com/bowmanmike/libsync/internal/metrics"
)

const (
	DefaultBatchSize     = 1000
	progressPublishEvery = 250 * time.Millisecond
	libraryPlaylistName  = "Library"
	syntheticLibraryID   = "0000000000000000"
)

var (
	// ErrPathOutsideRoot is returned when a media file lies outside the music root.
	ErrPathOutsideRoot = errors.New("path outside music root")
	// ErrUnsupportedArtwork is returned for embedded images that are neither PNG nor JPEG.
	ErrUnsupportedArtwork = artwork.ErrUnsupported
)

// Config wires an Exporter.
type Config struct {
	Catalog    app.Catalog
	Store      app.SnapshotStore
	Hasher     *hasher.Hasher
	ArtworkDir string
	// MusicRoot overrides the root reported by the catalogue.
	MusicRoot string
	BatchSize int
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Options select the export mode.
type Options struct {
	// Fast reuses digests recorded by the previous snapshot instead of
	// re-hashing unchanged tracks. It never deletes artwork.
	Fast bool
}

// Result summarizes a finished run.
type Result struct {
	RunID             string
	Fast              bool
	Phases            []PhaseTiming
	TracksExported    int
	PlaylistsExported int
	ReusedDigests     int
	MusicHashTime     time.Duration
	ArtworkHashTime   time.Duration
	ArtworkWritten    int
	ArtworkDeleted    int
	TotalFileSize     int64
}

// Exporter runs snapshot exports. Runs must not overlap.
type Exporter struct {
	catalog    app.Catalog
	store      app.SnapshotStore
	hasher     *hasher.Hasher
	artworkDir string
	musicRoot  string
	batchSize  int
	metrics    *metrics.Recorder
	logger     *slog.Logger
	progress   *Progress
}

// New validates cfg and builds an Exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if strings.TrimSpace(cfg.ArtworkDir) == "" {
		return nil, errors.New("artwork dir is required")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.New(hasher.DefaultChunkSize)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Exporter{
		catalog:    cfg.Catalog,
		store:      cfg.Store,
		hasher:     cfg.Hasher,
		artworkDir: cfg.ArtworkDir,
		musicRoot:  cfg.MusicRoot,
		batchSize:  cfg.BatchSize,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		progress:   &Progress{},
	}, nil
}

// Progress returns the side channel the exporter publishes to.
func (e *Exporter) Progress() *Progress {
	return e.progress
}

// run is the state owned by a single export.
type run struct {
	opts      Options
	res       *Result
	logger    *slog.Logger
	lib       *app.Library
	root      string
	items     []app.MediaItem
	prior     map[string]app.PriorTrack
	existing  map[string]struct{}
	dims      *dimensions
	art       *artworkStore
	exported  map[string]bool
	trackSize int64
}

// Export rebuilds the snapshot. Tables are dropped before the new rows are
// written, so a failed run leaves a partial snapshot behind and no ready marker.
func (e *Exporter) Export(ctx context.Context, opts Options) (res Result, err error) {
	res = Result{RunID: uuid.NewString(), Fast: opts.Fast}
	r := &run{
		opts:     opts,
		res:      &res,
		logger:   e.logger.With("run_id", res.RunID, "fast", opts.Fast),
		dims:     newDimensions(),
		art:      newArtworkStore(e.artworkDir, e.hasher),
		exported: make(map[string]bool),
	}

	defer func() {
		if err != nil {
			e.progress.setPhase(PhaseFailed)
			r.logger.Error("export failed", "error", err)
			return
		}
		e.progress.setPhase(PhaseDone)
	}()

	sess, err := e.store.Session(ctx)
	if err != nil {
		return res, fmt.Errorf("open export session: %w", err)
	}
	defer sess.Close()

	steps := []struct {
		phase Phase
		skip  bool
		fn    func(context.Context) error
	}{
		{phase: PhaseReadingCatalog, fn: func(ctx context.Context) error { return e.readCatalog(ctx, r) }},
		{phase: PhaseClearingProgress, fn: func(ctx context.Context) error {
			e.progress.reset(int64(len(r.items)))
			return sess.ClearExportFinished(ctx)
		}},
		{phase: PhaseGatheringPriorState, skip: !opts.Fast, fn: func(ctx context.Context) error {
			prior, err := sess.PriorTracks(ctx)
			r.prior = prior
			return err
		}},
		{phase: PhaseGatheringExistingArtworkFiles, skip: opts.Fast, fn: func(context.Context) error {
			if err := e.ensureArtworkDir(); err != nil {
				return err
			}
			existing, err := artwork.List(e.artworkDir)
			r.existing = existing
			return err
		}},
		{phase: PhaseDroppingTables, fn: func(ctx context.Context) error {
			if err := e.ensureArtworkDir(); err != nil {
				return err
			}
			return sess.DropSnapshot(ctx)
		}},
		{phase: PhaseCreatingTables, fn: sess.CreateSnapshot},
		{phase: PhaseExportingGenres, fn: func(ctx context.Context) error {
			for _, item := range r.items {
				r.dims.genres.add(item.Genre, "")
			}
			return sess.InsertDimensions(ctx, "genres", r.dims.genres.rows)
		}},
		{phase: PhaseExportingArtists, fn: func(ctx context.Context) error {
			for _, item := range r.items {
				r.dims.artists.add(item.Artist, item.SortArtist)
				r.dims.artists.add(item.AlbumArtist, item.SortAlbumArtist)
			}
			return sess.InsertDimensions(ctx, "artists", r.dims.artists.rows)
		}},
		{phase: PhaseExportingAlbums, fn: func(ctx context.Context) error {
			for _, item := range r.items {
				r.dims.albums.add(item.Album, item.SortAlbum)
			}
			return sess.InsertDimensions(ctx, "albums", r.dims.albums.rows)
		}},
		{phase: PhaseExportingTracks, fn: func(ctx context.Context) error { return e.exportTracks(ctx, sess, r) }},
		{phase: PhaseExportingPlaylists, fn: func(ctx context.Context) error {
			playlists := buildPlaylists(r.lib.Playlists, r.exported)
			res.PlaylistsExported = len(playlists)
			return sess.InsertPlaylists(ctx, playlists)
		}},
		{phase: PhaseFinalizing, fn: func(ctx context.Context) error {
			if !opts.Fast {
				if err := e.removeOrphans(r); err != nil {
					return err
				}
			}
			res.TotalFileSize = r.trackSize + r.art.size
			return sess.Finalize(ctx, res.TotalFileSize)
		}},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e.progress.setPhase(step.phase)
		start := time.Now()
		if err := step.fn(ctx); err != nil {
			return res, fmt.Errorf("%s: %w", step.phase, err)
		}
		elapsed := time.Since(start)
		res.Phases = append(res.Phases, PhaseTiming{Phase: step.phase, Duration: elapsed})
		e.metrics.ObservePhase(step.phase.String(), elapsed)
		r.logger.Debug("export phase finished", "phase", step.phase.String(), "duration", elapsed)
	}

	res.ArtworkHashTime = r.art.hashTime
	res.ArtworkWritten = r.art.written
	e.metrics.ExportFinished(res.TracksExported, res.ReusedDigests, res.ArtworkWritten, res.ArtworkDeleted)
	r.logger.Info("export finished",
		"tracks", res.TracksExported,
		"playlists", res.PlaylistsExported,
		"reused_digests", res.ReusedDigests,
		"music_hash_time", res.MusicHashTime,
		"artwork_hash_time", res.ArtworkHashTime,
		"total_file_size", res.TotalFileSize,
	)
	return res, nil
}

// readCatalog loads the library and validates the music root. It runs before
// anything in the database or the artwork directory is mutated.
func (e *Exporter) readCatalog(ctx context.Context, r *run) error {
	lib, err := e.catalog.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	r.lib = lib

	root := e.musicRoot
	if root == "" {
		root = lib.MusicRoot
	}
	if strings.TrimSpace(root) == "" {
		return errors.New("music root is not configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve music root: %w", err)
	}
	r.root = abs

	for _, item := range lib.Items {
		if item.Exportable() {
			r.items = append(r.items, item)
		}
	}
	return nil
}

func (e *Exporter) exportTracks(ctx context.Context, sess app.SnapshotSession, r *run) error {
	publish := rate.Sometimes{Interval: progressPublishEvery}
	batch := make([]app.Track, 0, e.batchSize)

	for i, item := range r.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.exported[item.PersistentID] {
			r.logger.Warn("duplicate persistent id", "track_id", item.PersistentID)
			continue
		}

		track, err := e.exportTrack(ctx, r, item)
		if err != nil {
			return fmt.Errorf("track %s: %w", item.PersistentID, err)
		}
		r.exported[track.ID] = true
		batch = append(batch, track)

		if len(batch) >= e.batchSize {
			if err := sess.InsertTracks(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}

		processed := int64(i + 1)
		publish.Do(func() { e.progress.processed.Store(processed) })
	}

	if err := sess.InsertTracks(ctx, batch); err != nil {
		return err
	}
	e.progress.processed.Store(int64(len(r.items)))
	r.res.TracksExported = len(r.exported)
	return nil
}

func (e *Exporter) exportTrack(ctx context.Context, r *run, item app.MediaItem) (app.Track, error) {
	rel, err := relativeToRoot(r.root, item.Path)
	if err != nil {
		return app.Track{}, err
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		return app.Track{}, fmt.Errorf("stat media file: %w", err)
	}
	r.trackSize += info.Size()

	track := app.Track{
		ID:            item.PersistentID,
		Name:          catalog.Normalize(item.Name),
		SortName:      catalog.SortName(item.Name, item.SortName),
		ArtistID:      r.dims.artists.lookup(item.Artist),
		AlbumArtistID: r.dims.artists.lookup(item.AlbumArtist),
		AlbumID:       r.dims.albums.lookup(item.Album),
		GenreID:       r.dims.genres.lookup(item.Genre),
		Year:          item.Year,
		Duration:      item.Duration,
		Start:         item.Start,
		Finish:        item.Duration,
		TrackNumber:   item.TrackNumber,
		DiscNumber:    item.DiscNumber,
		PlayCount:     item.PlayCount,
		Rating:        item.Rating,
		MusicFilename: rel,
	}
	if item.Finish != nil {
		track.Finish = *item.Finish
	}
	// Computed ratings come from album averages and 1 is the player's
	// "disliked" marker; neither is a user rating.
	if item.RatingComputed || item.Rating == 1 {
		track.Rating = 0
	}

	reusedArtwork := false
	if p, ok := r.prior[item.PersistentID]; ok && r.opts.Fast {
		track.FileMD5 = p.FileMD5
		r.res.ReusedDigests++
		if p.ArtworkFilename != "" {
			ok, err := r.art.reuse(p.ArtworkFilename)
			if err != nil {
				return app.Track{}, err
			}
			if ok {
				name := p.ArtworkFilename
				track.ArtworkFilename = &name
				reusedArtwork = true
			}
		}
	} else {
		start := time.Now()
		digest, err := e.hasher.SumFile(item.Path)
		if err != nil {
			return app.Track{}, err
		}
		r.res.MusicHashTime += time.Since(start)
		track.FileMD5 = digest
	}

	if !reusedArtwork {
		art, err := e.catalog.Artwork(ctx, item)
		if err != nil {
			return app.Track{}, err
		}
		if art != nil {
			name, err := r.art.store(art)
			if err != nil {
				return app.Track{}, err
			}
			track.ArtworkFilename = &name
		}
	}
	return track, nil
}

// relativeToRoot returns path relative to root with forward slashes.
func relativeToRoot(root, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return filepath.ToSlash(rel), nil
}

// buildPlaylists keeps user playlists and folders, turns the master playlist
// into the library playlist, and drops members that were not exported.
func buildPlaylists(items []app.PlaylistItem, exported map[string]bool) []app.Playlist {
	var (
		out        []app.Playlist
		hasLibrary bool
	)
	for _, pl := range items {
		if pl.Master {
			if hasLibrary {
				continue
			}
			hasLibrary = true
			name := pl.Name
			if name == "" {
				name = libraryPlaylistName
			}
			out = append(out, app.Playlist{ID: pl.PersistentID, Name: name, IsLibrary: true})
			continue
		}
		if pl.DistinguishedKind != 0 {
			continue
		}

		playlist := app.Playlist{ID: pl.PersistentID, Name: pl.Name}
		if pl.ParentPersistentID != "" {
			parent := pl.ParentPersistentID
			playlist.ParentID = &parent
		}
		for _, id := range pl.TrackIDs {
			if exported[id] {
				playlist.TrackIDs = append(playlist.TrackIDs, id)
			}
		}
		out = append(out, playlist)
	}
	if !hasLibrary {
		out = append([]app.Playlist{{ID: syntheticLibraryID, Name: libraryPlaylistName, IsLibrary: true}}, out...)
	}
	return out
}

func (e *Exporter) ensureArtworkDir() error {
	if err := os.MkdirAll(e.artworkDir, 0o755); err != nil {
		return fmt.Errorf("create artwork dir: %w", err)
	}
	return nil
}

func (e *Exporter) removeOrphans(r *run) error {
	for name := range r.existing {
		if r.art.seen[name] {
			continue
		}
		if err := os.Remove(filepath.Join(e.artworkDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove orphaned artwork %s: %w", name, err)
		}
		r.res.ArtworkDeleted++
		r.logger.Debug("removed orphaned artwork", "file", name)
	}
	return nil
}
