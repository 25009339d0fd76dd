package export

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/hasher"
	"github.com/bowmanmike/libsync/internal/storage/sqlite"
)

type fakeCatalog struct {
	mu           sync.Mutex
	lib          *app.Library
	art          map[string]*app.Artwork
	artworkCalls int
}

func (f *fakeCatalog) Load(context.Context) (*app.Library, error) {
	return f.lib, nil
}

func (f *fakeCatalog) Artwork(_ context.Context, item app.MediaItem) (*app.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artworkCalls++
	return f.art[item.Path], nil
}

type fixture struct {
	root       string
	artworkDir string
	dbPath     string
	store      *sqlite.Store
	catalog    *fakeCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		root:       filepath.Join(base, "music"),
		artworkDir: filepath.Join(base, "artwork"),
		dbPath:     filepath.Join(base, "snapshot.db"),
		catalog: &fakeCatalog{
			lib: &app.Library{},
			art: map[string]*app.Artwork{},
		},
	}
	f.catalog.lib.MusicRoot = f.root
	require.NoError(t, os.MkdirAll(f.root, 0o755))

	store, err := sqlite.New(sqlite.Config{Path: f.dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store
	return f
}

func (f *fixture) addTrack(t *testing.T, item app.MediaItem, contents string) app.MediaItem {
	t.Helper()
	if item.Path == "" {
		item.Path = filepath.Join(f.root, item.PersistentID+".mp3")
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(item.Path), 0o755))
	require.NoError(t, os.WriteFile(item.Path, []byte(contents), 0o644))
	if item.Kind == "" {
		item.Kind = "MPEG audio file"
	}
	if item.TrackType == "" {
		item.TrackType = "File"
	}
	f.catalog.lib.Items = append(f.catalog.lib.Items, item)
	return item
}

func (f *fixture) exporter(t *testing.T) *Exporter {
	t.Helper()
	e, err := New(Config{
		Catalog:    f.catalog,
		Store:      f.store,
		Hasher:     hasher.New(4),
		ArtworkDir: f.artworkDir,
		BatchSize:  2,
	})
	require.NoError(t, err)
	return e
}

type trackRow struct {
	ID, Name, SortName, MusicFilename, FileMD5 string
	ArtistID, AlbumID, GenreID                 sql.NullInt64
	Rating, PlayCount                          int
	Finish                                     float64
	ArtworkFilename                            sql.NullString
}

func (f *fixture) tracks(t *testing.T) map[string]trackRow {
	t.Helper()
	db, err := sql.Open("sqlite", f.dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT id, name, sort_name, music_filename, file_md5, artist_id, album_id, genre_id, rating, play_count, finish, artwork_filename FROM tracks`)
	require.NoError(t, err)
	defer rows.Close()

	out := map[string]trackRow{}
	for rows.Next() {
		var r trackRow
		require.NoError(t, rows.Scan(&r.ID, &r.Name, &r.SortName, &r.MusicFilename, &r.FileMD5, &r.ArtistID, &r.AlbumID, &r.GenreID, &r.Rating, &r.PlayCount, &r.Finish, &r.ArtworkFilename))
		out[r.ID] = r
	}
	require.NoError(t, rows.Err())
	return out
}

func (f *fixture) queryString(t *testing.T, query string, args ...any) string {
	t.Helper()
	db, err := sql.Open("sqlite", f.dbPath)
	require.NoError(t, err)
	defer db.Close()
	var out string
	require.NoError(t, db.QueryRow(query, args...).Scan(&out))
	return out
}

var jpeg = &app.Artwork{MIMEType: "image/jpeg", Data: []byte("shared cover")}

func seedLibrary(t *testing.T, f *fixture) {
	t.Helper()
	finish := 100.0
	f.addTrack(t, app.MediaItem{
		PersistentID: "000000000000000A",
		Name:         "Alpha",
		Artist:       "The Band",
		SortArtist:   "Band",
		Album:        "Record",
		Genre:        "Rock",
		Duration:     200,
		Finish:       &finish,
		PlayCount:    2,
		Rating:       80,
	}, "alpha audio")
	b := f.addTrack(t, app.MediaItem{
		PersistentID:   "000000000000000B",
		Name:           "Beta",
		SortName:       "Beta",
		Artist:         "The Band",
		AlbumArtist:    "Various",
		Album:          "Record",
		Duration:       120,
		Rating:         60,
		RatingComputed: true,
		Path:           filepath.Join(f.root, "sub", "beta.mp3"),
	}, "beta audio")
	c := f.addTrack(t, app.MediaItem{
		PersistentID: "000000000000000C",
		Name:         "Gamma",
		Rating:       1,
	}, "gamma audio")
	f.catalog.lib.Items = append(f.catalog.lib.Items, app.MediaItem{
		PersistentID: "000000000000000D",
		Name:         "Stream",
		TrackType:    "URL",
		Kind:         "Internet audio stream",
	})

	f.catalog.art[f.catalog.lib.Items[0].Path] = jpeg
	f.catalog.art[b.Path] = &app.Artwork{MIMEType: "image/jpeg", Data: []byte("shared cover")}
	f.catalog.art[c.Path] = &app.Artwork{MIMEType: "image/png", Data: []byte("other cover")}

	f.catalog.lib.Playlists = []app.PlaylistItem{
		{PersistentID: "00000000000000F0", Name: "Library", Master: true},
		{PersistentID: "00000000000000F1", Name: "Music", DistinguishedKind: 4},
		{PersistentID: "00000000000000F2", Name: "Folder"},
		{PersistentID: "00000000000000F3", Name: "Mix", ParentPersistentID: "00000000000000F2",
			TrackIDs: []string{"000000000000000C", "000000000000000D", "000000000000000A"}},
	}
}

func TestFullExport(t *testing.T) {
	f := newFixture(t)
	seedLibrary(t, f)
	require.NoError(t, os.MkdirAll(f.artworkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.artworkDir, "stale.jpg"), []byte("old"), 0o644))

	e := f.exporter(t)
	res, err := e.Export(context.Background(), Options{})
	require.NoError(t, err)

	require.NotEmpty(t, res.RunID)
	require.Equal(t, 3, res.TracksExported)
	require.Equal(t, 3, res.PlaylistsExported)
	require.Equal(t, 2, res.ArtworkWritten)
	require.Equal(t, 1, res.ArtworkDeleted)
	require.Zero(t, res.ReusedDigests)
	require.Equal(t, PhaseDone, e.Progress().Snapshot().Phase)
	require.Equal(t, int64(3), e.Progress().Snapshot().Processed)

	var phases []Phase
	for _, p := range res.Phases {
		phases = append(phases, p.Phase)
	}
	require.Contains(t, phases, PhaseGatheringExistingArtworkFiles)
	require.NotContains(t, phases, PhaseGatheringPriorState)

	rows := f.tracks(t)
	require.Len(t, rows, 3)

	h := hasher.New(hasher.DefaultChunkSize)
	a := rows["000000000000000A"]
	require.Equal(t, "000000000000000A.mp3", a.MusicFilename)
	require.Equal(t, h.SumBytes([]byte("alpha audio")), a.FileMD5)
	require.Equal(t, 80, a.Rating)
	require.Equal(t, 100.0, a.Finish)
	require.True(t, a.ArtistID.Valid)
	require.True(t, a.GenreID.Valid)

	b := rows["000000000000000B"]
	require.Equal(t, "sub/beta.mp3", b.MusicFilename)
	require.Zero(t, b.Rating, "computed ratings are not exported")
	require.Equal(t, "", b.SortName, "sort name equal to name collapses")
	require.Equal(t, 120.0, b.Finish, "finish defaults to duration")
	require.False(t, b.GenreID.Valid)
	require.Equal(t, a.ArtistID, b.ArtistID)
	require.Equal(t, a.AlbumID, b.AlbumID)

	c := rows["000000000000000C"]
	require.Zero(t, c.Rating, "rating 1 is not a user rating")
	require.False(t, c.ArtistID.Valid)

	// Identical artwork bytes resolve to one file.
	require.Equal(t, a.ArtworkFilename, b.ArtworkFilename)
	require.Equal(t, h.SumBytes(jpeg.Data)+".jpg", a.ArtworkFilename.String)
	require.Equal(t, h.SumBytes([]byte("other cover"))+".png", c.ArtworkFilename.String)

	files, err := os.ReadDir(f.artworkDir)
	require.NoError(t, err)
	require.Len(t, files, 2, "orphan removed, shared artwork stored once")

	require.Equal(t, "Band", f.queryString(t, `SELECT sort_name FROM artists WHERE name = 'The Band'`))
	require.Equal(t, "1", f.queryString(t, `SELECT COUNT(*) FROM albums`))
	require.Equal(t, "1", f.queryString(t, `SELECT COUNT(*) FROM playlists WHERE is_library = 1`))
	require.Equal(t, "0", f.queryString(t, `SELECT COUNT(*) FROM playlists WHERE name = 'Music'`))
	require.Equal(t, "000000000000000C,000000000000000A",
		f.queryString(t, `SELECT group_concat(track_id) FROM (SELECT track_id FROM playlist_tracks WHERE playlist_id = '00000000000000F3' ORDER BY position)`))
	require.Equal(t, "00000000000000F2",
		f.queryString(t, `SELECT parent_id FROM playlists WHERE id = '00000000000000F3'`))

	wantSize := int64(len("alpha audio") + len("beta audio") + len("gamma audio") + len(jpeg.Data) + len("other cover"))
	require.Equal(t, wantSize, res.TotalFileSize)
	size, err := f.store.TotalFileSize(context.Background())
	require.NoError(t, err)
	require.Equal(t, wantSize, size)

	version, err := f.store.SnapshotVersion(context.Background())
	require.NoError(t, err)
	require.NotZero(t, version)
}

func TestFastExportMatchesFull(t *testing.T) {
	f := newFixture(t)
	seedLibrary(t, f)
	e := f.exporter(t)

	_, err := e.Export(context.Background(), Options{})
	require.NoError(t, err)
	full := f.tracks(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.artworkDir, "stale.jpg"), []byte("old"), 0o644))
	f.catalog.artworkCalls = 0

	res, err := e.Export(context.Background(), Options{Fast: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.ReusedDigests)
	require.Zero(t, res.MusicHashTime)
	require.Zero(t, res.ArtworkWritten)
	require.Zero(t, res.ArtworkDeleted)
	require.Zero(t, f.catalog.artworkCalls, "artwork reused from the previous snapshot")
	require.Equal(t, full, f.tracks(t))

	_, err = os.Stat(filepath.Join(f.artworkDir, "stale.jpg"))
	require.NoError(t, err, "fast mode never deletes artwork")

	var phases []Phase
	for _, p := range res.Phases {
		phases = append(phases, p.Phase)
	}
	require.Contains(t, phases, PhaseGatheringPriorState)
	require.NotContains(t, phases, PhaseGatheringExistingArtworkFiles)
}

func TestFastExportRewritesMissingArtwork(t *testing.T) {
	f := newFixture(t)
	seedLibrary(t, f)
	e := f.exporter(t)

	_, err := e.Export(context.Background(), Options{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(f.artworkDir))

	res, err := e.Export(context.Background(), Options{Fast: true})
	require.NoError(t, err)
	require.Equal(t, 2, res.ArtworkWritten)

	files, err := os.ReadDir(f.artworkDir)
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestExportPathOutsideRoot(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.mp3")
	f.addTrack(t, app.MediaItem{PersistentID: "000000000000000E", Name: "Away", Path: outside}, "away")

	e := f.exporter(t)
	_, err := e.Export(context.Background(), Options{})
	require.ErrorIs(t, err, ErrPathOutsideRoot)
	require.Equal(t, PhaseFailed, e.Progress().Snapshot().Phase)

	version, err := f.store.SnapshotVersion(context.Background())
	require.NoError(t, err)
	require.Zero(t, version, "failed export leaves no ready marker")
}

func TestExportUnsupportedArtwork(t *testing.T) {
	f := newFixture(t)
	item := f.addTrack(t, app.MediaItem{PersistentID: "000000000000000E", Name: "Gif"}, "gif")
	f.catalog.art[item.Path] = &app.Artwork{MIMEType: "image/gif", Data: []byte("GIF89a")}

	_, err := f.exporter(t).Export(context.Background(), Options{})
	require.True(t, errors.Is(err, ErrUnsupportedArtwork), "got %v", err)
}

func TestExportRequiresMusicRoot(t *testing.T) {
	f := newFixture(t)
	f.catalog.lib.MusicRoot = ""

	_, err := f.exporter(t).Export(context.Background(), Options{})
	require.Error(t, err)

	_, statErr := os.Stat(f.artworkDir)
	require.True(t, os.IsNotExist(statErr), "nothing is created before the root is validated")
}

func TestRunWithProgress(t *testing.T) {
	f := newFixture(t)
	seedLibrary(t, f)
	e := f.exporter(t)

	var (
		mu    sync.Mutex
		snaps []ProgressSnapshot
	)
	res, err := RunWithProgress(context.Background(), e, Options{}, time.Millisecond, func(s ProgressSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.TracksExported)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	require.Equal(t, PhaseDone, last.Phase)
	require.Equal(t, last.Total, last.Processed)
}

func TestBuildPlaylistsSynthesizesLibrary(t *testing.T) {
	out := buildPlaylists([]app.PlaylistItem{{PersistentID: "01", Name: "Mix", TrackIDs: []string{"x", "y"}}}, map[string]bool{"y": true})
	require.Len(t, out, 2)
	require.True(t, out[0].IsLibrary)
	require.Equal(t, []string{"y"}, out[1].TrackIDs)
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "exporting_tracks", PhaseExportingTracks.String())
	require.Equal(t, "unknown", Phase(99).String())
}
