// Package catalog reads the player's library: the library XML it exports for
// items and playlists, and the audio files themselves for embedded artwork.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"howett.net/plist"

	"github.com/bowmanmike/libsync/internal/app"
)

// Config drives Reader construction.
type Config struct {
	LibraryPath string
	// MusicRoot overrides the library's own "Music Folder".
	MusicRoot string
	Logger    *slog.Logger
}

// Reader implements app.Catalog over a library XML file.
type Reader struct {
	libraryPath string
	musicRoot   string
	logger      *slog.Logger
}

var _ app.Catalog = (*Reader)(nil)

// NewReader builds a catalogue reader.
func NewReader(cfg Config) (*Reader, error) {
	if strings.TrimSpace(cfg.LibraryPath) == "" {
		return nil, errors.New("library path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reader{
		libraryPath: cfg.LibraryPath,
		musicRoot:   cfg.MusicRoot,
		logger:      cfg.Logger,
	}, nil
}

type libraryFile struct {
	MusicFolder string                  `plist:"Music Folder"`
	Tracks      map[string]libraryTrack `plist:"Tracks"`
	Playlists   []libraryPlaylist       `plist:"Playlists"`
}

type libraryTrack struct {
	TrackID         int    `plist:"Track ID"`
	PersistentID    string `plist:"Persistent ID"`
	Name            string `plist:"Name"`
	SortName        string `plist:"Sort Name"`
	Artist          string `plist:"Artist"`
	SortArtist      string `plist:"Sort Artist"`
	AlbumArtist     string `plist:"Album Artist"`
	SortAlbumArtist string `plist:"Sort Album Artist"`
	Album           string `plist:"Album"`
	SortAlbum       string `plist:"Sort Album"`
	Genre           string `plist:"Genre"`
	Kind            string `plist:"Kind"`
	TrackType       string `plist:"Track Type"`
	Location        string `plist:"Location"`
	Year            int    `plist:"Year"`
	TotalTime       int64  `plist:"Total Time"`
	StartTime       int64  `plist:"Start Time"`
	StopTime        *int64 `plist:"Stop Time"`
	TrackNumber     int    `plist:"Track Number"`
	DiscNumber      int    `plist:"Disc Number"`
	PlayCount       int    `plist:"Play Count"`
	Rating          int    `plist:"Rating"`
	RatingComputed  bool   `plist:"Rating Computed"`
	HasVideo        bool   `plist:"Has Video"`
	Protected       bool   `plist:"Protected"`
}

type libraryPlaylist struct {
	Name               string         `plist:"Name"`
	PersistentID       string         `plist:"Playlist Persistent ID"`
	ParentPersistentID string         `plist:"Parent Persistent ID"`
	Master             bool           `plist:"Master"`
	DistinguishedKind  int            `plist:"Distinguished Kind"`
	Items              []playlistItem `plist:"Playlist Items"`
}

type playlistItem struct {
	TrackID int `plist:"Track ID"`
}

// Load parses the library XML into media items and playlists.
func (r *Reader) Load(ctx context.Context) (*app.Library, error) {
	f, err := os.Open(r.libraryPath)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	defer f.Close()

	var raw libraryFile
	if err := plist.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode library %s: %w", r.libraryPath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lib := &app.Library{MusicRoot: r.musicRoot}
	if lib.MusicRoot == "" && raw.MusicFolder != "" {
		root, err := fileURLToPath(raw.MusicFolder)
		if err != nil {
			return nil, fmt.Errorf("music folder: %w", err)
		}
		lib.MusicRoot = root
	}

	// Track dict keys are decimal ids; sort so export order is stable.
	keys := make([]int, 0, len(raw.Tracks))
	byKey := make(map[int]libraryTrack, len(raw.Tracks))
	for k, tr := range raw.Tracks {
		n, err := strconv.Atoi(k)
		if err != nil {
			n = tr.TrackID
		}
		keys = append(keys, n)
		byKey[n] = tr
	}
	sort.Ints(keys)

	persistentByTrackID := make(map[int]string, len(keys))
	for _, k := range keys {
		tr := byKey[k]
		item, err := toMediaItem(tr)
		if err != nil {
			r.logger.Warn("skipping library entry", "track_id", tr.TrackID, "error", err)
			continue
		}
		persistentByTrackID[tr.TrackID] = item.PersistentID
		lib.Items = append(lib.Items, item)
	}

	for _, pl := range raw.Playlists {
		id, err := app.FormatPersistentID(pl.PersistentID)
		if err != nil {
			r.logger.Warn("skipping playlist", "name", pl.Name, "error", err)
			continue
		}
		item := app.PlaylistItem{
			PersistentID:      id,
			Name:              Normalize(pl.Name),
			Master:            pl.Master,
			DistinguishedKind: pl.DistinguishedKind,
		}
		if pl.ParentPersistentID != "" {
			if parent, err := app.FormatPersistentID(pl.ParentPersistentID); err == nil {
				item.ParentPersistentID = parent
			}
		}
		for _, member := range pl.Items {
			if pid, ok := persistentByTrackID[member.TrackID]; ok {
				item.TrackIDs = append(item.TrackIDs, pid)
			}
		}
		lib.Playlists = append(lib.Playlists, item)
	}

	return lib, nil
}

func toMediaItem(tr libraryTrack) (app.MediaItem, error) {
	id, err := app.FormatPersistentID(tr.PersistentID)
	if err != nil {
		return app.MediaItem{}, err
	}

	item := app.MediaItem{
		PersistentID:    id,
		Name:            Normalize(tr.Name),
		SortName:        Normalize(tr.SortName),
		Artist:          Normalize(tr.Artist),
		SortArtist:      Normalize(tr.SortArtist),
		AlbumArtist:     Normalize(tr.AlbumArtist),
		SortAlbumArtist: Normalize(tr.SortAlbumArtist),
		Album:           Normalize(tr.Album),
		SortAlbum:       Normalize(tr.SortAlbum),
		Genre:           Normalize(tr.Genre),
		Year:            tr.Year,
		Duration:        millis(tr.TotalTime),
		Start:           millis(tr.StartTime),
		TrackNumber:     tr.TrackNumber,
		DiscNumber:      tr.DiscNumber,
		PlayCount:       tr.PlayCount,
		Rating:          tr.Rating,
		RatingComputed:  tr.RatingComputed,
		Kind:            tr.Kind,
		TrackType:       tr.TrackType,
		HasVideo:        tr.HasVideo,
		Protected:       tr.Protected,
	}
	if tr.StopTime != nil {
		finish := millis(*tr.StopTime)
		item.Finish = &finish
	}
	if tr.Location != "" {
		path, err := fileURLToPath(tr.Location)
		if err != nil {
			return app.MediaItem{}, err
		}
		item.Path = path
	}
	return item, nil
}

// Artwork returns the first picture embedded in the item's audio file, or nil.
func (r *Reader) Artwork(ctx context.Context, item app.MediaItem) (*app.Artwork, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", item.Path, err)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tags %s: %w", item.Path, err)
	}

	pic := meta.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, nil
	}
	mime := pic.MIMEType
	if mime == "" {
		mime = mimeFromExt(pic.Ext)
	}
	return &app.Artwork{MIMEType: mime, Data: pic.Data}, nil
}

// Normalize strips byte-order marks and surrounding whitespace from a name.
func Normalize(s string) string {
	return app.NormalizeName(s)
}

// SortName returns the sort override, or "" when it adds nothing over name.
func SortName(name, sortName string) string {
	sortName = Normalize(sortName)
	if sortName == Normalize(name) {
		return ""
	}
	return sortName
}

func millis(ms int64) float64 {
	return float64(ms) / 1000
}

func fileURLToPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("location %q is not a local file", raw)
	}
	return filepath.FromSlash(u.Path), nil
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return ""
	}
}
