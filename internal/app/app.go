package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MediaItem is one entry of the player's catalogue as read from the library.
type MediaItem struct {
	PersistentID    string
	Name            string
	SortName        string
	Artist          string
	SortArtist      string
	AlbumArtist     string
	SortAlbumArtist string
	Album           string
	SortAlbum       string
	Genre           string
	Year            int
	Duration        float64
	Start           float64
	Finish          *float64
	TrackNumber     int
	DiscNumber      int
	PlayCount       int
	Rating          int
	RatingComputed  bool
	Kind            string
	TrackType       string
	HasVideo        bool
	Protected       bool
	Path            string
}

// Exportable reports whether the item is a playable local audio file.
func (m MediaItem) Exportable() bool {
	if m.TrackType != "File" || m.Path == "" {
		return false
	}
	if m.HasVideo || m.Protected {
		return false
	}
	return strings.Contains(strings.ToLower(m.Kind), "audio")
}

// PlaylistItem is a playlist as read from the player.
type PlaylistItem struct {
	PersistentID       string
	ParentPersistentID string
	Name               string
	Master             bool
	DistinguishedKind  int
	TrackIDs           []string
}

// Library is a full read of the player's catalogue.
type Library struct {
	MusicRoot string
	Items     []MediaItem
	Playlists []PlaylistItem
}

// Artwork is an embedded image pulled from a media file.
type Artwork struct {
	MIMEType string
	Data     []byte
}

// Dimension is a genre, artist or album row.
type Dimension struct {
	ID       int64
	Name     string
	SortName string
}

// Track is one exported track row.
type Track struct {
	ID              string
	Name            string
	SortName        string
	ArtistID        *int64
	AlbumArtistID   *int64
	AlbumID         *int64
	GenreID         *int64
	Year            int
	Duration        float64
	Start           float64
	Finish          float64
	TrackNumber     int
	DiscNumber      int
	PlayCount       int
	Rating          int
	MusicFilename   string
	FileMD5         string
	ArtworkFilename *string
}

// Playlist is one exported playlist row with its membership.
type Playlist struct {
	ID        string
	Name      string
	ParentID  *string
	IsLibrary bool
	TrackIDs  []string
}

// PriorTrack is what a previous export recorded for a track.
type PriorTrack struct {
	FileMD5         string
	ArtworkFilename string
}

// PendingUpdate is an edit that has not reached the player yet.
type PendingUpdate struct {
	ID         int64
	Field      Field
	TrackID    string
	Value      string
	InsertedAt string
}

// Catalog reads the player's library.
type Catalog interface {
	Load(ctx context.Context) (*Library, error)
	Artwork(ctx context.Context, item MediaItem) (*Artwork, error)
}

// SnapshotSession is a database session used for one export run.
type SnapshotSession interface {
	PriorTracks(ctx context.Context) (map[string]PriorTrack, error)
	ClearExportFinished(ctx context.Context) error
	DropSnapshot(ctx context.Context) error
	CreateSnapshot(ctx context.Context) error
	InsertDimensions(ctx context.Context, table string, rows []Dimension) error
	InsertTracks(ctx context.Context, tracks []Track) error
	InsertPlaylists(ctx context.Context, playlists []Playlist) error
	Finalize(ctx context.Context, totalFileSize int64) error
	Close() error
}

// SnapshotStore hands out export sessions.
type SnapshotStore interface {
	Session(ctx context.Context) (SnapshotSession, error)
}

// UpdateLog is the local queue of pending edits.
type UpdateLog interface {
	ListPending(ctx context.Context) ([]PendingUpdate, error)
	DeletePending(ctx context.Context, id int64) error
}

// ErrTrackNotFound is returned by a Player when the track is gone.
var ErrTrackNotFound = errors.New("track not found in player")

// ErrPlaylistNotFound is returned when the snapshot has no such playlist.
var ErrPlaylistNotFound = errors.New("playlist not found")

// Player is the scripted automation surface of the media application.
type Player interface {
	Get(ctx context.Context, field Field, trackID string) (string, error)
	Set(ctx context.Context, field Field, trackID, value string) error
}

// FormatPersistentID normalizes a player persistent ID to 16 upper-case hex digits.
func FormatPersistentID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty persistent id")
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return "", fmt.Errorf("parse persistent id %q: %w", raw, err)
	}
	return fmt.Sprintf("%016X", v), nil
}
