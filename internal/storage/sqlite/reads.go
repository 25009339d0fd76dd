package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bowmanmike/libsync/internal/app"
)

// SnapshotVersion returns the export-finished marker as Unix nanoseconds,
// or 0 when no export has completed.
func (s *Store) SnapshotVersion(ctx context.Context) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var raw string
	err = conn.QueryRowContext(ctx, `SELECT finished_at FROM export_finished WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read export marker: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("parse export marker %q: %w", raw, err)
	}
	return ts.UnixNano(), nil
}

// TotalFileSize returns the library size recorded by the last export.
func (s *Store) TotalFileSize(ctx context.Context) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var size int64
	err = conn.QueryRowContext(ctx, `SELECT total_file_size FROM library_metadata WHERE id = 1`).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read library metadata: %w", err)
	}
	return size, nil
}

// PlaylistTrackIDs lists a playlist's tracks in order. The library playlist
// has no stored membership and resolves to every track.
func (s *Store) PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var isLibrary bool
	err = conn.QueryRowContext(ctx, `SELECT is_library FROM playlists WHERE id = ?`, playlistID).Scan(&isLibrary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", app.ErrPlaylistNotFound, playlistID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup playlist %s: %w", playlistID, err)
	}

	query := `SELECT track_id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position`
	args := []interface{}{playlistID}
	if isLibrary {
		query = `SELECT id FROM tracks ORDER BY COALESCE(NULLIF(sort_name, ''), name), id`
		args = nil
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query playlist %s tracks: %w", playlistID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan playlist track: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
