package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bowmanmike/libsync/internal/app"
)

// Session implements app.SnapshotSession on one checked-out connection.
type Session struct {
	conn *sql.Conn
	now  func() time.Time
}

// PriorTracks returns the digest and artwork recorded by the previous export.
// A database that was never exported yields an empty map.
func (s *Session) PriorTracks(ctx context.Context) (map[string]app.PriorTrack, error) {
	exists, err := s.tableExists(ctx, "tracks")
	if err != nil {
		return nil, err
	}
	prior := make(map[string]app.PriorTrack)
	if !exists {
		return prior, nil
	}

	rows, err := s.conn.QueryContext(ctx, selectPriorTracksSQL)
	if err != nil {
		return nil, fmt.Errorf("query prior tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var p app.PriorTrack
		if err := rows.Scan(&id, &p.FileMD5, &p.ArtworkFilename); err != nil {
			return nil, fmt.Errorf("scan prior track: %w", err)
		}
		if p.FileMD5 == "" {
			continue
		}
		prior[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prior tracks rows: %w", err)
	}
	return prior, nil
}

// ClearExportFinished removes the ready marker so readers see an export in progress.
func (s *Session) ClearExportFinished(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM export_finished`); err != nil {
		return fmt.Errorf("clear export marker: %w", err)
	}
	return nil
}

// DropSnapshot drops every snapshot table.
func (s *Session) DropSnapshot(ctx context.Context) error {
	for _, table := range snapshotTables {
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// CreateSnapshot creates empty snapshot tables.
func (s *Session) CreateSnapshot(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, createSnapshotSQL); err != nil {
		return fmt.Errorf("create snapshot tables: %w", err)
	}
	return nil
}

// InsertDimensions bulk-inserts genre, artist or album rows.
func (s *Session) InsertDimensions(ctx context.Context, table string, rows []app.Dimension) error {
	var query string
	switch table {
	case "genres":
		query = `INSERT INTO genres (id, name) VALUES (?, ?)`
	case "artists", "albums":
		query = "INSERT INTO " + table + " (id, name, sort_name) VALUES (?, ?, ?)"
	default:
		return fmt.Errorf("unknown dimension table %q", table)
	}

	return s.inTx(ctx, query, func(stmt *sql.Stmt) error {
		for _, row := range rows {
			args := []interface{}{row.ID, row.Name}
			if table != "genres" {
				args = append(args, row.SortName)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert %s %q: %w", table, row.Name, err)
			}
		}
		return nil
	})
}

// InsertTracks writes one batch of track rows in a single transaction.
func (s *Session) InsertTracks(ctx context.Context, tracks []app.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	return s.inTx(ctx, insertTrackSQL, func(stmt *sql.Stmt) error {
		for _, tr := range tracks {
			if _, err := stmt.ExecContext(ctx,
				tr.ID,
				tr.Name,
				tr.SortName,
				nullInt64(tr.ArtistID),
				nullInt64(tr.AlbumArtistID),
				nullInt64(tr.AlbumID),
				nullInt64(tr.GenreID),
				tr.Year,
				tr.Duration,
				tr.Start,
				tr.Finish,
				tr.TrackNumber,
				tr.DiscNumber,
				tr.PlayCount,
				tr.Rating,
				tr.MusicFilename,
				tr.FileMD5,
				nullString(tr.ArtworkFilename),
			); err != nil {
				return fmt.Errorf("insert track %s: %w", tr.ID, err)
			}
		}
		return nil
	})
}

// InsertPlaylists writes playlists and their membership. The library
// playlist's membership is implicit and never stored.
func (s *Session) InsertPlaylists(ctx context.Context, playlists []app.Playlist) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	playlistStmt, err := tx.PrepareContext(ctx, insertPlaylistSQL)
	if err != nil {
		return fmt.Errorf("prepare playlist stmt: %w", err)
	}
	defer playlistStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, insertPlaylistTrackSQL)
	if err != nil {
		return fmt.Errorf("prepare playlist track stmt: %w", err)
	}
	defer memberStmt.Close()

	for _, pl := range playlists {
		if _, err := playlistStmt.ExecContext(ctx, pl.ID, pl.Name, nullString(pl.ParentID), pl.IsLibrary); err != nil {
			return fmt.Errorf("insert playlist %s: %w", pl.ID, err)
		}
		if pl.IsLibrary {
			continue
		}
		for pos, trackID := range pl.TrackIDs {
			if _, err := memberStmt.ExecContext(ctx, pl.ID, pos, trackID); err != nil {
				return fmt.Errorf("insert playlist %s track %s: %w", pl.ID, trackID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Finalize records library size and stamps the export as finished.
func (s *Session) Finalize(ctx context.Context, totalFileSize int64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertLibraryMetadataSQL, totalFileSize); err != nil {
		return fmt.Errorf("write library metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertExportFinishedSQL, formatTime(s.now())); err != nil {
		return fmt.Errorf("write export marker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *Session) inTx(ctx context.Context, query string, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
