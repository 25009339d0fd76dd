package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/artwork"
)

var trackColumns = map[app.Field]string{
	app.FieldRating:  "rating",
	app.FieldName:    "name",
	app.FieldYear:    "year",
	app.FieldStart:   "start",
	app.FieldFinish:  "finish",
	app.FieldArtwork: "artwork_filename",
}

var dimensionColumns = map[app.Field]struct{ column, table string }{
	app.FieldArtist:      {"artist_id", "artists"},
	app.FieldAlbumArtist: {"album_artist_id", "artists"},
	app.FieldAlbum:       {"album_id", "albums"},
	app.FieldGenre:       {"genre_id", "genres"},
}

// RecordEdit validates an edit, replaces any pending row for the same field
// and track, applies the value to the snapshot and bumps the export marker.
// It returns the value stored in the update log.
func (s *Store) RecordEdit(ctx context.Context, edit app.Edit) (string, error) {
	edit = edit.Normalize()
	if err := edit.Validate(); err != nil {
		return "", err
	}
	if edit.Field == app.FieldArtwork {
		if err := s.requireArtwork(edit.Value); err != nil {
			return "", err
		}
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	value, err := applyToSnapshot(ctx, tx, edit)
	if err != nil {
		return "", err
	}

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, deletePendingForFieldSQL, edit.Field.String(), edit.TrackID); err != nil {
		return "", fmt.Errorf("delete pending %s for %s: %w", edit.Field, edit.TrackID, err)
	}
	if _, err := tx.ExecContext(ctx, insertPendingSQL, edit.Field.String(), edit.TrackID, value, now); err != nil {
		return "", fmt.Errorf("insert pending %s for %s: %w", edit.Field, edit.TrackID, err)
	}
	if _, err := tx.ExecContext(ctx, upsertExportFinishedSQL, now); err != nil {
		return "", fmt.Errorf("bump export marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return value, nil
}

func applyToSnapshot(ctx context.Context, tx *sql.Tx, edit app.Edit) (string, error) {
	var (
		res sql.Result
		err error
	)
	switch edit.Field {
	case app.FieldPlays:
		return applyPlay(ctx, tx, edit)
	case app.FieldArtist, app.FieldAlbumArtist, app.FieldAlbum, app.FieldGenre:
		dim := dimensionColumns[edit.Field]
		id, derr := resolveDimension(ctx, tx, dim.table, edit.Value)
		if derr != nil {
			return "", derr
		}
		res, err = tx.ExecContext(ctx, "UPDATE tracks SET "+dim.column+" = ? WHERE id = ?", id, edit.TrackID)
	default:
		column, ok := trackColumns[edit.Field]
		if !ok {
			return "", fmt.Errorf("%w: field %s has no snapshot column", app.ErrInvalidEdit, edit.Field)
		}
		res, err = tx.ExecContext(ctx, "UPDATE tracks SET "+column+" = ? WHERE id = ?", edit.Value, edit.TrackID)
	}
	if err != nil {
		return "", fmt.Errorf("update track %s %s: %w", edit.TrackID, edit.Field, err)
	}
	if err := requireRow(res, edit.TrackID); err != nil {
		return "", err
	}
	return edit.Value, nil
}

// applyPlay raises the snapshot play count and returns the new absolute count.
func applyPlay(ctx context.Context, tx *sql.Tx, edit app.Edit) (string, error) {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT play_count FROM tracks WHERE id = ?`, edit.TrackID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: track %s not in snapshot", app.ErrInvalidEdit, edit.TrackID)
	}
	if err != nil {
		return "", fmt.Errorf("read play count for %s: %w", edit.TrackID, err)
	}

	target := current + 1
	if edit.Value != "" {
		n, _ := strconv.Atoi(edit.Value)
		target = max(current, n)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tracks SET play_count = ? WHERE id = ?`, target, edit.TrackID); err != nil {
		return "", fmt.Errorf("update play count for %s: %w", edit.TrackID, err)
	}
	return strconv.Itoa(target), nil
}

// resolveDimension finds the row named name in table, creating it when absent.
// An empty name resolves to NULL.
func resolveDimension(ctx context.Context, tx *sql.Tx, table, name string) (interface{}, error) {
	if name == "" {
		return nil, nil
	}
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM "+table+" WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup %s %q: %w", table, name, err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table).Scan(&id); err != nil {
		return nil, fmt.Errorf("next %s id: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO "+table+" (id, name) VALUES (?, ?)", id, name); err != nil {
		return nil, fmt.Errorf("insert %s %q: %w", table, name, err)
	}
	return id, nil
}

// requireArtwork rejects artwork edits naming a file the artwork directory
// does not hold, so the snapshot never references a missing file.
func (s *Store) requireArtwork(name string) error {
	if s.artworkDir == "" {
		return fmt.Errorf("%w: no artwork directory configured", app.ErrInvalidEdit)
	}
	ok, _, err := artwork.Exists(s.artworkDir, name)
	if err != nil {
		return fmt.Errorf("check artwork %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: artwork %s not found", app.ErrInvalidEdit, name)
	}
	return nil
}

func requireRow(res sql.Result, trackID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: track %s not in snapshot", app.ErrInvalidEdit, trackID)
	}
	return nil
}

// ListPending returns every pending update in insertion order.
func (s *Store) ListPending(ctx context.Context) ([]app.PendingUpdate, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, selectPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("query pending updates: %w", err)
	}
	defer rows.Close()

	var pending []app.PendingUpdate
	for rows.Next() {
		var (
			p     app.PendingUpdate
			field string
		)
		if err := rows.Scan(&p.ID, &field, &p.TrackID, &p.Value, &p.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan pending update: %w", err)
		}
		if p.Field, err = app.ParseField(field); err != nil {
			return nil, fmt.Errorf("pending update %d: %w", p.ID, err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending rows: %w", err)
	}
	return pending, nil
}

// DeletePending removes exactly the row with id. A newer edit for the same
// field and track has a different id and survives.
func (s *Store) DeletePending(ctx context.Context, id int64) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `DELETE FROM pending_updates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending update %d: %w", id, err)
	}
	return nil
}

// DeleteApplied removes the pending row for upd's field and track only while it
// still holds upd's value, so an edit recorded after the update was fetched
// survives. It reports how many rows were removed.
func (s *Store) DeleteApplied(ctx context.Context, upd app.PendingUpdate) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, deleteMatchingPendingSQL, upd.Field.String(), upd.TrackID, upd.Value)
	if err != nil {
		return 0, fmt.Errorf("delete applied %s for %s: %w", upd.Field, upd.TrackID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
