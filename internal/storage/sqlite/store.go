package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bowmanmike/libsync/db/migrations"
	"github.com/bowmanmike/libsync/internal/app"
)

const (
	defaultMaxOpenConns    = 5
	defaultCheckoutTimeout = 5 * time.Second
)

// Config drives Store construction.
type Config struct {
	Path            string
	MaxOpenConns    int
	CheckoutTimeout time.Duration
	// ArtworkDir is where artwork edits must name an existing file.
	ArtworkDir string
}

// Store is the snapshot database backed by SQLite.
type Store struct {
	db              *sql.DB
	checkoutTimeout time.Duration
	artworkDir      string
	now             func() time.Time
}

// New opens the database, sizes the pool and applies migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = defaultCheckoutTimeout
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite DB: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite DB: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{
		db:              db,
		checkoutTimeout: cfg.CheckoutTimeout,
		artworkDir:      cfg.ArtworkDir,
		now:             time.Now,
	}, nil
}

// Session checks out one connection for the duration of an export run.
// It fails when no connection frees up within the checkout timeout.
func (s *Store) Session(ctx context.Context) (app.SnapshotSession, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, now: s.now}, nil
}

// conn checks out a pooled connection. Every Store operation goes through it
// so an exhausted pool fails after the checkout timeout instead of blocking.
func (s *Store) conn(ctx context.Context) (*sql.Conn, error) {
	checkoutCtx, cancel := context.WithTimeout(ctx, s.checkoutTimeout)
	defer cancel()

	conn, err := s.db.Conn(checkoutCtx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	return conn, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
