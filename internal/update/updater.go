// Package update drains pending edits into the media player.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/artwork"
	"github.com/bowmanmike/libsync/internal/hasher"
	"github.com/bowmanmike/libsync/internal/metrics"
)

// Policy decides what a drain does when the player rejects an update.
type Policy string

const (
	// PolicyAbort stops at the first failure.
	PolicyAbort Policy = "abort"
	// PolicyContinue keeps the failed row pending and moves on.
	PolicyContinue Policy = "continue"
)

// ParsePolicy accepts "abort", "continue" or "" (abort).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// UpdateSource yields pending updates held by a remote deployment and
// removes each one once the player has it.
type UpdateSource interface {
	FetchUpdates(ctx context.Context) ([]app.PendingUpdate, error)
	AcknowledgeUpdate(ctx context.Context, upd app.PendingUpdate) error
}

// ArtworkSource fetches artwork bytes that are not present locally.
type ArtworkSource interface {
	FetchArtwork(ctx context.Context, filename string) ([]byte, error)
}

// Config wires an Updater.
type Config struct {
	Player     app.Player
	ArtworkDir string
	// Artwork is consulted when an artwork update names a file missing from ArtworkDir.
	Artwork ArtworkSource
	Policy  Policy
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Updater applies pending updates to the player.
type Updater struct {
	player     app.Player
	artworkDir string
	artwork    ArtworkSource
	policy     Policy
	hasher     *hasher.Hasher
	metrics    *metrics.Recorder
	logger     *slog.Logger
}

// Result counts what a drain did.
type Result struct {
	Applied int
	Skipped int
	Dropped int
	Failed  int
}

type outcome string

const (
	outcomeApplied outcome = "applied"
	outcomeSkipped outcome = "skipped"
	outcomeDropped outcome = "dropped"
	outcomeFailed  outcome = "failed"
)

// New validates cfg and builds an Updater.
func New(cfg Config) (*Updater, error) {
	if cfg.Player == nil {
		return nil, errors.New("player is required")
	}
	if strings.TrimSpace(cfg.ArtworkDir) == "" {
		return nil, errors.New("artwork dir is required")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Updater{
		player:     cfg.Player,
		artworkDir: cfg.ArtworkDir,
		artwork:    cfg.Artwork,
		policy:     policy,
		hasher:     hasher.New(hasher.DefaultChunkSize),
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// DrainLocal applies every pending row of log and deletes each row once it
// has been applied, skipped as already applied, or dropped because the track
// is gone. Rows are deleted by id so an edit recorded during the drain stays.
func (u *Updater) DrainLocal(ctx context.Context, log app.UpdateLog) (Result, error) {
	pending, err := log.ListPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list pending updates: %w", err)
	}
	return u.drain(ctx, "local", pending, func(ctx context.Context, upd app.PendingUpdate) error {
		return log.DeletePending(ctx, upd.ID)
	})
}

// DrainRemote fetches the remote queue and applies it, acknowledging each
// update once it has been applied, skipped or dropped. One invalid update
// rejects the whole batch before any player call.
func (u *Updater) DrainRemote(ctx context.Context, src UpdateSource) (Result, error) {
	pending, err := src.FetchUpdates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch remote updates: %w", err)
	}
	for _, upd := range pending {
		if err := upd.Validate(); err != nil {
			return Result{}, fmt.Errorf("remote update %s %s: %w", upd.Field, upd.TrackID, err)
		}
	}
	return u.drain(ctx, "remote", pending, src.AcknowledgeUpdate)
}

func (u *Updater) drain(ctx context.Context, source string, pending []app.PendingUpdate, done func(context.Context, app.PendingUpdate) error) (Result, error) {
	ordered := Order(pending)
	logger := u.logger.With("source", source)
	logger.Info("draining updates", "count", len(ordered), "policy", string(u.policy))

	var (
		res  Result
		errs error
	)
	for i, upd := range ordered {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}

		out, err := u.apply(ctx, logger, upd)
		u.metrics.UpdateProcessed(source, upd.Field.String(), string(out))
		switch out {
		case outcomeApplied:
			res.Applied++
		case outcomeSkipped:
			res.Skipped++
		case outcomeDropped:
			res.Dropped++
		case outcomeFailed:
			res.Failed++
			err = fmt.Errorf("%s %s: %w", upd.Field, upd.TrackID, err)
			if u.policy == PolicyAbort {
				return res, multierr.Append(errs, err)
			}
			logger.Error("update failed, keeping it pending", "field", upd.Field.String(), "track_id", upd.TrackID, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}

		if done != nil {
			if err := done(ctx, upd); err != nil {
				return res, multierr.Append(errs, fmt.Errorf("remove pending %s %s: %w", upd.Field, upd.TrackID, err))
			}
		}
		if (i+1)%100 == 0 {
			logger.Info("drain progress", "processed", i+1, "total", len(ordered))
		}
	}

	logger.Info("drain finished",
		"applied", res.Applied,
		"skipped", res.Skipped,
		"dropped", res.Dropped,
		"failed", res.Failed,
	)
	return res, errs
}

// Order sorts updates by field in drain order, keeping insertion order
// within a field.
func Order(pending []app.PendingUpdate) []app.PendingUpdate {
	rank := make(map[app.Field]int, len(app.DrainOrder))
	for i, f := range app.DrainOrder {
		rank[f] = i
	}
	ordered := slices.Clone(pending)
	slices.SortStableFunc(ordered, func(a, b app.PendingUpdate) int {
		return rank[a.Field] - rank[b.Field]
	})
	return ordered
}

func (u *Updater) apply(ctx context.Context, logger *slog.Logger, upd app.PendingUpdate) (outcome, error) {
	logger = logger.With("field", upd.Field.String(), "track_id", upd.TrackID)

	before, err := u.player.Get(ctx, upd.Field, upd.TrackID)
	if errors.Is(err, app.ErrTrackNotFound) {
		logger.Warn("track no longer in player, dropping update")
		return outcomeDropped, nil
	}
	if err != nil {
		return outcomeFailed, err
	}

	value := upd.Value
	switch upd.Field {
	case app.FieldPlays:
		// Plays carry the absolute target count, so a replay is a no-op.
		// A bare increment is relative to the player and relies on the
		// acknowledgement to run once.
		current, _ := strconv.Atoi(before)
		target := current + 1
		if v := strings.TrimSpace(upd.Value); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return outcomeFailed, fmt.Errorf("play count target %q: %w", upd.Value, err)
			}
			target = n
		}
		value = strconv.Itoa(target)
		if current >= target {
			logger.Debug("play count already at target", "current", current, "target", target)
			return outcomeSkipped, nil
		}
	case app.FieldArtwork:
		path, err := u.ensureArtwork(ctx, upd.Value)
		if err != nil {
			return outcomeFailed, err
		}
		value = path
	}

	if err := u.player.Set(ctx, upd.Field, upd.TrackID, value); err != nil {
		if errors.Is(err, app.ErrTrackNotFound) {
			logger.Warn("track no longer in player, dropping update")
			return outcomeDropped, nil
		}
		return outcomeFailed, err
	}

	after, err := u.player.Get(ctx, upd.Field, upd.TrackID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("read back: %w", err)
	}
	logger.Info("applied update", "before", before, "after", after)
	return outcomeApplied, nil
}

// ensureArtwork returns the local path of filename, fetching and verifying it
// when it is not on disk yet.
func (u *Updater) ensureArtwork(ctx context.Context, filename string) (string, error) {
	if !app.ValidArtworkFilename(filename) {
		return "", fmt.Errorf("%w: artwork %q is not a content-addressed filename", app.ErrInvalidEdit, filename)
	}
	path := filepath.Join(u.artworkDir, filename)
	ok, _, err := artwork.Exists(u.artworkDir, filename)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if u.artwork == nil {
		return "", fmt.Errorf("artwork %s missing locally and no remote source configured", filename)
	}

	data, err := u.artwork.FetchArtwork(ctx, filename)
	if err != nil {
		return "", err
	}
	digest := strings.TrimSuffix(filename, filepath.Ext(filename))
	if sum := u.hasher.SumBytes(data); sum != digest {
		return "", fmt.Errorf("artwork %s: content digest %s does not match", filename, sum)
	}
	if err := os.MkdirAll(u.artworkDir, 0o755); err != nil {
		return "", fmt.Errorf("create artwork dir: %w", err)
	}
	if err := artwork.WriteAtomic(path, data); err != nil {
		return "", err
	}
	u.logger.Debug("fetched artwork", "file", filename, "bytes", len(data))
	return path, nil
}
