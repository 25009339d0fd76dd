package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/player"
	"github.com/bowmanmike/libsync/internal/remote"
)

type stubRemote struct {
	updates    []app.PendingUpdate
	err        error
	version    int64
	artwork    map[string][]byte
	artworkReq []string
	fetches    int
	acked      []app.PendingUpdate
}

func (s *stubRemote) SnapshotVersion(context.Context) (int64, error) {
	return s.version, nil
}

func (s *stubRemote) FetchUpdates(context.Context) ([]app.PendingUpdate, error) {
	s.fetches++
	return s.updates, s.err
}

func (s *stubRemote) AcknowledgeUpdate(_ context.Context, upd app.PendingUpdate) error {
	s.acked = append(s.acked, upd)
	return nil
}

func (s *stubRemote) FetchArtwork(_ context.Context, filename string) ([]byte, error) {
	s.artworkReq = append(s.artworkReq, filename)
	data, ok := s.artwork[filename]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestRunSync(t *testing.T) {
	t.Run("applies remote updates", func(t *testing.T) {
		opts := testOptions(t)
		opts.cfg.Remote.BaseURL = "https://library.example.com"
		opts.cfg.Remote.Secret = "s3cret"

		stub := &stubRemote{version: 1, updates: []app.PendingUpdate{
			{Field: app.FieldRating, TrackID: "00000000000000AA", Value: "80"},
			{Field: app.FieldName, TrackID: "00000000000000AA", Value: "Renamed"},
		}}
		var gotCfg remote.Config
		opts.newRemote = func(cfg remote.Config) (remoteAPI, error) {
			gotCfg = cfg
			return stub, nil
		}
		p := &recordingPlayer{values: map[string]string{}}
		opts.newPlayer = func(player.Config) app.Player { return p }

		res, err := runSync(context.Background(), opts)
		if err != nil {
			t.Fatalf("runSync: %v", err)
		}
		if res.Applied != 2 {
			t.Fatalf("expected two applied updates, got %+v", res)
		}
		if gotCfg.BaseURL != "https://library.example.com" || gotCfg.Tokens == nil {
			t.Fatalf("unexpected remote config %+v", gotCfg)
		}
		if p.values["name/00000000000000AA"] != "Renamed" {
			t.Fatalf("unexpected player state %v", p.values)
		}
		if len(stub.acked) != 2 {
			t.Fatalf("expected both updates acknowledged, got %+v", stub.acked)
		}
	})

	t.Run("refusal makes no player calls", func(t *testing.T) {
		opts := testOptions(t)
		opts.cfg.Remote.BaseURL = "https://library.example.com"
		opts.cfg.Remote.Secret = "s3cret"

		stub := &stubRemote{version: 1, err: remote.ErrRemoteRefused}
		opts.newRemote = func(remote.Config) (remoteAPI, error) { return stub, nil }
		p := &recordingPlayer{values: map[string]string{}}
		opts.newPlayer = func(player.Config) app.Player { return p }

		if _, err := runSync(context.Background(), opts); !errors.Is(err, remote.ErrRemoteRefused) {
			t.Fatalf("expected refusal, got %v", err)
		}
		if p.calls != 0 {
			t.Fatalf("expected zero automation calls, got %d", p.calls)
		}
	})

	t.Run("waits for a finished remote export", func(t *testing.T) {
		opts := testOptions(t)
		opts.cfg.Remote.BaseURL = "https://library.example.com"
		opts.cfg.Remote.Secret = "s3cret"

		stub := &stubRemote{updates: []app.PendingUpdate{
			{Field: app.FieldRating, TrackID: "00000000000000AA", Value: "80"},
		}}
		opts.newRemote = func(remote.Config) (remoteAPI, error) { return stub, nil }
		p := &recordingPlayer{values: map[string]string{}}
		opts.newPlayer = func(player.Config) app.Player { return p }

		if _, err := runSync(context.Background(), opts); !errors.Is(err, errRemoteNotReady) {
			t.Fatalf("expected not ready error, got %v", err)
		}
		if stub.fetches != 0 || p.calls != 0 {
			t.Fatalf("expected no fetch and no player calls, got %d fetches and %d calls", stub.fetches, p.calls)
		}
	})

	t.Run("requires remote url", func(t *testing.T) {
		opts := testOptions(t)
		opts.cfg.Remote.Secret = "s3cret"
		if _, err := runSync(context.Background(), opts); err == nil {
			t.Fatalf("expected error without remote url")
		}
	})

	t.Run("requires secret", func(t *testing.T) {
		opts := testOptions(t)
		opts.cfg.Remote.BaseURL = "https://library.example.com"
		if _, err := runSync(context.Background(), opts); err == nil {
			t.Fatalf("expected error without remote secret")
		}
	})
}
