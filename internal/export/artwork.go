package export

import (
	"path/filepath"
	"time"

	"github.com/bowmanmike/libsync/internal/app"
	"github.com/bowmanmike/libsync/internal/artwork"
	"github.com/bowmanmike/libsync/internal/hasher"
)

// artworkStore tracks the artwork directory during one run: which files the
// run references and how many bytes they hold.
type artworkStore struct {
	dir      string
	hasher   *hasher.Hasher
	seen     map[string]bool
	size     int64
	written  int
	hashTime time.Duration
}

func newArtworkStore(dir string, h *hasher.Hasher) *artworkStore {
	return &artworkStore{dir: dir, hasher: h, seen: make(map[string]bool)}
}

// reuse marks a previously exported file as seen when it is still on disk.
func (a *artworkStore) reuse(name string) (bool, error) {
	if a.seen[name] {
		return true, nil
	}
	ok, size, err := artwork.Exists(a.dir, name)
	if err != nil || !ok {
		return false, err
	}
	a.mark(name, size)
	return true, nil
}

// store names art by content digest and writes it only if the file is absent.
func (a *artworkStore) store(art *app.Artwork) (string, error) {
	start := time.Now()
	digest := a.hasher.SumBytes(art.Data)
	a.hashTime += time.Since(start)

	name, err := artwork.Filename(digest, art.MIMEType)
	if err != nil {
		return "", err
	}
	if a.seen[name] {
		return name, nil
	}

	ok, size, err := artwork.Exists(a.dir, name)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := artwork.WriteAtomic(filepath.Join(a.dir, name), art.Data); err != nil {
			return "", err
		}
		a.written++
		size = int64(len(art.Data))
	}
	a.mark(name, size)
	return name, nil
}

func (a *artworkStore) mark(name string, size int64) {
	a.seen[name] = true
	a.size += size
}
