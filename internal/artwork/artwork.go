// Package artwork manages the content-addressed artwork directory.
package artwork

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsupported is returned for images that are neither PNG nor JPEG.
var ErrUnsupported = errors.New("unsupported artwork format")

// Ext maps an image MIME type to the file extension used on disk.
func Ext(mime string) (string, error) {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, mime)
	}
}

// Filename is the on-disk name for an image with the given content digest.
func Filename(digest, mime string) (string, error) {
	ext, err := Ext(mime)
	if err != nil {
		return "", err
	}
	return digest + "." + ext, nil
}

// Exists reports whether name is present in dir and returns its size.
func Exists(dir, name string) (bool, int64, error) {
	info, err := os.Stat(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("stat artwork %s: %w", name, err)
	}
	return true, info.Size(), nil
}

// List returns the names of the regular files in dir.
func List(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list artwork dir: %w", err)
	}
	files := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files[e.Name()] = struct{}{}
		}
	}
	return files, nil
}

// WriteAtomic writes data to a temp file next to path and renames it into place,
// so readers never observe a partial image.
func WriteAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artwork-*")
	if err != nil {
		return fmt.Errorf("create temp artwork: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artwork %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artwork %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artwork %s: %w", filepath.Base(path), err)
	}
	return nil
}
