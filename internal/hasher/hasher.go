// Package hasher produces content digests for media and artwork files.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultChunkSize bounds memory used per read.
const DefaultChunkSize = 32 << 20

// Hasher streams input through an MD5 accumulator in fixed-size chunks.
// Chunk buffers are pooled and reused across calls.
type Hasher struct {
	chunkSize int
	buffers   sync.Pool
}

// New creates a Hasher. A non-positive chunk size selects DefaultChunkSize.
func New(chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := &Hasher{chunkSize: chunkSize}
	h.buffers.New = func() any {
		buf := make([]byte, h.chunkSize)
		return &buf
	}
	return h
}

// Sum returns the hex digest of everything read from r.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	bufp := h.buffers.Get().(*[]byte)
	defer h.buffers.Put(bufp)
	buf := *bufp

	digest := md5.New()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read content: %w", err)
		}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// SumBytes digests an in-memory buffer.
func (h *Hasher) SumBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SumFile digests the file at path.
func (h *Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, err := h.Sum(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}
