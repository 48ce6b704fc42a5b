// Package fingerprint computes the content hash used to index files.
//
// A fingerprint is built from fixed 1 GiB windows. Each window is hashed with
// SHA-256 on its own; the per-window digests are then folded left to right:
//
//	fp = h0
//	fp = sha256(fp || h1)
//	fp = sha256(fp || h2) ...
//
// A file of at most one window therefore has fingerprint sha256(content), and
// a file that grows by appending to a window-aligned size can be re-fingerprinted
// from its old fingerprint plus the new bytes only.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/wisnuc/appifi-sub000/internal/ratelimiter"
)

// WindowSize is the span of bytes hashed independently before folding.
const WindowSize int64 = 1 << 30

// Size is the length of a hex encoded fingerprint.
const Size = sha256.Size * 2

// Hasher is a streaming fingerprint writer.
type Hasher struct {
	window int64
	fold   []byte
	cur    hash.Hash
	curLen int64
}

// New returns a Hasher using WindowSize windows.
func New() *Hasher {
	return newHasher(WindowSize)
}

func newHasher(window int64) *Hasher {
	return &Hasher{window: window, cur: sha256.New()}
}

// resume continues a fingerprint whose input ended on a window boundary.
func resume(window int64, prev string) (*Hasher, error) {
	fold, err := hex.DecodeString(prev)
	if err != nil || len(fold) != sha256.Size {
		return nil, fmt.Errorf("invalid fingerprint %q", prev)
	}
	h := newHasher(window)
	h.fold = fold
	return h, nil
}

// Write implements io.Writer. It never fails.
func (h *Hasher) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		room := h.window - h.curLen
		chunk := p
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		h.cur.Write(chunk)
		h.curLen += int64(len(chunk))
		p = p[len(chunk):]
		if h.curLen == h.window {
			h.closeWindow()
		}
	}
	return n, nil
}

func (h *Hasher) closeWindow() {
	digest := h.cur.Sum(nil)
	if h.fold == nil {
		h.fold = digest
	} else {
		folded := sha256.New()
		folded.Write(h.fold)
		folded.Write(digest)
		h.fold = folded.Sum(nil)
	}
	h.cur.Reset()
	h.curLen = 0
}

// Sum returns the hex fingerprint of everything written so far. The Hasher
// stays usable.
func (h *Hasher) Sum() string {
	fold := h.fold
	if h.curLen > 0 || fold == nil {
		digest := h.cur.Sum(nil)
		if fold == nil {
			fold = digest
		} else {
			folded := sha256.New()
			folded.Write(fold)
			folded.Write(digest)
			fold = folded.Sum(nil)
		}
	}
	return hex.EncodeToString(fold)
}

// Valid reports whether s looks like a fingerprint.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// Bytes fingerprints an in-memory buffer.
func Bytes(b []byte) string {
	h := New()
	h.Write(b)
	return h.Sum()
}

// Reader fingerprints everything read from r.
func Reader(ctx context.Context, r io.Reader, limiter *ratelimiter.ByteLimiter) (string, error) {
	return readerWindow(ctx, WindowSize, r, limiter)
}

func readerWindow(ctx context.Context, window int64, r io.Reader, limiter *ratelimiter.ByteLimiter) (string, error) {
	h := newHasher(window)
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, limiter.Reader(ctx, r), buf); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// File fingerprints the file at path. Cancellation of ctx aborts the read.
func File(ctx context.Context, path string, limiter *ratelimiter.ByteLimiter) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(ctx, f, limiter)
}

// Extend returns the fingerprint of existing[0:prevSize] followed by appended,
// given prev, the fingerprint of the first prevSize bytes.
//
// When prevSize is a multiple of the window size only appended is read.
// Otherwise the trailing partial window of the old content cannot be separated
// from prev, and existing is rehashed from offset 0.
func Extend(ctx context.Context, prev string, prevSize int64, existing io.ReaderAt, appended io.Reader) (string, error) {
	return extendWindow(ctx, WindowSize, prev, prevSize, existing, appended)
}

func extendWindow(ctx context.Context, window int64, prev string, prevSize int64, existing io.ReaderAt, appended io.Reader) (string, error) {
	var h *Hasher
	switch {
	case prevSize == 0:
		h = newHasher(window)
	case prevSize%window == 0:
		var err error
		if h, err = resume(window, prev); err != nil {
			return "", err
		}
	default:
		h = newHasher(window)
		if _, err := io.Copy(h, newCtxReader(ctx, io.NewSectionReader(existing, 0, prevSize))); err != nil {
			return "", err
		}
	}

	if _, err := io.Copy(h, newCtxReader(ctx, appended)); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func newCtxReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
