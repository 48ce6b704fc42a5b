package ratelimiter

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// ByteLimiter throttles sustained disk reads to a byte rate using a token
// bucket: one token per byte, bucket capacity = burst bytes.
//
// The fingerprint worker wraps file readers with Reader so that background
// hashing leaves disk bandwidth for foreground traffic.
//
// A nil *ByteLimiter is valid and never throttles.
//
// Thread safety:
// All methods are safe for concurrent use. Several hash workers may share one
// limiter, in which case the rate is a global ceiling.
type ByteLimiter struct {
	limiter *rate.Limiter
	burst   int
}

// New creates a ByteLimiter.
//
// Parameters:
//   - bytesPerSecond: sustained rate; 0 disables throttling and returns nil
//   - burst: bucket capacity in bytes; values below 64KiB are raised to 64KiB
//
// Example:
//
//	// 64 MiB/s sustained, 8 MiB burst
//	limiter := New(64<<20, 8<<20)
func New(bytesPerSecond, burst uint) *ByteLimiter {
	if bytesPerSecond == 0 {
		return nil
	}
	if burst < 64<<10 {
		burst = 64 << 10
	}
	return &ByteLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
		burst:   int(burst),
	}
}

// WaitN blocks until n bytes may be consumed or ctx is done. Requests larger
// than the burst are split.
func (b *ByteLimiter) WaitN(ctx context.Context, n int) error {
	if b == nil {
		return ctx.Err()
	}
	for n > 0 {
		chunk := n
		if chunk > b.burst {
			chunk = b.burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// AllowN reports whether n bytes are available right now and consumes them if so.
func (b *ByteLimiter) AllowN(n int) bool {
	if b == nil {
		return true
	}
	return b.limiter.AllowN(time.Now(), n)
}

// SetLimit changes the sustained rate. 0 makes the limiter unlimited.
func (b *ByteLimiter) SetLimit(bytesPerSecond uint) {
	if b == nil {
		return
	}
	if bytesPerSecond == 0 {
		b.limiter.SetLimit(rate.Inf)
		return
	}
	b.limiter.SetLimit(rate.Limit(bytesPerSecond))
}

// Reader returns r throttled through b and aborted when ctx is done.
func (b *ByteLimiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	return &reader{ctx: ctx, r: r, b: b}
}

type reader struct {
	ctx context.Context
	r   io.Reader
	b   *ByteLimiter
}

func (r *reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.b != nil && len(p) > r.b.burst {
		p = p[:r.b.burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.b.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
