package torrent

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// 64 KiB used to be a rough default buffer for sockets on Windows. It's also several blocks, so
// a piece message is never split into too many waits.
const defaultDownloadRateLimiterBurst = 1 << 16

// A zero burst requests the default. A limiter with a finite rate and zero burst would allow
// nothing.
func setRateLimiterBurstIfZero(l *rate.Limiter, def int) {
	if l != nil && l.Burst() == 0 && l.Limit() != rate.Inf {
		l.SetBurst(def)
	}
}

// Charges the limiter for each read after it completes. Reads are capped at the burst so the
// charge can always be met, and waiting stops when ctx is done so closing a Conn isn't held up by
// a slow limiter.
type rateLimitedReader struct {
	ctx context.Context
	l   *rate.Limiter
	r   io.Reader
}

func (me *rateLimitedReader) Read(b []byte) (n int, err error) {
	if burst := me.l.Burst(); burst != 0 && len(b) > burst {
		b = b[:burst]
	}
	n, err = me.r.Read(b)
	if n == 0 {
		return
	}
	if waitErr := me.l.WaitN(me.ctx, n); waitErr != nil && err == nil {
		err = waitErr
	}
	return
}

// Returns r itself when there's nothing to limit.
func rateLimitReader(ctx context.Context, r io.Reader, l *rate.Limiter) io.Reader {
	if l == nil || l.Limit() == rate.Inf {
		return r
	}
	return &rateLimitedReader{ctx: ctx, l: l, r: r}
}
