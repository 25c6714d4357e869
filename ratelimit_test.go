package torrent

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimitReaderShortensReads(t *testing.T) {
	l := rate.NewLimiter(1e6, 5)
	r := rateLimitReader(context.Background(), bytes.NewReader(make([]byte, 12)), l)
	var b [8]byte
	for range iter.N(2) {
		n, err := r.Read(b[:])
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}
	n, err := r.Read(b[:])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = r.Read(b[:])
	assert.Equal(t, io.EOF, err)
}

func TestRateLimitReaderDelays(t *testing.T) {
	const bytesPerSecond = 100
	l := rate.NewLimiter(bytesPerSecond, 10)
	r := rateLimitReader(context.Background(), bytes.NewReader(make([]byte, 30)), l)
	started := time.Now()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, b, 30)
	// The first burst is free, the other 20 bytes cost 200ms.
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond)
}

func TestRateLimitReaderCancelled(t *testing.T) {
	l := rate.NewLimiter(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	r := rateLimitReader(ctx, bytes.NewReader(make([]byte, 30)), l)
	var b [10]byte
	_, err := r.Read(b[:])
	require.NoError(t, err)
	cancel()
	started := time.Now()
	n, err := r.Read(b[:])
	// The bytes were read, but the wait for them was abandoned.
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), time.Second)
}

func TestRateLimitReaderUnlimited(t *testing.T) {
	src := bytes.NewReader(nil)
	ctx := context.Background()
	assert.Equal(t, io.Reader(src), rateLimitReader(ctx, src, nil))
	assert.Equal(t, io.Reader(src), rateLimitReader(ctx, src, rate.NewLimiter(rate.Inf, 0)))
}

func TestSetRateLimiterBurstIfZero(t *testing.T) {
	l := rate.NewLimiter(10, 0)
	setRateLimiterBurstIfZero(l, defaultDownloadRateLimiterBurst)
	assert.Equal(t, defaultDownloadRateLimiterBurst, l.Burst())
	inf := rate.NewLimiter(rate.Inf, 0)
	setRateLimiterBurstIfZero(inf, 1)
	assert.Equal(t, 0, inf.Burst())
	setRateLimiterBurstIfZero(nil, 1)
}
