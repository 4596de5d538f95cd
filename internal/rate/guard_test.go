package rate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldCallBudget(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Minute, 2))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, g.ShouldCall(now).Allowed)
	assert.True(t, g.ShouldCall(now).Allowed)

	d := g.ShouldCall(now)
	assert.False(t, d.Allowed)
	assert.Equal(t, "budget", d.Reason)
	assert.InDelta(t, float64(30*time.Second), float64(d.RetryAt.Sub(now)), float64(time.Millisecond))

	assert.True(t, g.ShouldCall(now.Add(31*time.Second)).Allowed)
}

func TestShouldCallAllOrNothing(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Minute, 10).MaxRequestsPer(Day, 1))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, g.ShouldCall(now).Allowed)
	require.False(t, g.ShouldCall(now).Allowed)

	// The denied call must not have spent a minute token.
	assert.InDelta(t, 9, g.limiters[Minute].TokensAt(now), 0.01)
}

func TestShouldCallDisabledAndUnlimited(t *testing.T) {
	now := time.Now()
	d := NewGuard(Provider("off").MaxRequestsPer(Minute, 0)).ShouldCall(now)
	assert.False(t, d.Allowed)
	assert.Equal(t, "disabled", d.Reason)

	assert.True(t, NewGuard(Provider("open")).ShouldCall(now).Allowed)
}

func TestRetryAfterCooldown(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Minute, 100))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.RecordResponse(http.StatusServiceUnavailable, http.Header{"Retry-After": []string{"120"}})
	d := g.ShouldCall(now.Add(time.Minute))
	assert.False(t, d.Allowed)
	assert.Equal(t, "cooldown", d.Reason)
	assert.Equal(t, now.Add(2*time.Minute), d.RetryAt)
	assert.Equal(t, http.StatusServiceUnavailable, g.LastStatus())

	assert.True(t, g.ShouldCall(now.Add(3*time.Minute)).Allowed)
}

func TestTooManyRequestsWithoutHeader(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Minute, 100))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	g.RecordResponse(http.StatusTooManyRequests, http.Header{})
	assert.False(t, g.ShouldCall(now.Add(30*time.Second)).Allowed)
}

func TestWrapHTTPServesCacheWhenBlocked(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := WrapHTTP(Provider("eufy-cache").MaxRequestsPer(Minute, 1).CacheFor(time.Minute), srv.Client())

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(cacheHitCounter.WithLabelValues("eufy-cache")))
}

func TestWrapHTTPReturnsRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := WrapHTTP(Provider("eufy").MaxRequestsPer(Minute, 1), srv.Client())

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	var rle RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "eufy", rle.Provider)
	assert.Equal(t, "budget", rle.Reason)
	assert.GreaterOrEqual(t, testutil.ToFloat64(deniedCounter.WithLabelValues("eufy", "budget")), float64(1))
}

func TestAcquireWaitsWithinBudget(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Minute, 600).WaitUpTo(time.Second))
	// Burst of 600, then one token every 100ms.
	for i := 0; i < 600; i++ {
		require.True(t, g.Acquire(context.Background()).Allowed)
	}
	start := time.Now()
	assert.True(t, g.Acquire(context.Background()).Allowed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireGivesUpPastMaxWait(t *testing.T) {
	g := NewGuard(Provider("eufy").MaxRequestsPer(Hour, 1).WaitUpTo(10 * time.Millisecond))
	require.True(t, g.Acquire(context.Background()).Allowed)

	d := g.Acquire(context.Background())
	assert.False(t, d.Allowed)
	assert.Equal(t, "budget", d.Reason)
}

func TestDeclarationIsImmutable(t *testing.T) {
	base := Provider("eufy").MaxRequestsPer(Minute, 1)
	wider := base.MaxRequestsPer(Day, 100)

	assert.Len(t, base.Limits(), 1)
	assert.Len(t, wider.Limits(), 2)
	assert.True(t, wider.HasLimits())
	assert.False(t, Provider("x").HasLimits())
	assert.Equal(t, "hour", Hour.String())
}
