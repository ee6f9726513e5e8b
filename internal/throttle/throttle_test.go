package throttle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	f.expires[key] = d
	f.mu.Unlock()
	return redis.NewBoolResult(true, nil)
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	counter := newFakeCounter()
	l := NewRedisLimiter(counter, 2, time.Minute)
	base := time.Date(2026, 4, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "ana")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(context.Background(), "ana")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Second, d.RetryAfter)

	d, err = l.Allow(context.Background(), "ben")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "keys are independent")
	assert.Equal(t, 1, d.Remaining)

	l.now = func() time.Time { return base.Add(time.Minute) }
	d, err = l.Allow(context.Background(), "ana")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "next window resets the count")
	assert.Len(t, counter.expires, 3)
}

func TestRedisLimiterPropagatesErrors(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	_, err := NewRedisLimiter(counter, 1, time.Minute).Allow(context.Background(), "ana")
	require.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "ana")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Allow(context.Background(), "ana")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(20*time.Second), float64(d.RetryAfter), float64(time.Second))

	l.now = func() time.Time { return base.Add(21 * time.Second) }
	d, err = l.Allow(context.Background(), "ana")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterBoundsTrackedKeys(t *testing.T) {
	l := newMemoryLimiter(1, time.Minute, 2)
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for _, key := range []string{"ana", "ben", "cleo"} {
		d, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		require.True(t, d.Allowed, key)
	}
	assert.Equal(t, 2, l.buckets.Len())

	d, err := l.Allow(context.Background(), "cleo")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "tracked keys keep their bucket")

	d, err = l.Allow(context.Background(), "ana")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "evicted keys start over")
}

type stubLimiter struct {
	decision Decision
	err      error
}

func (s stubLimiter) Allow(context.Context, string) (Decision, error) {
	return s.decision, s.err
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		limiter Limiter
		status  int
	}{
		{"allowed", stubLimiter{decision: Decision{Allowed: true, Remaining: 4}}, http.StatusOK},
		{"limited", stubLimiter{decision: Decision{RetryAfter: 1500 * time.Millisecond}}, http.StatusTooManyRequests},
		{"limiter down", stubLimiter{err: errors.New("redis down")}, http.StatusOK},
		{"disabled", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(Middleware(tc.limiter, func(c *gin.Context) string { return c.ClientIP() }))
			router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, "2", rec.Header().Get("Retry-After"))
				assert.Contains(t, rec.Body.String(), `"code":"rate_limited"`)
			}
		})
	}
}
