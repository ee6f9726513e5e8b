// Package throttle limits how often one caller may hit the pipeline.
package throttle

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Decision is the limiter's answer for one request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Counter is the subset of *redis.Client the fixed-window limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter is a fixed-window counter shared by every server instance.
type RedisLimiter struct {
	client Counter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client Counter, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "sage:throttle:", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(slot, 10)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		// Keep the key a little past its window so late requests still see it.
		_ = l.client.Expire(ctx, redisKey, l.window+time.Second).Err()
	}
	if int(count) > l.limit {
		windowEnd := time.Unix(0, (slot+1)*int64(l.window))
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
}

// MaxTrackedKeys bounds the in-process buckets. The least recently seen key
// is forgotten first and starts over with a full bucket.
const MaxTrackedKeys = 10000

// MemoryLimiter keeps one token bucket per key in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	every   rate.Limit
	burst   int
	now     func() time.Time
}

// NewMemoryLimiter allows limit requests per window per key, refilling evenly.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return newMemoryLimiter(limit, window, MaxTrackedKeys)
}

func newMemoryLimiter(limit int, window time.Duration, keys int) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	buckets, err := lru.New[string, *rate.Limiter](keys)
	if err != nil {
		panic(err)
	}
	return &MemoryLimiter{
		buckets: buckets,
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.every, l.burst)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()

	now := l.now()
	reservation := bucket.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(bucket.TokensAt(now))}, nil
}

// Middleware rejects requests over the limit with 429 rate_limited. Limiter
// failures let the request through.
func Middleware(limiter Limiter, keyOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := keyOf(c)
		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logrus.WithError(err).WithField("key", key).Warn("throttle unavailable; allowing request")
			c.Next()
			return
		}
		if !decision.Allowed {
			seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests; slow down",
				"code":  "rate_limited",
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Next()
	}
}
