package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"go-dm/internal/apperr"
	"go-dm/internal/httpx"
)

// Limiter counts hits per key in a fixed window that starts at the first hit.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func New(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Hit records one hit and reports whether key is still under the limit,
// along with the count so far. INCR and EXPIRE NX go out in one MULTI, so a
// counter always has a TTL and the window is not extended by later hits.
func (l *Limiter) Hit(ctx context.Context, key string) (bool, int64, error) {
	k := "rl:" + key
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= l.limit, n, nil
}

// Allow fails with apperr.ErrRateLimited once key is over the limit. A
// limiter that cannot reach Redis lets the request through.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	ok, n, err := l.Hit(ctx, key)
	if err != nil {
		return nil
	}
	if !ok {
		return fmt.Errorf("%w (count=%d, limit=%d)", apperr.ErrRateLimited, n, l.limit)
	}
	return nil
}

// LimitHTTP rejects requests over the limit with 429. keyFn picks the bucket.
func (l *Limiter) LimitHTTP(keyFn func(*http.Request) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keyFn(r)
			if err != nil || key == "" {
				httpx.WriteError(w, http.StatusUnauthorized, apperr.ErrUnauthorized, "missing_user")
				return
			}
			if err := l.Allow(r.Context(), key); err != nil {
				httpx.Fail(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
