package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const rateLimitWindow = time.Minute

// RateLimiter counts requests per client IP in redis, so the limit holds
// across all server instances instead of per process. When redis is
// unreachable it degrades to a per-process token bucket rather than
// failing open entirely.
type RateLimiter struct {
	rdb      *redis.Client
	limit    int64
	fallback *localLimiter
}

func NewRateLimiter(ctx context.Context, rdb *redis.Client, rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		limit:    int64(rps*rateLimitWindow.Seconds()) + int64(burst),
		fallback: newLocalLimiter(ctx, rps, burst, 3*time.Minute),
	}
}

func (rl *RateLimiter) Allow(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("ratelimit:%s:%d", ip, time.Now().Unix()/int64(rateLimitWindow.Seconds()))

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Errorf("Rate limiter redis error, using local fallback: %v", err)
		return rl.fallback.Allow(ip)
	}

	return incr.Val() <= rl.limit
}

// RateLimitMiddleware creates a rate limiting middleware. The context
// bounds the fallback limiter's cleanup goroutine to the server's life.
func RateLimitMiddleware(ctx context.Context, rdb *redis.Client, rps float64, burst int) gin.HandlerFunc {
	limiter := NewRateLimiter(ctx, rdb, rps, burst)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(c.Request.Context(), ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// localLimiter is the in-process fallback: one token bucket per IP with
// periodic cleanup of idle entries.
type localLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLocalLimiter(ctx context.Context, rps float64, burst int, ttl time.Duration) *localLimiter {
	ll := &localLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
	}

	go ll.cleanup(ctx)

	return ll
}

func (ll *localLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ll.purgeIdle()
		}
	}
}

func (ll *localLimiter) purgeIdle() {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	for ip, v := range ll.visitors {
		if time.Since(v.lastSeen) > ll.ttl {
			delete(ll.visitors, ip)
		}
	}
}

func (ll *localLimiter) Allow(ip string) bool {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	v, exists := ll.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(ll.rate, ll.burst)
		ll.visitors[ip] = &visitor{
			limiter:  limiter,
			lastSeen: time.Now(),
		}
		return limiter.Allow()
	}

	v.lastSeen = time.Now()
	return v.limiter.Allow()
}
