package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	mock.Regexp().ExpectTxPipeline()
	mock.Regexp().ExpectIncr(`ratelimit:1\.2\.3\.4:\d+`).SetVal(1)
	mock.Regexp().ExpectExpire(`ratelimit:1\.2\.3\.4:\d+`, rateLimitWindow).SetVal(true)
	mock.Regexp().ExpectTxPipelineExec()

	limiter := NewRateLimiter(context.Background(), rdb, 1, 5)
	assert.True(t, limiter.Allow(context.Background(), "1.2.3.4"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()

	// rps*60 + burst = 65; the 66th request in the window is rejected.
	mock.Regexp().ExpectTxPipeline()
	mock.Regexp().ExpectIncr(`ratelimit:1\.2\.3\.4:\d+`).SetVal(66)
	mock.Regexp().ExpectExpire(`ratelimit:1\.2\.3\.4:\d+`, rateLimitWindow).SetVal(true)
	mock.Regexp().ExpectTxPipelineExec()

	limiter := NewRateLimiter(context.Background(), rdb, 1, 5)
	assert.False(t, limiter.Allow(context.Background(), "1.2.3.4"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FallsBackWhenRedisDown(t *testing.T) {
	rdb, _ := redismock.NewClientMock()

	// No expectations set, so the pipeline exec errors and the local
	// bucket takes over.
	limiter := NewRateLimiter(context.Background(), rdb, 1, 2)
	assert.True(t, limiter.Allow(context.Background(), "1.2.3.4"))
	assert.True(t, limiter.Allow(context.Background(), "1.2.3.4"))
	assert.False(t, limiter.Allow(context.Background(), "1.2.3.4"))
}

func TestLocalLimiter_PerIPBuckets(t *testing.T) {
	ll := newLocalLimiter(context.Background(), 1, 1, time.Minute)

	assert.True(t, ll.Allow("1.1.1.1"))
	assert.False(t, ll.Allow("1.1.1.1"))
	assert.True(t, ll.Allow("2.2.2.2"))
}

func TestLocalLimiter_PurgeIdleDropsStaleVisitors(t *testing.T) {
	ll := newLocalLimiter(context.Background(), 1, 1, time.Minute)

	ll.Allow("1.1.1.1")
	ll.Allow("2.2.2.2")
	ll.mu.Lock()
	ll.visitors["1.1.1.1"].lastSeen = time.Now().Add(-2 * time.Minute)
	ll.mu.Unlock()

	ll.purgeIdle()

	ll.mu.RLock()
	defer ll.mu.RUnlock()
	assert.NotContains(t, ll.visitors, "1.1.1.1")
	assert.Contains(t, ll.visitors, "2.2.2.2")
}

func TestLocalLimiter_CleanupStopsOnShutdown(t *testing.T) {
	ll := &localLimiter{visitors: make(map[string]*visitor), ttl: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ll.cleanup(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup goroutine did not stop after context cancellation")
	}
}
