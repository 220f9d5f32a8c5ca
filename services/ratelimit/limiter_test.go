package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
)

func newTestLimiter(t *testing.T, at time.Time) *Limiter {
	t.Helper()
	l := NewLimiter(zap.NewNop())
	l.now = func() time.Time { return at }
	return l
}

func TestLimiter_Allow(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	t.Run("nil config admits unconditionally", func(t *testing.T) {
		l := newTestLimiter(t, base)
		for i := 0; i < 1000; i++ {
			res := l.Allow(Request{Policy: "p", Key: "alice"})
			assert.True(t, res.Allowed)
			assert.Equal(t, -1, res.RequestsRemaining)
		}
	})

	t.Run("request budget enforced", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 3, WindowSeconds: 60}

		for i := 0; i < 3; i++ {
			res := l.Allow(Request{Policy: "p", Key: "alice", Config: cfg})
			require.True(t, res.Allowed, "request %d should be admitted", i)
			assert.Equal(t, 2-i, res.RequestsRemaining)
		}

		res := l.Allow(Request{Policy: "p", Key: "alice", Config: cfg})
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.RequestsRemaining)
		assert.Contains(t, res.Reason, "3 requests per 60s")
		assert.GreaterOrEqual(t, res.RetryAfterSeconds, 1)
		assert.LessOrEqual(t, res.RetryAfterSeconds, 60)
	})

	t.Run("token budget enforced", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{TokensPerWindow: 100, WindowSeconds: 60}

		res := l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 60})
		require.True(t, res.Allowed)
		assert.Equal(t, 40, res.TokensRemaining)

		// 60 consumed; 50 more would overrun the budget
		res = l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 50})
		assert.False(t, res.Allowed)
		assert.Contains(t, res.Reason, "100 tokens per 60s")

		// a smaller request still fits
		res = l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 40})
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.TokensRemaining)
	})

	t.Run("denied request consumes nothing", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 1, TokensPerWindow: 100, WindowSeconds: 60}

		require.True(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 10}).Allowed)
		require.False(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 10}).Allowed)

		// the denial above must not have burned tokens for the next window
		l.now = func() time.Time { return base.Add(2 * time.Minute) }
		res := l.Allow(Request{Policy: "p", Key: "alice", Config: cfg, PromptTokens: 100})
		assert.True(t, res.Allowed)
	})

	t.Run("window resets at boundary", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 1, WindowSeconds: 60}

		require.True(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)
		require.False(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)

		l.now = func() time.Time { return base.Add(61 * time.Second) }
		assert.True(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 1, WindowSeconds: 60}

		require.True(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)
		require.False(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)

		assert.True(t, l.Allow(Request{Policy: "p", Key: "bob", Config: cfg}).Allowed)
	})

	t.Run("policies are isolated", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 1, WindowSeconds: 60}

		require.True(t, l.Allow(Request{Policy: "route-limits", Key: "alice", Config: cfg}).Allowed)
		assert.True(t, l.Allow(Request{Policy: "backend-limits", Key: "alice", Config: cfg}).Allowed)
	})

	t.Run("default window is sixty seconds", func(t *testing.T) {
		l := newTestLimiter(t, base)
		cfg := &models.RateLimitConfig{Requests: 1}

		require.True(t, l.Allow(Request{Policy: "p", Key: "alice", Config: cfg}).Allowed)
		res := l.Allow(Request{Policy: "p", Key: "alice", Config: cfg})
		require.False(t, res.Allowed)
		assert.Contains(t, res.Reason, "per 60s window")
	})
}

func TestLimiter_ConcurrentAdmission(t *testing.T) {
	l := newTestLimiter(t, time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	cfg := &models.RateLimitConfig{Requests: 50, WindowSeconds: 60}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(Request{Policy: "p", Key: "shared", Config: cfg}).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// exactly the budget is admitted no matter how the goroutines interleave
	assert.Equal(t, 50, admitted)
}

func TestLimiter_Prune(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	l := newTestLimiter(t, base)
	cfg := &models.RateLimitConfig{Requests: 10, WindowSeconds: 60}

	l.Allow(Request{Policy: "p", Key: "alice", Config: cfg})
	l.Allow(Request{Policy: "p", Key: "bob", Config: cfg})
	assert.Equal(t, 0, l.prune(base.Add(30*time.Second)))

	removed := l.prune(base.Add(2 * time.Minute))
	assert.Equal(t, 2, removed)
}

func TestLimiter_JanitorStopsOnCancel(t *testing.T) {
	l := NewLimiter(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.StartJanitor(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop after cancellation")
	}
}
