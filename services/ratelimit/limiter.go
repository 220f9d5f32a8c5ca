// Package ratelimit enforces fixed-window request and token budgets. Windows
// live in process memory: admission and increment happen under one lock, so
// concurrent requests from the same identity cannot both consume the last
// slot of a budget.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infergate/infergate/models"
)

// Request describes one admission check against a policy's budget.
type Request struct {
	// Policy is the name of the policy supplying the budget; counters are
	// scoped per policy so separate attachments never share a window
	Policy string

	// Key is the counter dimension value: the caller identity, the route
	// name, or "global" depending on the policy's key kind
	Key string

	// Config is the budget to enforce; nil admits unconditionally
	Config *models.RateLimitConfig

	// PromptTokens is the estimated token cost of the request body, counted
	// against TokensPerWindow budgets
	PromptTokens int
}

// Result reports the outcome of an admission check. Remaining fields are -1
// when the corresponding limit is not configured.
type Result struct {
	Allowed           bool
	RequestsRemaining int
	TokensRemaining   int
	ResetAt           time.Time

	// RetryAfterSeconds is the suggested client backoff on denial, always
	// at least 1
	RetryAfterSeconds int

	// Reason describes the violated budget on denial
	Reason string
}

type window struct {
	resetAt  time.Time
	requests int
	tokens   int
}

// Limiter tracks fixed windows per (policy, key) pair.
type Limiter struct {
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

func NewLimiter(logger *zap.Logger) *Limiter {
	return &Limiter{
		logger:  logger,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow admits or rejects the request and, on admission, reserves its slot
// in the current window. Counters survive configuration reloads; a policy
// edit never resets an identity's consumed budget mid-window.
func (l *Limiter) Allow(req Request) *Result {
	if req.Config == nil {
		return &Result{Allowed: true, RequestsRemaining: -1, TokensRemaining: -1}
	}

	windowDur := time.Duration(req.Config.Window()) * time.Second
	now := l.now()
	resetAt := now.Truncate(windowDur).Add(windowDur)
	key := scopeKey(req.Policy, req.Key)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: resetAt}
		l.windows[key] = w
	}

	res := &Result{
		Allowed:           true,
		RequestsRemaining: -1,
		TokensRemaining:   -1,
		ResetAt:           w.resetAt,
	}

	if req.Config.Requests > 0 {
		if w.requests >= req.Config.Requests {
			return l.deny(res, now, w, fmt.Sprintf("exceeded %d requests per %ds window", req.Config.Requests, req.Config.Window()))
		}
		res.RequestsRemaining = req.Config.Requests - w.requests - 1
	}

	if req.Config.TokensPerWindow > 0 {
		if w.tokens+req.PromptTokens > req.Config.TokensPerWindow {
			return l.deny(res, now, w, fmt.Sprintf("exceeded %d tokens per %ds window", req.Config.TokensPerWindow, req.Config.Window()))
		}
		res.TokensRemaining = req.Config.TokensPerWindow - w.tokens - req.PromptTokens
	}

	w.requests++
	w.tokens += req.PromptTokens
	return res
}

func (l *Limiter) deny(res *Result, now time.Time, w *window, reason string) *Result {
	res.Allowed = false
	res.Reason = reason
	res.RequestsRemaining = 0
	res.TokensRemaining = 0
	res.RetryAfterSeconds = retryAfter(now, w.resetAt)
	return res
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func scopeKey(policy, key string) string {
	return policy + "|" + key
}

// prune drops windows that have already reset.
func (l *Limiter) prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartJanitor periodically reclaims expired windows until ctx is cancelled.
func (l *Limiter) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit janitor", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if removed := l.prune(l.now()); removed > 0 {
				l.logger.Debug("pruned expired rate limit windows", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			l.logger.Info("stopping rate limit janitor")
			return
		}
	}
}
