package api

import (
	"sync"
	"time"

	"ai_assistant_go_backend/internal/auth"
	apperrors "ai_assistant_go_backend/internal/errors"

	"github.com/gin-gonic/gin"
)

// RateLimiter enforces a per-user sliding window over message sends.
// Timestamps are kept in memory; entries older than the window are pruned
// on each check.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow records the request when under the limit and reports whether it may
// proceed.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.requests[key][:0]
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.limit {
		r.requests[key] = kept
		return false
	}

	r.requests[key] = append(kept, now)
	return true
}

// Middleware rejects requests over the per-user limit with a rate_limited
// error. It must run behind the auth middleware.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.UserFromContext(c)
		if !ok {
			apperrors.HandleError(c, apperrors.NewUnauthorizedError())
			c.Abort()
			return
		}

		if !r.Allow(user.ID.String()) {
			apperrors.HandleError(c, apperrors.NewRateLimitedError())
			c.Abort()
			return
		}

		c.Next()
	}
}
