package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindow(t *testing.T) {
	limiter := NewRateLimiter(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("user-a"), "request %d should pass", i)
	}
	assert.False(t, limiter.Allow("user-a"))

	// Other users have their own window.
	assert.True(t, limiter.Allow("user-b"))

	// The window slides: old entries expire.
	time.Sleep(120 * time.Millisecond)
	assert.True(t, limiter.Allow("user-a"))
}

func TestRateLimiterDeniedRequestNotRecorded(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	assert.True(t, limiter.Allow("user-a"))
	for i := 0; i < 5; i++ {
		assert.False(t, limiter.Allow("user-a"))
	}

	// Only the one accepted request occupies the window.
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Len(t, limiter.requests["user-a"], 1)
}
