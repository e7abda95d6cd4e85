package middleware

import (
	"testing"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}, logger.Discard())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("alice"))

	rl.Reset("alice")
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: false}, logger.Discard())
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
	assert.Zero(t, rl.Cleanup())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}, logger.Discard())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")
	now = now.Add(2 * time.Hour)
	rl.Allow("active")

	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "active")
}
