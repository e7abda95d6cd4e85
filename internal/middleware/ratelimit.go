package middleware

import (
	"sync"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(userID string) bool
	Reset(userID string)
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter implements per-user rate limiting
type UserRateLimiter struct {
	enabled  bool
	limiters map[string]*userLimiter
	mu       sync.Mutex
	rpm      int
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// NewRateLimiter creates a new rate limiter. Limiters idle for longer than
// an hour are dropped by Cleanup.
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *UserRateLimiter {
	if !cfg.Enabled {
		return &UserRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &UserRateLimiter{
		enabled:  true,
		limiters: make(map[string]*userLimiter),
		rpm:      cfg.RequestsPerMinute,
		burst:    burst,
		idleTTL:  time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow checks if a user is allowed to make a request
func (r *UserRateLimiter) Allow(userID string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(userID).AllowN(r.now(), 1)

	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"user_id": userID,
		}).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a user
func (r *UserRateLimiter) Reset(userID string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, userID)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a user
func (r *UserRateLimiter) getLimiter(userID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.limiters[userID]
	if !exists {
		// Rate per second = RPM / 60
		rps := float64(r.rpm) / 60.0
		entry = &userLimiter{limiter: rate.NewLimiter(rate.Limit(rps), r.burst)}
		r.limiters[userID] = entry
	}
	entry.lastSeen = r.now()

	return entry.limiter
}

// Cleanup drops limiters of users idle longer than the idle TTL and
// returns how many were removed
func (r *UserRateLimiter) Cleanup() int {
	if !r.enabled {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for userID, entry := range r.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(r.limiters, userID)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until done is closed
func (r *UserRateLimiter) RunCleanup(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if removed := r.Cleanup(); removed > 0 {
				r.logger.WithField("removed", removed).Debug("Idle rate limiters removed")
			}
		}
	}
}
