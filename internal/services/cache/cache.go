// Package cache remembers finished chat responses by idempotency key so a
// client retry replays the answer instead of running and charging the turn
// again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/private-symposium-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Service defines cache operations
type Service interface {
	Get(userID, key string) (*Entry, bool)
	Set(userID, key string, entry *Entry)
	Reserve(userID, key string) (*Entry, bool)
	Release(userID, key string)
	Clear()
}

// Entry is a stored response. A pending entry marks a request that is still
// running.
type Entry struct {
	Status    int
	Body      []byte
	Pending   bool
	CreatedAt time.Time
}

// Cache implements the idempotency cache
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
}

// NewCache creates a new cache service
func NewCache(cfg *config.IdempotencyConfig, logger *logrus.Logger) *Cache {
	if !cfg.Enabled || cfg.TTL <= 0 {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
	}
}

// Get retrieves a stored response
func (c *Cache) Get(userID, key string) (*Entry, bool) {
	if !c.enabled || key == "" {
		return nil, false
	}

	if val, found := c.cache.Get(c.generateKey(userID, key)); found {
		entry := val.(*Entry)
		if entry.Pending {
			return nil, false
		}
		c.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"age":     time.Since(entry.CreatedAt),
		}).Debug("Idempotent response replayed")
		return entry, true
	}

	return nil, false
}

// Set stores a response
func (c *Cache) Set(userID, key string, entry *Entry) {
	if !c.enabled || key == "" {
		return
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.cache.SetDefault(c.generateKey(userID, key), entry)
}

// Reserve claims key for a request about to run. It reports false with the
// current entry when the key is already taken, either by a finished
// response or by a request still in flight.
func (c *Cache) Reserve(userID, key string) (*Entry, bool) {
	if !c.enabled || key == "" {
		return nil, true
	}

	cacheKey := c.generateKey(userID, key)
	pending := &Entry{Pending: true, CreatedAt: time.Now()}
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.cache.Add(cacheKey, pending, cache.DefaultExpiration); err == nil {
			return nil, true
		}
		// The holder may expire between Add and Get
		if val, found := c.cache.Get(cacheKey); found {
			entry := val.(*Entry)
			c.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"pending": entry.Pending,
			}).Debug("Idempotency key already taken")
			return entry, false
		}
	}
	return nil, true
}

// Release frees a reservation whose request failed, so a retry can run.
// Finished responses are kept.
func (c *Cache) Release(userID, key string) {
	if !c.enabled || key == "" {
		return
	}

	cacheKey := c.generateKey(userID, key)
	if val, found := c.cache.Get(cacheKey); found && val.(*Entry).Pending {
		c.cache.Delete(cacheKey)
	}
}

// Clear removes all cached entries
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}

	c.cache.Flush()
	c.logger.Info("Idempotency cache cleared")
}

// generateKey scopes the client key to the user
func (c *Cache) generateKey(userID, key string) string {
	data := fmt.Sprintf("%s:%s", userID, key)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
