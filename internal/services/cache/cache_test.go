package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheScopesKeysByUser(t *testing.T) {
	c := NewCache(&config.IdempotencyConfig{Enabled: true, TTL: time.Minute}, logger.Discard())

	c.Set("alice", "k1", &Entry{Status: http.StatusOK, Body: []byte(`{"success":true}`)})

	entry, found := c.Get("alice", "k1")
	require.True(t, found)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.JSONEq(t, `{"success":true}`, string(entry.Body))
	assert.False(t, entry.CreatedAt.IsZero())

	_, found = c.Get("bob", "k1")
	assert.False(t, found)

	_, found = c.Get("alice", "")
	assert.False(t, found)

	c.Clear()
	_, found = c.Get("alice", "k1")
	assert.False(t, found)
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(&config.IdempotencyConfig{Enabled: false, TTL: time.Minute}, logger.Discard())
	c.Set("alice", "k1", &Entry{Status: http.StatusOK})

	_, found := c.Get("alice", "k1")
	assert.False(t, found)
	c.Clear()
}

func TestCacheReserve(t *testing.T) {
	c := NewCache(&config.IdempotencyConfig{Enabled: true, TTL: time.Minute}, logger.Discard())

	_, reserved := c.Reserve("alice", "k1")
	require.True(t, reserved)

	entry, reserved := c.Reserve("alice", "k1")
	require.False(t, reserved)
	assert.True(t, entry.Pending)

	// A request in flight is not replayable
	_, found := c.Get("alice", "k1")
	assert.False(t, found)

	// Keys stay scoped by user
	_, reserved = c.Reserve("bob", "k1")
	assert.True(t, reserved)

	c.Set("alice", "k1", &Entry{Status: http.StatusOK, Body: []byte(`{}`)})
	entry, reserved = c.Reserve("alice", "k1")
	require.False(t, reserved)
	assert.False(t, entry.Pending)
	assert.Equal(t, http.StatusOK, entry.Status)

	// Finished responses survive Release
	c.Release("alice", "k1")
	_, found = c.Get("alice", "k1")
	assert.True(t, found)
}

func TestCacheReleaseFreesPendingKey(t *testing.T) {
	c := NewCache(&config.IdempotencyConfig{Enabled: true, TTL: time.Minute}, logger.Discard())

	_, reserved := c.Reserve("alice", "k1")
	require.True(t, reserved)
	c.Release("alice", "k1")

	_, reserved = c.Reserve("alice", "k1")
	assert.True(t, reserved)
}

func TestCacheReserveDisabled(t *testing.T) {
	c := NewCache(&config.IdempotencyConfig{Enabled: false}, logger.Discard())

	_, first := c.Reserve("alice", "k1")
	_, second := c.Reserve("alice", "k1")
	assert.True(t, first)
	assert.True(t, second)
	c.Release("alice", "k1")
}
