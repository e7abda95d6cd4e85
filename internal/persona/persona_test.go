package persona

import (
	"errors"
	"testing"

	"github.com/private-symposium-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	r := NewRegistry(nil)

	key, err := r.ConversationKey("zephyr", false)
	require.NoError(t, err)
	assert.Equal(t, "zephyr", key)

	key, err = r.ConversationKey("zephyr", true)
	require.NoError(t, err)
	assert.Equal(t, RoundTableKey, key)

	key, err = r.ConversationKey("", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultID, key)

	_, err = r.ConversationKey("diogenes", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestSeedPromptAndOverrides(t *testing.T) {
	r := NewRegistry(map[string]string{
		"kairos":      "custom kairos",
		RoundTableKey: "custom table",
		"eudora":      "   ",
	})

	assert.Equal(t, "custom kairos", r.SeedPrompt("kairos"))
	assert.Equal(t, "custom table", r.SeedPrompt(RoundTableKey))
	assert.Contains(t, r.SeedPrompt("eudora"), "Eudora")
}

func TestValidKey(t *testing.T) {
	r := NewRegistry(nil)
	for _, key := range []string{"eudora", "liming", "zephyr", "kairos", "roundtable"} {
		assert.True(t, r.ValidKey(key), key)
	}
	assert.False(t, r.ValidKey("Eudora"))
	assert.False(t, r.ValidKey(""))
}

func TestByName(t *testing.T) {
	r := NewRegistry(nil)

	p, ok := r.ByName("Li Ming")
	require.True(t, ok)
	assert.Equal(t, "liming", p.ID)

	p, ok = r.ByName("li  ming")
	require.True(t, ok)
	assert.Equal(t, "liming", p.ID)

	_, ok = r.ByName("Plato")
	assert.False(t, ok)
}

func TestAllOrder(t *testing.T) {
	ids := []string{}
	for _, p := range NewRegistry(nil).All() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"eudora", "liming", "zephyr", "kairos"}, ids)
}
