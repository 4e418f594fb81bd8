package cachegc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache, err := New(2, 10*time.Second)
	require.NoError(t, err)
	now := time.Unix(100, 0)
	cache.Clock = func() time.Time { return now }

	cache.Add("a", int64(1))
	cache.Add("b", int64(2))
	v, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	// Size bound evicts the least recently used entry.
	cache.Add("c", int64(3))
	_, ok = cache.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	// Entries expire after the TTL.
	now = now.Add(11 * time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "expired entries are collected")

	cache.Add("d", int64(4))
	cache.Remove("d")
	_, ok = cache.Get("d")
	assert.False(t, ok)
}
