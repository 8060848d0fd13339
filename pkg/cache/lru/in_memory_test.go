package lru

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLRUInMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	cache := NewCacheLRUInMemory[string, int](4)

	_, found, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "a", 1))
	value, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, value)

	// overwriting keeps a single entry
	require.NoError(t, cache.Set(ctx, "a", 2))
	value, _, _ = cache.Get(ctx, "a")
	assert.Equal(t, 2, value)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheLRUInMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache := NewCacheLRUInMemory[string, int](2)

	require.NoError(t, cache.Set(ctx, "a", 1))
	require.NoError(t, cache.Set(ctx, "b", 2))

	// touching "a" makes "b" the eviction candidate
	_, _, _ = cache.Get(ctx, "a")
	require.NoError(t, cache.Set(ctx, "c", 3))

	_, found, _ := cache.Get(ctx, "b")
	assert.False(t, found, "b was least recently used and must be evicted")
	_, found, _ = cache.Get(ctx, "a")
	assert.True(t, found)
	_, found, _ = cache.Get(ctx, "c")
	assert.True(t, found)
	assert.Equal(t, 2, cache.Len())
}

func TestCacheLRUInMemory_Delete(t *testing.T) {
	ctx := context.Background()
	cache := NewCacheLRUInMemory[string, int](4)

	require.NoError(t, cache.Set(ctx, "a", 1))
	require.NoError(t, cache.Set(ctx, "b", 2))

	require.NoError(t, cache.Delete(ctx, "a"))
	_, found, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, cache.Len())

	// deleting an absent key is a no-op
	require.NoError(t, cache.Delete(ctx, "a"))
	assert.Equal(t, 1, cache.Len())
}

func TestCacheLRUInMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cache := NewCacheLRUInMemory[string, int](64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%32)
				_ = cache.Set(ctx, key, worker)
				_, _, _ = cache.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 64)
}
