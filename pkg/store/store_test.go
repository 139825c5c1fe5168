package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract checks the primitives every backend must provide
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "contract/missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put if absent", func(t *testing.T) {
		ok, err := s.PutIfAbsent(ctx, "contract/put", "first", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.PutIfAbsent(ctx, "contract/put", "second", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "second put must not overwrite")

		value, ok, err := s.Get(ctx, "contract/put")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "first", value)
	})

	t.Run("compare and delete", func(t *testing.T) {
		ok, err := s.PutIfAbsent(ctx, "contract/cad", "mine", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		deleted, err := s.CompareAndDelete(ctx, "contract/cad", "theirs")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.CompareAndDelete(ctx, "contract/cad", "mine")
		require.NoError(t, err)
		assert.True(t, deleted)

		_, ok, err = s.Get(ctx, "contract/cad")
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err = s.CompareAndDelete(ctx, "contract/cad", "mine")
		require.NoError(t, err)
		assert.False(t, deleted, "deleting twice is a no-op")

		ok, err = s.PutIfAbsent(ctx, "contract/cad", "again", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "key is free after delete")
	})

	t.Run("independent keys", func(t *testing.T) {
		ok, err := s.PutIfAbsent(ctx, "contract/a", "x", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.PutIfAbsent(ctx, "contract/b", "x", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

// runConcurrentPut checks that exactly one of many concurrent writers wins
func runConcurrentPut(t *testing.T, s Store, writers int) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, writers)
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = s.PutIfAbsent(ctx, "contended", fmt.Sprintf("writer-%d", idx), time.Minute)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
