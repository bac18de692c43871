package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405")

	t.Run("Store and Get", func(t *testing.T) {
		key := prefix + ":a"
		require.NoError(t, store.Store(ctx, key, []byte(`{"v":1}`)))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := prefix + ":b"
		require.NoError(t, store.Store(ctx, key, []byte("one")))
		require.NoError(t, store.Store(ctx, key, []byte("two")))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, prefix+":missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		key := prefix + ":c"
		require.NoError(t, store.Store(ctx, key, []byte("x")))
		require.NoError(t, store.Remove(ctx, key))

		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound, "Get after Remove should return ErrNotFound")

		assert.NoError(t, store.Remove(ctx, key), "removing twice is not an error")
	})

	t.Run("Keys", func(t *testing.T) {
		k1, k2 := prefix+":k1", prefix+":k2"
		require.NoError(t, store.Store(ctx, k1, []byte("1")))
		require.NoError(t, store.Store(ctx, k2, []byte("2")))
		defer func() {
			_ = store.Remove(ctx, k1)
			_ = store.Remove(ctx, k2)
		}()

		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, k1)
		assert.Contains(t, keys, k2)
	})

	t.Run("Returned value is a copy", func(t *testing.T) {
		key := prefix + ":d"
		require.NoError(t, store.Store(ctx, key, []byte("abc")))
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		got[0] = 'z'

		again, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(again))
	})
}
