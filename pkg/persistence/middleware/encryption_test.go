package middleware_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/persistence/middleware"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func encrypted(t *testing.T, cfg middleware.EncryptionConfig, next ports.Store) ports.Store {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(next)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunStoreContract(t, encrypted(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	secure := encrypted(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, underlying)

	secret := []byte("<page>my-secret-sauce</page>")
	require.NoError(t, secure.Store(ctx, "page", secret))

	raw, err := underlying.Get(ctx, "page")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("secret")), "value stored in clear text")

	got, err := secure.Get(ctx, "page")
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	keys, err := secure.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"page"}, keys)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	ctx := context.Background()
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)

	old := encrypted(t, middleware.EncryptionConfig{ActiveKey: oldKey}, underlying)
	require.NoError(t, old.Store(ctx, "k", []byte("v1")))

	rotated := encrypted(t, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}}, underlying)
	got, err := rotated.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	withoutFallback := encrypted(t, middleware.EncryptionConfig{ActiveKey: newKey}, underlying)
	_, err = withoutFallback.Get(ctx, "k")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestEncryptionMiddleware_Errors(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.ErrorIs(t, err, middleware.ErrKeySize)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.ErrorIs(t, err, middleware.ErrKeySize)

	secure := encrypted(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, memory.NewStore())
	_, err = secure.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

type recordingStore struct {
	next  ports.Store
	name  string
	calls *[]string
}

func (s recordingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.next.Get(ctx, key)
}

func (s recordingStore) Store(ctx context.Context, key string, value []byte) error {
	*s.calls = append(*s.calls, s.name)
	return s.next.Store(ctx, key, value)
}

func (s recordingStore) Remove(ctx context.Context, key string) error {
	return s.next.Remove(ctx, key)
}

func (s recordingStore) Keys(ctx context.Context) ([]string, error) {
	return s.next.Keys(ctx)
}

func TestChain(t *testing.T) {
	var calls []string
	record := func(name string) middleware.Middleware {
		return func(next ports.Store) ports.Store {
			return recordingStore{next: next, name: name, calls: &calls}
		}
	}

	store := middleware.Chain(memory.NewStore(), record("outer"), record("inner"))
	require.NoError(t, store.Store(context.Background(), "k", []byte("v")))
	assert.Equal(t, []string{"outer", "inner"}, calls)
}
