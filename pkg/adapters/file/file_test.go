package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/file"
	"github.com/aretw0/cocoon/pkg/ports"
	contract "github.com/aretw0/cocoon/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, file.NewStore(t.TempDir()))
}

func TestFileStore_EscapesKeys(t *testing.T) {
	dir := t.TempDir()
	store := file.NewStore(dir)
	ctx := context.Background()

	key := "source:file:///var/www/index.xml:main"
	require.NoError(t, store.Store(ctx, key, []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
	assert.NotContains(t, entries[0].Name(), "/")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	empty, err := file.NewStore(filepath.Join(dir, "missing")).Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestFileLoader_Contract(t *testing.T) {
	root := t.TempDir()
	data := map[ports.ProfileKey][]byte{
		{Tier: ports.TierGlobal, Part: ports.PartCopletDefinitions}:             []byte("- id: news\n"),
		{Tier: ports.TierGroup, Name: "staff", Part: ports.PartLayout}:          []byte("type: tab\n"),
		{Tier: ports.TierUser, Name: "ann", Part: ports.PartCopletInstances}:    []byte("- id: news-1\n"),
		{Tier: ports.TierGroup, Name: "staff", Part: ports.PartCopletInstances}: []byte("[]\n"),
	}
	loader := file.NewLoader(root)
	for key, content := range data {
		p, err := loader.Path(key)
		require.NoError(t, err)
		writeFile(t, p, string(content))
	}

	contract.ProfileLoaderContractTest(t, loader, data)
}

func TestFileLoader_Path(t *testing.T) {
	loader := file.NewLoader("/profiles")

	p, err := loader.Path(ports.ProfileKey{Tier: ports.TierUser, Name: "ann", Part: ports.PartLayout})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/profiles", "users", "ann", "layout.yaml"), p)

	for _, key := range []ports.ProfileKey{
		{Tier: ports.TierUser, Name: "../etc", Part: ports.PartLayout},
		{Tier: ports.TierUser, Name: "..", Part: ports.PartLayout},
		{Tier: "planet", Part: ports.PartLayout},
	} {
		_, err := loader.Path(key)
		assert.Error(t, err, "%+v", key)
	}
}

func TestWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "sitemap.xmap"), "<map:sitemap/>")

	ctx, cancel := context.WithCancel(context.Background())
	w := file.NewWatcher(dir, file.WithDebounce(10*time.Millisecond))
	ch, err := w.Watch(ctx)
	require.NoError(t, err)

	// a burst of writes is delivered as (at most) one pending signal
	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(dir, "sub", "sitemap.xmap"), "<map:sitemap/>")
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	cancel()
	assert.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-ch:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := file.NewWatcher(filepath.Join(t.TempDir(), "nope"))
	_, err := w.Watch(context.Background())
	assert.Error(t, err)
}
