package source_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/aretw0/cocoon/pkg/validity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheme(t *testing.T) {
	cases := map[string]string{
		"file:///tmp/a.xml":    "file",
		"cocoon:/page":         "cocoon",
		"cached:http://x/y":    "cached",
		"docs/a.xml":           "",
		`C:\docs\a.xml`:        "",
		"HTTP://example.org/x": "http",
	}
	for in, want := range cases {
		assert.Equal(t, want, source.Scheme(in), in)
	}
}

func TestResolver_Absolute(t *testing.T) {
	r := source.NewResolver(source.WithBase("file:///site/"))

	assert.Equal(t, "file:///site/docs/a.xml", r.Absolute("docs/a.xml", ""))
	assert.Equal(t, "file:///other/b.xml", r.Absolute("b.xml", "file:///other/index.xml"))
	assert.Equal(t, "file:///etc/x.xml", r.Absolute("/etc/x.xml", ""))
	assert.Equal(t, "memory:/a.xml", r.Absolute("memory:/a.xml", "file:///ignored/"))
	assert.Equal(t, "memory:/dir/a.xml", r.Absolute("a.xml", "memory:/dir/"))
}

func TestResolver_UnknownScheme(t *testing.T) {
	r := source.NewResolver()
	_, err := r.Resolve(context.Background(), "gopher://x", "")
	assert.ErrorIs(t, err, source.ErrUnknownScheme)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "page.xml")
	require.NoError(t, os.WriteFile(p, []byte("<page/>"), 0o644))

	ctx := context.Background()
	r := source.NewResolver(source.WithBase(dir))
	src, err := r.Resolve(ctx, "page.xml", "")
	require.NoError(t, err)

	ok, err := src.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), src.ContentLength())
	assert.Equal(t, "file", src.Scheme())
	assert.IsType(t, validity.TimeStamp{}, src.Validity())

	rc, err := src.Open(ctx)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "<page/>", string(data))

	missing, err := r.Resolve(ctx, "nope.xml", "")
	require.NoError(t, err)
	ok, err = missing.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, missing.Validity())

	_, err = missing.Open(ctx)
	var ioErr *source.IOError
	assert.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDirectory(t *testing.T) {
	assert.Equal(t, "file:///site/sub/", source.Directory("file:///site/sub/sitemap.xmap"))
}

// newMemoryResolver wires an in-memory document tree under the memory: scheme.
func newMemoryResolver(docs *memory.Sources) *source.Resolver {
	return source.NewResolver(source.WithFactory(memory.Scheme, docs), source.WithBase("memory:/"))
}
