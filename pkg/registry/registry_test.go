package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/registry"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noopGen = pipeline.GeneratorFunc(func(context.Context, pipeline.Setup, sax.ContentHandler) error { return nil })

func TestRegistry_LookupAndDefault(t *testing.T) {
	r := registry.NewRegistry()
	require.NoError(t, r.Register(registry.KindGenerator, "file", noopGen))
	r.SetDefault(registry.KindGenerator, "file")

	e, err := r.Lookup(registry.KindGenerator, "")
	require.NoError(t, err)
	assert.Equal(t, "file", e.Name)

	_, err = r.Lookup(registry.KindGenerator, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = r.Lookup(registry.KindSerializer, "")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_KindMismatch(t *testing.T) {
	r := registry.NewRegistry()
	err := r.Register(registry.KindSerializer, "bad", noopGen)
	assert.Error(t, err)
	assert.Panics(t, func() { r.MustRegister(registry.KindMatcher, "bad", noopGen) })
}

func TestRegistry_ChildLayering(t *testing.T) {
	parent := registry.NewRegistry()
	parent.MustRegister(registry.KindGenerator, "file", noopGen)
	parent.SetDefault(registry.KindGenerator, "file")

	child := parent.Child()
	require.NoError(t, child.Alias(registry.KindGenerator, "page", "file", domain.Parameters{"root": "docs"}))
	child.SetDefault(registry.KindGenerator, "page")

	e, err := child.Lookup(registry.KindGenerator, "")
	require.NoError(t, err)
	assert.Equal(t, "page", e.Name)
	assert.Equal(t, "docs", e.Params.Get("root", ""))

	// the parent is untouched
	_, err = parent.Lookup(registry.KindGenerator, "page")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, "file", parent.Default(registry.KindGenerator))

	assert.Equal(t, []string{"file", "page"}, child.Names(registry.KindGenerator))
}
