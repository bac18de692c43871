package portal_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/portal"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/portal/renderer"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T) (*portal.Generator, pipeline.Setup) {
	t.Helper()
	loader := memory.NewLoader(map[ports.ProfileKey]string{
		{Tier: ports.TierGlobal, Part: ports.PartCopletDefinitions}: `[{id: hello, title: Hello, uri: hello.xml}]`,
		{Tier: ports.TierGlobal, Part: ports.PartCopletInstances}:   `[{id: hello-1, definition: hello}]`,
		{Tier: ports.TierGlobal, Part: ports.PartLayout}: `
id: root
type: column
items:
  - layout: {id: greeting, type: coplet, coplet: hello-1}
`,
	})
	profiles, err := profile.NewGroupBasedManager(loader)
	require.NoError(t, err)
	set, err := renderer.DefaultSet()
	require.NoError(t, err)

	docs := memory.NewSources()
	docs.Put("portal/hello.xml", `<p>hi</p>`, time.Unix(1, 0))
	s := pipeline.Setup{
		Env:      domain.NewEnvironment(&domain.Request{Path: "portal"}, nil),
		Resolver: source.NewResolver(source.WithFactory(memory.Scheme, docs)),
		Base:     "memory:/portal/",
		Params:   domain.Parameters{},
		Location: "sitemap.xmap:/map:sitemap/map:pipelines/map:pipeline/map:match/map:generate",
	}
	return portal.NewGenerator(profiles, set), s
}

func generate(t *testing.T, g *portal.Generator, s pipeline.Setup) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := g.Generate(context.Background(), s, sax.NewWriter(&buf))
	return buf.String(), err
}

func TestGenerator_RendersUserLayout(t *testing.T) {
	g, s := newGenerator(t)
	s.Env.SetObjectModel(domain.ObjectModelUser, "ann")

	got, err := generate(t, g, s)
	require.NoError(t, err)
	assert.Equal(t, `<portal user="ann"><column id="root"><item>`+
		`<coplet id="greeting"><title size="normal">Hello</title><content><p>hi</p></content></coplet>`+
		`</item></column></portal>`, got)
}

func TestGenerator_LayoutParameter(t *testing.T) {
	g, s := newGenerator(t)
	s.Params = domain.Parameters{"user": "bob", "layout": "greeting"}

	got, err := generate(t, g, s)
	require.NoError(t, err)
	assert.Equal(t, `<portal user="bob"><coplet id="greeting"><title size="normal">Hello</title><content><p>hi</p></content></coplet></portal>`, got)

	s.Params["layout"] = "nope"
	_, err = generate(t, g, s)
	assert.ErrorContains(t, err, `unknown layout "nope"`)
}

func TestGenerator_NoUser(t *testing.T) {
	g, s := newGenerator(t)
	_, err := generate(t, g, s)
	assert.ErrorIs(t, err, portal.ErrNoUser)

	user, err := portal.User(pipeline.Setup{Params: domain.Parameters{"user": "cid"}})
	require.NoError(t, err)
	assert.Equal(t, "cid", user)
}
