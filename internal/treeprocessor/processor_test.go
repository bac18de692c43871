package treeprocessor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/components"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/lifecycle"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/registry"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const rootSitemap = `<?xml version="1.0"?>
<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0">
  <map:components>
    <map:serializers default="bare">
      <map:serializer name="bare" src="xml"><omit-xml-declaration>true</omit-xml-declaration></map:serializer>
    </map:serializers>
  </map:components>
  <map:global-variables><skin>blue</skin></map:global-variables>
  <map:resources>
    <map:resource name="page">
      <map:generate src="docs/{name}.xml"/>
      <map:serialize/>
    </map:resource>
  </map:resources>
  <map:pipelines>
    <map:pipeline internal-only="true">
      <map:match pattern="fragment/*">
        <map:generate src="docs/{1}.xml"/>
        <map:serialize/>
      </map:match>
    </map:pipeline>
    <map:pipeline>
      <map:match pattern="docs/*.html">
        <map:generate src="docs/{1}.xml"/>
        <map:transform type="include"/>
        <map:serialize type="html"/>
      </map:match>
      <map:match pattern="nested/*/**">
        <map:match type="request-parameter" pattern="lang">
          <map:generate src="docs/{../1}-{1}.xml"/>
          <map:serialize/>
        </map:match>
      </map:match>
      <map:match pattern="select">
        <map:select type="request-parameter">
          <map:parameter name="parameter-name" value="format"/>
          <map:when test="text">
            <map:generate src="docs/a.xml"/>
            <map:serialize type="text"/>
          </map:when>
          <map:otherwise>
            <map:generate src="docs/a.xml"/>
            <map:serialize/>
          </map:otherwise>
        </map:select>
      </map:match>
      <map:match pattern="guarded">
        <map:act type="request-exists">
          <map:parameter name="parameters" value="token"/>
          <map:generate src="docs/a.xml"/>
          <map:serialize/>
        </map:act>
        <map:redirect-to uri="login?from={env:URI}"/>
      </map:match>
      <map:match pattern="old">
        <map:redirect-to uri="http://example.com/new" permanent="yes"/>
      </map:match>
      <map:match pattern="alias">
        <map:redirect-to uri="cocoon:/docs/a.html"/>
      </map:match>
      <map:match pattern="call/*">
        <map:call resource="page">
          <map:parameter name="name" value="{1}"/>
        </map:call>
      </map:match>
      <map:match pattern="skin">
        <map:act type="set-header">
          <map:parameter name="X-Skin" value="{global:skin}"/>
        </map:act>
        <map:generate src="docs/a.xml"/>
        <map:serialize/>
      </map:match>
      <map:match pattern="created">
        <map:generate src="docs/a.xml"/>
        <map:serialize status-code="201" mime-type="application/xml"/>
      </map:match>
      <map:match pattern="logo.svg">
        <map:read src="img/logo.svg"/>
      </map:match>
      <map:match pattern="sub/**">
        <map:mount src="sub/" uri-prefix="sub/"/>
      </map:match>
      <map:match pattern="lenient/**">
        <map:mount src="sub/sitemap.xmap" uri-prefix="lenient/" pass-through="true"/>
      </map:match>
      <map:match pattern="lenient/**">
        <map:generate src="docs/a.xml"/>
        <map:serialize/>
      </map:match>
      <map:match pattern="broken">
        <map:generate src="docs/missing.xml"/>
        <map:serialize/>
      </map:match>
      <map:match pattern="area/**">
        <map:mount src="sub/" uri-prefix="area"/>
      </map:match>
      <map:handle-errors>
        <map:generate type="error"/>
        <map:serialize/>
      </map:handle-errors>
    </map:pipeline>
  </map:pipelines>
</map:sitemap>`

const subSitemap = `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0">
  <map:pipelines>
    <map:pipeline>
      <map:match pattern="page">
        <map:generate src="page.xml"/>
        <map:serialize/>
      </map:match>
      <map:match pattern="up">
        <map:generate src="cocoon://fragment/a"/>
        <map:serialize/>
      </map:match>
    </map:pipeline>
  </map:pipelines>
</map:sitemap>`

type fixture struct {
	docs      *memory.Sources
	resolver  *source.Resolver
	registry  *registry.Registry
	processor *TreeProcessor
	now       time.Time
	mu        sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	docs := memory.NewSources()
	mtime := time.Unix(1000, 0)
	docs.Put("sitemap.xmap", rootSitemap, mtime)
	docs.Put("sub/sitemap.xmap", subSitemap, mtime)
	docs.Put("sub/page.xml", `<sub/>`, mtime)
	docs.Put("docs/a.xml", `<a>hello</a>`, mtime)
	docs.Put("docs/b.xml", `<b>frag</b>`, mtime)
	docs.Put("docs/x-pt.xml", `<x lang="pt"/>`, mtime)
	docs.Put("docs/index.xml", `<page xmlns:i="http://apache.org/cocoon/include/1.0"><i:include src="cocoon:/fragment/b"/></page>`, mtime)
	docs.Put("img/logo.svg", `<svg/>`, mtime)

	f := &fixture{docs: docs, now: time.Unix(5000, 0)}
	f.resolver = source.NewResolver(
		source.WithFactory(memory.Scheme, docs),
		source.WithFactory("cocoon", source.SitemapFactory{}),
		source.WithBase("memory:/"),
	)
	f.registry = registry.NewRegistry()
	components.Register(f.registry)

	opts = append([]Option{WithClock(f.clock), WithReloadDelay(time.Second)}, opts...)
	f.processor = New(memory.URI("sitemap.xmap"), f.resolver, f.registry, opts...)
	return f
}

func request(path string, params url.Values) (*domain.Environment, *bytes.Buffer) {
	var body bytes.Buffer
	return domain.NewEnvironment(&domain.Request{Path: path, Params: params}, &body), &body
}

func (f *fixture) process(t *testing.T, path string, params url.Values) (*domain.Environment, string) {
	t.Helper()
	env, body := request(path, params)
	ok, err := f.processor.Process(context.Background(), env)
	require.NoError(t, err)
	require.True(t, ok, "no match for %s", path)
	return env, body.String()
}

func TestProcess_Pipelines(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		path   string
		params url.Values
		want   string
	}{
		{"include through internal pipeline", "docs/index.html", nil, "<!DOCTYPE html>\n<page><b>frag</b></page>"},
		{"parent level variable", "nested/x/y", url.Values{"lang": {"pt"}}, `<x lang="pt"></x>`},
		{"select when", "select", url.Values{"format": {"text"}}, "hello"},
		{"select otherwise", "select", nil, "<a>hello</a>"},
		{"action with children", "guarded", url.Values{"token": {"t"}}, "<a>hello</a>"},
		{"call with parameters", "call/b", nil, "<b>frag</b>"},
		{"internal redirect", "alias", nil, "<!DOCTYPE html>\n<a>hello</a>"},
		{"mount", "sub/page", nil, "<sub></sub>"},
		{"mount to root sitemap", "sub/up", nil, "<a>hello</a>"},
		{"pass-through handled by child", "lenient/page", nil, "<sub></sub>"},
		{"pass-through falls back", "lenient/other", nil, "<a>hello</a>"},
		{"reader", "logo.svg", nil, "<svg/>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, body := f.process(t, tc.path, tc.params)
			assert.Equal(t, tc.want, body)
		})
	}
}

func TestProcess_NoMatch(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"nothing/here", "fragment/a", "nested/x/y"} {
		env, body := request(path, nil)
		ok, err := f.processor.Process(context.Background(), env)
		require.NoError(t, err, path)
		assert.False(t, ok, path)
		assert.Empty(t, body.String())
	}
}

func TestProcess_ResponseSettings(t *testing.T) {
	f := newFixture(t)

	env, _ := f.process(t, "created", nil)
	assert.Equal(t, http.StatusCreated, env.Response.Status)
	assert.Equal(t, "application/xml", env.Response.ContentType)

	env, _ = f.process(t, "logo.svg", nil)
	assert.Equal(t, "image/svg+xml", env.Response.ContentType)

	env, _ = f.process(t, "skin", nil)
	assert.Equal(t, "blue", env.Response.Header.Get("X-Skin"))

	env, body := f.process(t, "guarded", nil)
	assert.Empty(t, body)
	assert.Equal(t, "login?from=guarded", env.Response.Redirect)
	assert.False(t, env.Response.Permanent)

	env, _ = f.process(t, "old", nil)
	assert.Equal(t, "http://example.com/new", env.Response.Redirect)
	assert.True(t, env.Response.Permanent)

	env, _ = f.process(t, "alias", nil)
	assert.Equal(t, "text/html", env.Response.ContentType)
}

func TestProcess_HandleErrors(t *testing.T) {
	f := newFixture(t)

	env, body := f.process(t, "broken", nil)
	assert.Equal(t, http.StatusInternalServerError, env.Response.Status)
	assert.Contains(t, body, `<error type="*memory.NotFoundError"`)
	assert.Contains(t, body, `location="memory:/sitemap.xmap:/map:sitemap/map:pipelines/map:pipeline[2]/map:match[14]/map:serialize"`)
	_, stillSet := env.ObjectModel(domain.ObjectModelError)
	assert.False(t, stillSet)
}

func TestProcess_MountWithoutPassThrough(t *testing.T) {
	f := newFixture(t)

	env, _ := request("sub/missing", nil)
	ok, err := f.processor.Process(context.Background(), env)
	assert.False(t, ok)
	var nf *pipeline.ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "sub/missing", nf.URI)

	// the mount restored the environment context
	assert.Equal(t, "sub/missing", env.URI())
	assert.Equal(t, "", env.Prefix())
}

func TestProcess_MountPrefixWithoutSlash(t *testing.T) {
	f := newFixture(t)

	env, body := f.process(t, "area/page", nil)
	assert.Equal(t, "<sub></sub>", body)
	assert.Equal(t, "area/page", env.URI())
	assert.Equal(t, "", env.Prefix())
}

func TestBuildPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := domain.NewInternalEnvironment(nil, "call/b", nil)
	p, err := f.processor.BuildPipeline(ctx, env)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Complete())
	assert.Zero(t, f.docs.Reads("docs/b.xml"), "building must not execute the pipeline")

	var buf bytes.Buffer
	require.NoError(t, p.Write(ctx, &buf))
	assert.Equal(t, "<b>frag</b>", buf.String())

	p, err = f.processor.BuildPipeline(ctx, domain.NewInternalEnvironment(nil, "nothing", nil))
	require.NoError(t, err)
	assert.Nil(t, p)

	// internal-only pipelines are visible while building
	p, err = f.processor.BuildPipeline(ctx, domain.NewInternalEnvironment(nil, "fragment/a", nil))
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestProcess_BalancedStacks(t *testing.T) {
	f := newFixture(t)
	ctx := lifecycle.Begin(context.Background())

	for _, path := range []string{"docs/index.html", "sub/up", "broken", "sub/missing", "nothing"} {
		env, _ := request(path, nil)
		ic := NewInvokeContext(false)
		_, _ = f.processor.invoke(ctx, env, ic)
		assert.Zero(t, ic.Depth(), "map stack of %s", path)
		assert.Zero(t, lifecycle.Depth(ctx), "environment stack of %s", path)
	}
	assert.NoError(t, lifecycle.Check(ctx))
}

// failingAction fails after the enclosing matcher pushed its map.
type failingAction struct{}

func (failingAction) Act(context.Context, pipeline.Setup) (map[string]string, error) {
	return nil, errors.New("action failed")
}

// leakingAction borrows a component for the request, then enters an
// environment and never leaves it.
type leakingAction struct {
	borrowed *releaseCounter
}

func (a leakingAction) Act(ctx context.Context, s pipeline.Setup) (map[string]string, error) {
	if a.borrowed != nil {
		if err := lifecycle.AddForAutomaticRelease(ctx, a.borrowed); err != nil {
			return nil, err
		}
	}
	return nil, lifecycle.Enter(ctx, lifecycle.Entry{Env: s.Env})
}

type releaseCounter struct {
	n atomic.Int32
}

func (c *releaseCounter) Release(context.Context) error {
	c.n.Add(1)
	return nil
}

func TestProcess_MapStackPoppedOnError(t *testing.T) {
	f := newFixture(t)
	f.registry.MustRegister(registry.KindAction, "fail", failingAction{})
	f.docs.Put("sitemap.xmap", `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0"><map:pipelines><map:pipeline>
	  <map:match pattern="*"><map:match pattern="{1}"><map:act type="fail"/></map:match></map:match>
	</map:pipeline></map:pipelines></map:sitemap>`, time.Unix(2000, 0))

	env, _ := request("x", nil)
	ic := NewInvokeContext(false)
	_, err := f.processor.invoke(context.Background(), env, ic)
	require.Error(t, err)
	var pe *ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.SitemapLocation(), "map:act")
	assert.Zero(t, ic.Depth())
}

func TestProcess_EnvironmentLeakIsFatal(t *testing.T) {
	f := newFixture(t)
	borrowed := &releaseCounter{}
	f.registry.MustRegister(registry.KindAction, "leak", leakingAction{borrowed: borrowed})
	f.docs.Put("sitemap.xmap", `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0"><map:pipelines><map:pipeline>
	  <map:match pattern="*"><map:act type="leak"/></map:match>
	</map:pipeline></map:pipelines></map:sitemap>`, time.Unix(2000, 0))

	env, _ := request("x", nil)
	ok, err := f.processor.Process(context.Background(), env)
	assert.False(t, ok)
	assert.ErrorIs(t, err, lifecycle.ErrEnvironmentLeak)
	// request-owned components are released even though the stack leaked
	assert.Equal(t, int32(1), borrowed.n.Load())
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, body := f.process(t, "docs/index.html", nil)
	assert.NotEmpty(t, body)
	assert.EqualValues(t, 1, f.processor.Builds())

	f.docs.Put("sitemap.xmap", `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0"><map:pipelines><map:pipeline>
	  <map:match pattern="new"><map:generate src="docs/a.xml"/><map:serialize type="text"/></map:match>
	</map:pipeline></map:pipelines></map:sitemap>`, time.Unix(3000, 0))

	// within the reload delay the old tree is served
	f.advance(500 * time.Millisecond)
	_, body = f.process(t, "docs/index.html", nil)
	assert.NotEmpty(t, body)
	assert.EqualValues(t, 1, f.processor.Builds())

	f.advance(time.Second)
	_, body = f.process(t, "new", nil)
	assert.Equal(t, "hello", body)
	assert.EqualValues(t, 2, f.processor.Builds())

	// unchanged source: no rebuild
	f.advance(time.Hour)
	_, _ = f.process(t, "new", nil)
	assert.EqualValues(t, 2, f.processor.Builds())

	// a broken update keeps the previous tree and reports the error
	f.docs.Put("sitemap.xmap", `<map:sitemap xmlns:map="http://apache.org/cocoon/sitemap/1.0"><map:pipelines><map:bogus/></map:pipelines></map:sitemap>`, time.Unix(4000, 0))
	f.advance(time.Hour)
	env, _ := request("new", nil)
	_, err := f.processor.Process(ctx, env)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.EqualValues(t, 2, f.processor.Builds())

	// the previous tree is still served until the next check
	_, body = f.process(t, "new", nil)
	assert.Equal(t, "hello", body)
}

func TestReload_SingleRebuildUnderConcurrency(t *testing.T) {
	var rebuilds atomic.Int32
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnTreeRebuild: func(context.Context, *domain.TreeEvent) { rebuilds.Add(1) },
	}))
	f.process(t, "select", nil)

	f.docs.Put("sitemap.xmap", rootSitemap, time.Unix(9000, 0))
	f.advance(2 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, _ := request("select", nil)
			ok, err := f.processor.Process(context.Background(), env)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, f.processor.Builds())
	assert.EqualValues(t, 2, rebuilds.Load())
}

func TestReload_Disabled(t *testing.T) {
	f := newFixture(t, WithCheckReload(false))
	f.process(t, "select", nil)

	f.docs.Put("sitemap.xmap", rootSitemap, time.Unix(9000, 0))
	f.advance(time.Hour)
	f.process(t, "select", nil)
	assert.EqualValues(t, 1, f.processor.Builds())

	f.processor.Invalidate()
	f.process(t, "select", nil)
	assert.EqualValues(t, 2, f.processor.Builds())

	require.NoError(t, f.processor.Reload(context.Background()))
	assert.EqualValues(t, 3, f.processor.Builds())
}

func TestWatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, WithCheckReload(false))
	f.process(t, "select", nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.processor.Watch(ctx, f.docs))

	f.docs.Put("docs/c.xml", "<c/>", time.Unix(1, 0))
	require.Eventually(t, func() bool { return f.processor.dirty.Load() }, time.Second, 5*time.Millisecond)

	f.process(t, "select", nil)
	assert.EqualValues(t, 2, f.processor.Builds())
	cancel()
}

func TestHooks(t *testing.T) {
	var mu sync.Mutex
	var nodes []string
	var requests []*domain.RequestEvent
	f := newFixture(t, WithHooks(domain.LifecycleHooks{
		OnNodeInvoke: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			if e.Matched {
				nodes = append(nodes, e.Kind)
			}
		},
		OnRequest: func(_ context.Context, e *domain.RequestEvent) {
			mu.Lock()
			defer mu.Unlock()
			requests = append(requests, e)
		},
	}))

	f.process(t, "guarded", url.Values{"token": {"t"}})
	assert.Equal(t, []string{"match", "act"}, nodes)
	require.Len(t, requests, 1, "nested processors do not report requests")
	assert.Equal(t, "guarded", requests[0].URI)
	assert.True(t, requests[0].Matched)
}

func TestTree(t *testing.T) {
	f := newFixture(t)
	root, err := f.processor.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pipelines", root.Kind())
	require.Len(t, root.Children(), 2)

	first := root.Children()[0]
	assert.Equal(t, "pipeline", first.Kind())
	assert.Equal(t, "internal-only", first.Label())
	match := first.Children()[0]
	assert.Equal(t, "match", match.Kind())
	assert.Equal(t, "wildcard fragment/*", match.Label())
	assert.Equal(t, "generate", match.Children()[0].Kind())
	assert.Equal(t, "file docs/{1}.xml", match.Children()[0].Label())
}
