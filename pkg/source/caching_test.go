package source_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx      context.Context
	clock    *fakeClock
	docs     *memory.Sources
	store    *memory.Store
	resolver *source.Resolver
	factory  *source.CachingFactory
}

func newFixture(t *testing.T, opts ...source.CachingOption) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		clock: &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		docs:  memory.NewSources(),
		store: memory.NewStore(),
	}
	f.docs.Put("a.xml", "<a>one</a>", f.clock.Now().Add(-time.Hour))
	f.resolver = newMemoryResolver(f.docs)
	opts = append([]source.CachingOption{source.WithClock(f.clock.Now)}, opts...)
	f.factory = source.NewCachingFactory(f.store, opts...)
	f.resolver.Register("cached", f.factory)
	return f
}

func (f *fixture) open(t *testing.T, uri string) *source.CachingSource {
	t.Helper()
	src, err := f.resolver.Resolve(f.ctx, uri, "")
	require.NoError(t, err)
	cs, ok := src.(*source.CachingSource)
	require.True(t, ok)
	return cs
}

func read(t *testing.T, src ports.Source) string {
	t.Helper()
	rc, err := src.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func text(t *testing.T, src ports.XMLSource) string {
	t.Helper()
	c := &textCollector{}
	require.NoError(t, src.ToSAX(context.Background(), c))
	return c.text
}

type textCollector struct {
	sax.Base
	text string
}

func (c *textCollector) Characters(b []byte) error {
	c.text += string(b)
	return nil
}

func TestParseCachedURI(t *testing.T) {
	wrapped, params, err := source.ParseCachedURI(
		"cached:http://host/feed?lang=en&cocoon:cache-expires=120&cocoon:cache-name=feed&cocoon:cache-async=true",
		source.CacheParams{Expires: 60},
	)
	require.NoError(t, err)
	assert.Equal(t, "http://host/feed?lang=en", wrapped)
	assert.Equal(t, source.CacheParams{Expires: 120, Name: "feed", Async: true}, params)
	assert.Equal(t, 120*time.Second, params.TTL())
	assert.Equal(t, "source:http://host/feed?lang=en:feed", source.CacheKey(wrapped, params.Name))

	wrapped, params, err = source.ParseCachedURI("cached:memory:/a.xml", source.CacheParams{Expires: 60})
	require.NoError(t, err)
	assert.Equal(t, "memory:/a.xml", wrapped)
	assert.Equal(t, 60, params.Expires)

	_, _, err = source.ParseCachedURI("cached:x?cocoon:cache-expires=soon", source.CacheParams{})
	assert.Error(t, err)

	_, _, err = source.ParseCachedURI("file:///x", source.CacheParams{})
	assert.Error(t, err)
}

// The 30s / 61s scenario with cache-expires=60.
func TestCachingSource_ExpiryScenario(t *testing.T) {
	f := newFixture(t)
	uri := "cached:memory:/a.xml?cocoon:cache-expires=60"

	first := f.open(t, uri)
	assert.Equal(t, "<a>one</a>", read(t, first))
	assert.Equal(t, "one", text(t, first))
	assert.Equal(t, 2, f.docs.Reads("a.xml"))

	// 30s later: still within expiry, refresh is a no-op
	f.clock.Advance(30 * time.Second)
	require.NoError(t, first.Refresh(f.ctx))
	assert.Equal(t, source.StateServing, first.State())
	assert.Equal(t, "<a>one</a>", read(t, first))
	assert.Equal(t, 2, f.docs.Reads("a.xml"))

	// 61s: expired, but the source did not change; bytes are not refetched
	f.clock.Advance(31 * time.Second)
	second := f.open(t, uri)
	assert.Equal(t, "<a>one</a>", read(t, second))
	assert.Equal(t, "one", text(t, second))
	assert.Equal(t, 2, f.docs.Reads("a.xml"))

	// the source changes and the renewed expiry runs out: both cached
	// representations are repopulated, meta was never populated and stays so
	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(61 * time.Second)
	require.NoError(t, second.Refresh(f.ctx))
	meta, binary, xmlCached := second.Cached()
	assert.False(t, meta)
	assert.True(t, binary)
	assert.True(t, xmlCached)
	assert.Equal(t, 4, f.docs.Reads("a.xml"))
	assert.Equal(t, "<a>two</a>", read(t, second))
	assert.Equal(t, "two", text(t, second))
	assert.Equal(t, 4, f.docs.Reads("a.xml"))
}

func TestCachingSource_OnlyPopulatedRepresentationsAreRefetched(t *testing.T) {
	f := newFixture(t)
	uri := "cached:memory:/a.xml?cocoon:cache-expires=10"

	s := f.open(t, uri)
	assert.Equal(t, "<a>one</a>", read(t, s))

	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(11 * time.Second)
	require.NoError(t, s.Refresh(f.ctx))

	meta, binary, xmlCached := s.Cached()
	assert.False(t, meta)
	assert.True(t, binary)
	assert.False(t, xmlCached)
	assert.Equal(t, 2, f.docs.Reads("a.xml"))
}

func TestCachingSource_NeverExpires(t *testing.T) {
	f := newFixture(t)
	uri := "cached:memory:/a.xml?cocoon:cache-expires=-1"

	assert.Equal(t, "<a>one</a>", read(t, f.open(t, uri)))

	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(365 * 24 * time.Hour)

	again := f.open(t, uri)
	require.NoError(t, again.Refresh(f.ctx))
	assert.Equal(t, "<a>one</a>", read(t, again))
	assert.Equal(t, 1, f.docs.Reads("a.xml"))
}

func TestCachingSource_ZeroExpiresAlwaysRefetches(t *testing.T) {
	f := newFixture(t)
	uri := "cached:memory:/a.xml?cocoon:cache-expires=0"

	assert.Equal(t, "<a>one</a>", read(t, f.open(t, uri)))
	assert.Equal(t, "<a>one</a>", read(t, f.open(t, uri)))
	assert.Equal(t, 2, f.docs.Reads("a.xml"))

	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	assert.Equal(t, "<a>two</a>", read(t, f.open(t, uri)))
}

func TestCachingSource_NamesSeparateEntries(t *testing.T) {
	f := newFixture(t)
	read(t, f.open(t, "cached:memory:/a.xml?cocoon:cache-name=one"))
	read(t, f.open(t, "cached:memory:/a.xml?cocoon:cache-name=two"))

	keys, err := f.store.Keys(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"source:memory:/a.xml:one", "source:memory:/a.xml:two"}, keys)
}

func TestCachingSource_AsyncTrustsCacheUntilRefreshed(t *testing.T) {
	refresher := source.NewRefresher(time.Hour)
	f := newFixture(t, source.WithRefresher(refresher))
	uri := "cached:memory:/a.xml?cocoon:cache-expires=30&cocoon:cache-async=true"

	assert.Equal(t, "<a>one</a>", read(t, f.open(t, uri)))
	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(time.Minute)

	stale := f.open(t, uri)
	assert.Equal(t, "<a>one</a>", read(t, stale))
	assert.Equal(t, 1, refresher.Len())

	require.NoError(t, refresher.RefreshAll(f.ctx))
	assert.Equal(t, "<a>two</a>", read(t, stale))
}

func TestCachingSource_Meta(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "cached:memory:/a.xml")

	exists, err := s.Exists(f.ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(len("<a>one</a>")), s.ContentLength())
	assert.Equal(t, f.clock.Now().Add(-time.Hour), s.LastModified())
	assert.Equal(t, 0, f.docs.Reads("a.xml"), "meta does not read the content")

	meta, binary, xmlCached := s.Cached()
	assert.True(t, meta)
	assert.False(t, binary)
	assert.False(t, xmlCached)
	assert.NotNil(t, s.Validity())
}

func TestCachingSource_Hooks(t *testing.T) {
	var mu sync.Mutex
	events := map[domain.EventType]int{}
	count := func(_ context.Context, e *domain.CacheEvent) {
		mu.Lock()
		defer mu.Unlock()
		events[e.Type]++
	}
	f := newFixture(t, source.WithCacheHooks(domain.LifecycleHooks{
		OnCacheHit: count, OnCacheMiss: count, OnCacheRefresh: count,
	}))
	uri := "cached:memory:/a.xml?cocoon:cache-expires=5"

	read(t, f.open(t, uri)) // entry miss + binary miss
	read(t, f.open(t, uri)) // entry hit + binary hit
	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(10 * time.Second)
	read(t, f.open(t, uri)) // entry hit, refresh, binary hit

	assert.Equal(t, 2, events[domain.EventCacheMiss])
	assert.Equal(t, 4, events[domain.EventCacheHit])
	assert.Equal(t, 1, events[domain.EventCacheRefresh])
}

type countingLocker struct {
	mu    sync.Mutex
	locks []string
}

func (l *countingLocker) Lock(_ context.Context, key string, _ time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = append(l.locks, key)
	return func(context.Context) error { return nil }, nil
}

func TestCachingSource_PopulateAndRepopulateTakeLock(t *testing.T) {
	locker := &countingLocker{}
	f := newFixture(t, source.WithLocker(locker))
	uri := "cached:memory:/a.xml?cocoon:cache-expires=5"

	read(t, f.open(t, uri))
	assert.Equal(t, []string{"source:memory:/a.xml"}, locker.locks)

	// repopulation refetches the binary under one lock
	f.docs.Put("a.xml", "<a>two</a>", f.clock.Now())
	f.clock.Advance(10 * time.Second)
	read(t, f.open(t, uri))
	assert.Equal(t, []string{"source:memory:/a.xml", "source:memory:/a.xml"}, locker.locks)
}

func TestCachingSource_RepresentationsFromSeparateInstancesMerge(t *testing.T) {
	f := newFixture(t)
	uri := "cached:memory:/a.xml?cocoon:cache-expires=60"

	// both instances initialize from the same empty entry
	binary := f.open(t, uri)
	xml := f.open(t, uri)
	assert.Equal(t, "<a>one</a>", read(t, binary))
	assert.Equal(t, "one", text(t, xml))

	// the entry holds both representations; neither write dropped the other
	again := f.open(t, uri)
	_, hasBinary, hasXML := again.Cached()
	assert.True(t, hasBinary)
	assert.True(t, hasXML)
	assert.Equal(t, 2, f.docs.Reads("a.xml"))
	assert.Equal(t, "<a>one</a>", read(t, again))
	assert.Equal(t, "one", text(t, again))
	assert.Equal(t, 2, f.docs.Reads("a.xml"))
}

func TestCachingSource_IOError(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "cached:memory:/missing.xml")

	_, err := s.Open(f.ctx)
	var ioErr *source.IOError
	require.ErrorAs(t, err, &ioErr)
	var notFound *memory.NotFoundError
	assert.True(t, errors.As(err, &notFound))

	exists, err := s.Exists(f.ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCachingSource_CorruptEntryIsDiscarded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Store(f.ctx, "source:memory:/a.xml", []byte("{not json")))

	s := f.open(t, "cached:memory:/a.xml")
	assert.Equal(t, "<a>one</a>", read(t, s))
}
