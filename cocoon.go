package cocoon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/internal/treeprocessor"
	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/components"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/portal"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/portal/renderer"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/registry"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/aretw0/cocoon/pkg/validity"
)

// Version of the cocoon module.
var Version = "0.1.0"

// ErrNoProfiles is returned by profile operations on an engine created
// without WithProfiles.
var ErrNoProfiles = errors.New("profiles not configured")

// DefaultRefreshInterval is how often async cached: sources are refreshed.
const DefaultRefreshInterval = 10 * time.Second

// Engine is the high-level entry point. It wires the sitemap processor with
// the built-in components, the source resolver, the caching source and,
// when profiles are configured, the portal generator.
type Engine struct {
	processor *treeprocessor.TreeProcessor
	resolver  *source.Resolver
	registry  *registry.Registry
	events    *validity.Registry
	refresher *source.Refresher
	profiles  *profile.GroupBasedManager

	store           ports.Store
	locker          ports.DistributedLocker
	hooks           domain.LifecycleHooks
	logger          *slog.Logger
	factories       map[string]ports.SourceFactory
	setup           []func(*registry.Registry) error
	checkReload     bool
	reloadDelay     time.Duration
	defaultExpires  int
	refreshInterval time.Duration
	profileLoader   ports.ProfileLoader
	profileOpts     []profile.ManagerOption
	renderers       *renderer.Set
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithStore sets the store of cached: sources and saved profiles.
// The default is an in-memory store.
func WithStore(s ports.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLocker serializes cache repopulation across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithSourceFactory registers a factory for an additional URI scheme.
func WithSourceFactory(scheme string, f ports.SourceFactory) Option {
	return func(e *Engine) { e.factories[scheme] = f }
}

// WithComponents runs fn on the root registry after the built-in
// components are installed.
func WithComponents(fn func(*registry.Registry) error) Option {
	return func(e *Engine) { e.setup = append(e.setup, fn) }
}

// WithCheckReload enables or disables sitemap modification checks.
func WithCheckReload(on bool) Option {
	return func(e *Engine) { e.checkReload = on }
}

// WithReloadDelay sets the minimum time between two sitemap checks.
func WithReloadDelay(d time.Duration) Option {
	return func(e *Engine) { e.reloadDelay = d }
}

// WithDefaultExpires sets the expiry, in seconds, of cached: sources that do
// not carry one.
func WithDefaultExpires(seconds int) Option {
	return func(e *Engine) { e.defaultExpires = seconds }
}

// WithRefreshInterval sets the period of the async cache refresher.
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) { e.refreshInterval = d }
}

// WithProfiles enables the "portal" generator, reading profiles from loader.
func WithProfiles(loader ports.ProfileLoader, opts ...profile.ManagerOption) Option {
	return func(e *Engine) {
		e.profileLoader = loader
		e.profileOpts = opts
	}
}

// WithRenderers replaces the default portal renderers.
func WithRenderers(set *renderer.Set) Option {
	return func(e *Engine) { e.renderers = set }
}

// New creates an engine for the sitemap at location. A location without a
// scheme is a local path; a directory means its sitemap.xmap.
func New(location string, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:          logging.NewNop(),
		factories:       make(map[string]ports.SourceFactory),
		checkReload:     true,
		reloadDelay:     treeprocessor.DefaultReloadDelay,
		defaultExpires:  60,
		refreshInterval: DefaultRefreshInterval,
		events:          validity.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	uri, err := SitemapURI(location)
	if err != nil {
		return nil, err
	}

	e.registry = registry.NewRegistry()
	components.Register(e.registry, components.WithLogger(e.logger))
	if err := e.registerPortal(); err != nil {
		return nil, err
	}
	for _, fn := range e.setup {
		if err := fn(e.registry); err != nil {
			return nil, fmt.Errorf("registering components: %w", err)
		}
	}

	e.refresher = source.NewRefresher(e.refreshInterval, source.WithRefresherLogger(e.logger))
	e.resolver = source.NewResolver(source.WithLogger(e.logger), source.WithBase(source.Directory(uri)))
	e.resolver.Register("cocoon", source.SitemapFactory{})
	cachingOpts := []source.CachingOption{
		source.WithDefaultExpires(e.defaultExpires),
		source.WithValidityRegistry(e.events),
		source.WithCacheHooks(e.hooks),
		source.WithRefresher(e.refresher),
		source.WithCacheLogger(e.logger),
	}
	if e.locker != nil {
		cachingOpts = append(cachingOpts, source.WithLocker(e.locker))
	}
	e.resolver.Register("cached", source.NewCachingFactory(e.store, cachingOpts...))
	for scheme, f := range e.factories {
		e.resolver.Register(scheme, f)
	}

	e.processor = treeprocessor.New(uri, e.resolver, e.registry,
		treeprocessor.WithCheckReload(e.checkReload),
		treeprocessor.WithReloadDelay(e.reloadDelay),
		treeprocessor.WithHooks(e.hooks),
		treeprocessor.WithLogger(e.logger),
	)
	return e, nil
}

func (e *Engine) registerPortal() error {
	if e.profileLoader == nil {
		return nil
	}
	opts := append([]profile.ManagerOption{
		profile.WithStore(e.store),
		profile.WithLogger(e.logger),
	}, e.profileOpts...)
	m, err := profile.NewGroupBasedManager(e.profileLoader, opts...)
	if err != nil {
		return fmt.Errorf("creating profile manager: %w", err)
	}
	if e.renderers == nil {
		if e.renderers, err = renderer.DefaultSet(); err != nil {
			return err
		}
	}
	e.profiles = m
	return e.registry.Register(registry.KindGenerator, "portal", portal.NewGenerator(m, e.renderers))
}

// SitemapURI turns a local path into the file: URI of a sitemap. Locations
// that carry a scheme are returned unchanged.
func SitemapURI(location string) (string, error) {
	if source.Scheme(location) != "" {
		return location, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
		abs = filepath.Join(abs, treeprocessor.DefaultSitemapName)
	}
	return source.FileURI(abs), nil
}

// URI returns the location of the root sitemap.
func (e *Engine) URI() string { return e.processor.URI() }

// Process handles env. false means nothing in the sitemap matched.
func (e *Engine) Process(ctx context.Context, env *domain.Environment) (bool, error) {
	return e.processor.Process(ctx, env)
}

// BuildPipeline assembles the pipeline for env without executing it.
func (e *Engine) BuildPipeline(ctx context.Context, env *domain.Environment) (*pipeline.Pipeline, error) {
	return e.processor.BuildPipeline(ctx, env)
}

// Render processes req and writes the body to w. An unmatched request is
// reported as *pipeline.ResourceNotFoundError.
func (e *Engine) Render(ctx context.Context, req *domain.Request, w io.Writer) (*domain.Response, error) {
	env := domain.NewEnvironment(req, w)
	ok, err := e.Process(ctx, env)
	if err != nil {
		return env.Response, err
	}
	if !ok {
		return env.Response, &pipeline.ResourceNotFoundError{URI: req.Path}
	}
	return env.Response, nil
}

// Tree returns the compiled root sitemap.
func (e *Engine) Tree(ctx context.Context) (treeprocessor.Node, error) {
	return e.processor.Tree(ctx)
}

// Validate builds the root sitemap and reports the first error.
func (e *Engine) Validate(ctx context.Context) error {
	return e.processor.Reload(ctx)
}

// Watch invalidates the root sitemap whenever w signals a change.
func (e *Engine) Watch(ctx context.Context, w ports.Watchable) error {
	return e.processor.Watch(ctx, w)
}

// Start runs the async cache refresher until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.refresher.Start(ctx)
}

// Stop ends the cache refresher.
func (e *Engine) Stop() {
	e.refresher.Stop()
}

// Invalidate expires every cached response that depends on the event key.
func (e *Engine) Invalidate(key string) {
	e.events.Invalidate(key)
}

// InvalidateProfile drops the cached profile of user.
func (e *Engine) InvalidateProfile(user string) error {
	if e.profiles == nil {
		return ErrNoProfiles
	}
	e.profiles.Invalidate(user)
	return nil
}

// Resolver returns the source resolver.
func (e *Engine) Resolver() *source.Resolver { return e.resolver }

// Registry returns the root component registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Profiles returns the profile manager, or nil without WithProfiles.
func (e *Engine) Profiles() *profile.GroupBasedManager { return e.profiles }

// Store returns the store of cached responses.
func (e *Engine) Store() ports.Store { return e.store }
