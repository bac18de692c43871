package treeprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/lifecycle"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/registry"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/hashicorp/go-multierror"
)

// DefaultReloadDelay is the minimum time between two checks of the sitemap source.
const DefaultReloadDelay = time.Second

// TreeProcessor interprets one sitemap.
type TreeProcessor struct {
	parent   *TreeProcessor
	uri      string
	resolver ports.Resolver
	registry *registry.Registry

	checkReload bool
	reloadDelay time.Duration
	clock       func() time.Time
	hooks       domain.LifecycleHooks
	logger      *slog.Logger

	buildMu sync.Mutex
	current atomic.Pointer[loaded]
	builds  atomic.Int64
	dirty   atomic.Bool

	checkMu   sync.Mutex
	lastCheck time.Time
}

// loaded is a built tree plus the source timestamp it was built from.
type loaded struct {
	*tree
	modified time.Time
}

// Option configures a TreeProcessor.
type Option func(*TreeProcessor)

// WithCheckReload enables or disables source modification checks.
func WithCheckReload(on bool) Option {
	return func(p *TreeProcessor) { p.checkReload = on }
}

// WithReloadDelay sets the minimum time between two modification checks.
func WithReloadDelay(d time.Duration) Option {
	return func(p *TreeProcessor) { p.reloadDelay = d }
}

// WithClock replaces time.Now for reload checks.
func WithClock(clock func() time.Time) Option {
	return func(p *TreeProcessor) { p.clock = clock }
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(p *TreeProcessor) { p.hooks = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *TreeProcessor) { p.logger = l }
}

// New creates a processor for the sitemap at uri. Component types are looked
// up in reg, under the components declared by the sitemap itself.
func New(uri string, resolver ports.Resolver, reg *registry.Registry, opts ...Option) *TreeProcessor {
	p := &TreeProcessor{
		uri:         uri,
		resolver:    resolver,
		registry:    reg,
		checkReload: true,
		reloadDelay: DefaultReloadDelay,
		clock:       time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TreeProcessor) newChild(uri string, reg *registry.Registry, checkReload bool) *TreeProcessor {
	return &TreeProcessor{
		parent:      p,
		uri:         uri,
		resolver:    p.resolver,
		registry:    reg,
		checkReload: p.checkReload && checkReload,
		reloadDelay: p.reloadDelay,
		clock:       p.clock,
		hooks:       p.hooks,
		logger:      p.logger.With("sitemap", uri),
	}
}

// URI returns the sitemap location.
func (p *TreeProcessor) URI() string { return p.uri }

// Root returns the processor of the outermost sitemap.
func (p *TreeProcessor) Root() lifecycle.Processor {
	root := p
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Builds returns how many times the tree has been built.
func (p *TreeProcessor) Builds() int64 { return p.builds.Load() }

// Process handles env. false means nothing in the sitemap matched.
func (p *TreeProcessor) Process(ctx context.Context, env *domain.Environment) (bool, error) {
	top := !lifecycle.Began(ctx)
	start := time.Now()
	ok, err := p.invoke(ctx, env, NewInvokeContext(false))
	if top && p.hooks.OnRequest != nil {
		p.hooks.OnRequest(ctx, &domain.RequestEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventRequestProcess},
			URI:       env.Request.Path,
			Matched:   ok,
			Duration:  time.Since(start),
			Err:       err,
		})
	}
	return ok, err
}

// BuildPipeline walks the sitemap for env without executing the pipeline.
// It returns nil when nothing matched.
func (p *TreeProcessor) BuildPipeline(ctx context.Context, env *domain.Environment) (*pipeline.Pipeline, error) {
	ic := NewInvokeContext(true)
	ok, err := p.invoke(ctx, env, ic)
	if err != nil || !ok {
		return nil, err
	}
	return ic.pipeline, nil
}

func (p *TreeProcessor) invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (ok bool, err error) {
	t, err := p.load(ctx)
	if err != nil {
		return false, err
	}

	top := !lifecycle.Began(ctx)
	if top {
		ctx = lifecycle.Begin(ctx)
	}
	if err := lifecycle.Enter(ctx, lifecycle.Entry{Env: env, Processor: p, Registry: t.registry}); err != nil {
		return false, err
	}
	restore := ic.bind(p, t.tree)
	if p.parent == nil {
		// the outermost sitemap resolves relative sources against its own directory
		restoreContext := env.ChangeContext("", source.Directory(p.uri))
		defer restoreContext()
	}
	defer func() {
		restore()
		if lerr := lifecycle.Leave(ctx); lerr != nil && err == nil {
			err = lerr
		}
		if top {
			if cerr := lifecycle.Check(ctx); cerr != nil {
				p.logger.Error("environment stack leaked", "uri", env.Request.Path, "depth", lifecycle.Depth(ctx))
				result := multierror.Append(fmt.Errorf("%s: %w", p.uri, cerr))
				if rerr := lifecycle.End(ctx); rerr != nil {
					result = multierror.Append(result, rerr)
				}
				ok, err = false, result.ErrorOrNil()
			}
		}
	}()

	return t.root.Invoke(ctx, env, ic)
}

// Tree returns the root node of the current tree, building it if needed.
func (p *TreeProcessor) Tree(ctx context.Context) (Node, error) {
	t, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	return t.root, nil
}

// Invalidate forces a rebuild on the next request.
func (p *TreeProcessor) Invalidate() {
	p.dirty.Store(true)
}

// Reload rebuilds the tree now.
func (p *TreeProcessor) Reload(ctx context.Context) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	_, err := p.rebuild(ctx)
	return err
}

// Watch invalidates the tree on every notification from w until ctx is done.
func (p *TreeProcessor) Watch(ctx context.Context, w ports.Watchable) error {
	ch, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				p.logger.Debug("sitemap source changed", "uri", p.uri)
				p.Invalidate()
			}
		}
	}()
	return nil
}

// load returns the current tree, rebuilding it when it is missing, was
// invalidated, or its source changed. Concurrent callers never rebuild twice:
// after taking the lock the tree is compared with the one that triggered the
// rebuild.
func (p *TreeProcessor) load(ctx context.Context) (*loaded, error) {
	t := p.current.Load()
	if t != nil && !p.dirty.Load() && !p.changed(ctx, t) {
		return t, nil
	}

	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	if cur := p.current.Load(); cur != t {
		return cur, nil
	}
	nt, err := p.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return nt, nil
}

// changed reports whether the sitemap source is newer than t. The source is
// consulted at most once per reload delay across all callers.
func (p *TreeProcessor) changed(ctx context.Context, t *loaded) bool {
	if !p.checkReload || !p.claimCheck() {
		return false
	}
	src, err := p.resolver.Resolve(ctx, p.uri, "")
	if err != nil {
		p.logger.Warn("cannot check sitemap source", "uri", p.uri, "err", err)
		return false
	}
	return src.LastModified().After(t.modified)
}

func (p *TreeProcessor) claimCheck() bool {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()
	now := p.clock()
	if now.Sub(p.lastCheck) < p.reloadDelay {
		return false
	}
	p.lastCheck = now
	return true
}

// rebuild must be called with buildMu held. On failure the previous tree
// stays in place.
func (p *TreeProcessor) rebuild(ctx context.Context) (*loaded, error) {
	start := time.Now()
	p.dirty.Store(false)

	nt, err := p.build(ctx)
	if p.hooks.OnTreeRebuild != nil {
		p.hooks.OnTreeRebuild(ctx, &domain.TreeEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventTreeRebuild},
			Sitemap:   p.uri,
			Duration:  time.Since(start),
			Err:       err,
		})
	}
	p.checkMu.Lock()
	p.lastCheck = p.clock()
	p.checkMu.Unlock()

	if err != nil {
		p.logger.Error("sitemap build failed", "uri", p.uri, "err", err)
		return nil, err
	}
	p.current.Store(nt)
	p.builds.Add(1)
	p.logger.Info("sitemap built", "uri", p.uri, "duration", time.Since(start))
	return nt, nil
}

func (p *TreeProcessor) build(ctx context.Context) (*loaded, error) {
	src, err := p.resolver.Resolve(ctx, p.uri, "")
	if err != nil {
		return nil, fmt.Errorf("resolving sitemap %s: %w", p.uri, err)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sitemap %s: %w", p.uri, err)
	}
	defer rc.Close()

	conf, err := configuration.Parse(rc, src.URI())
	if err != nil {
		return nil, err
	}
	t, err := buildTree(conf, p.registry)
	if err != nil {
		return nil, err
	}
	return &loaded{tree: t, modified: src.LastModified()}, nil
}
