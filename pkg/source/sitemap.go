package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/lifecycle"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
)

// SitemapFactory creates cocoon: sources. The current processor is taken
// from the lifecycle stack of the calling context.
type SitemapFactory struct{}

func (SitemapFactory) Create(ctx context.Context, uri string, _ ports.Resolver) (ports.Source, error) {
	return NewSitemapSource(ctx, uri)
}

// SitemapSource is the output of a sitemap pipeline invoked internally.
type SitemapSource struct {
	uri       string
	processor lifecycle.Processor
	env       *domain.Environment
	entry     lifecycle.Entry

	mu       sync.Mutex
	pipeline *pipeline.Pipeline
}

// NewSitemapSource builds the pipeline addressed by uri ("cocoon:/path" or
// "cocoon://path", optionally with a query string).
func NewSitemapSource(ctx context.Context, uri string) (*SitemapSource, error) {
	current, ok := lifecycle.Current(ctx)
	if !ok || current.Processor == nil {
		return nil, fmt.Errorf("%s: %w", uri, domain.ErrNoEnvironment)
	}

	rest := strings.TrimPrefix(uri, "cocoon:")
	processor := current.Processor
	if strings.HasPrefix(rest, "//") {
		processor = processor.Root()
		rest = strings.TrimPrefix(rest, "//")
	} else {
		rest = strings.TrimPrefix(rest, "/")
	}

	path, rawQuery, _ := strings.Cut(rest, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid query in %s: %w", uri, err)
	}

	s := &SitemapSource{
		uri:       uri,
		processor: processor,
		env:       domain.NewInternalEnvironment(current.Env, path, params),
		entry:     current,
	}
	if err := s.build(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SitemapSource) build(ctx context.Context) error {
	p, err := s.processor.BuildPipeline(ctx, s.env)
	if err != nil {
		return fmt.Errorf("building %s: %w", s.uri, err)
	}
	if p == nil {
		return &pipeline.ResourceNotFoundError{URI: s.uri}
	}
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
	return nil
}

func (s *SitemapSource) current() *pipeline.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// run executes fn with the internal environment on top of the stack.
func (s *SitemapSource) run(ctx context.Context, fn func(ctx context.Context, p *pipeline.Pipeline) error) (err error) {
	if !lifecycle.Began(ctx) {
		ctx = lifecycle.Begin(ctx)
	}
	if err := lifecycle.Enter(ctx, lifecycle.Entry{Env: s.env, Processor: s.processor, Registry: s.entry.Registry}); err != nil {
		return err
	}
	defer func() {
		if lerr := lifecycle.Leave(ctx); err == nil {
			err = lerr
		}
	}()
	return fn(ctx, s.current())
}

// Pipeline returns the pipeline built for the source.
func (s *SitemapSource) Pipeline() *pipeline.Pipeline {
	return s.current()
}

func (s *SitemapSource) URI() string    { return s.uri }
func (s *SitemapSource) Scheme() string { return "cocoon" }

func (s *SitemapSource) Exists(context.Context) (bool, error) {
	return s.current() != nil, nil
}

// Open executes the pipeline and returns its serialized output.
func (s *SitemapSource) Open(ctx context.Context) (io.ReadCloser, error) {
	var buf bytes.Buffer
	err := s.run(ctx, func(ctx context.Context, p *pipeline.Pipeline) error {
		return p.Write(ctx, &buf)
	})
	if err != nil {
		return nil, ioError("process", s.uri, err)
	}
	return io.NopCloser(&buf), nil
}

// ToSAX streams the pipeline output without serializing it.
func (s *SitemapSource) ToSAX(ctx context.Context, h sax.ContentHandler) error {
	return s.run(ctx, func(ctx context.Context, p *pipeline.Pipeline) error {
		return p.ToSAX(ctx, h)
	})
}

func (s *SitemapSource) ContentLength() int64    { return -1 }
func (s *SitemapSource) LastModified() time.Time { return time.Time{} }

func (s *SitemapSource) MimeType() string {
	return s.current().ContentType()
}

// Validity aggregates the validities of the pipeline components, or returns
// nil when the pipeline is not cacheable.
func (s *SitemapSource) Validity() validity.Validity {
	var v validity.Validity
	_ = s.run(context.Background(), func(ctx context.Context, p *pipeline.Pipeline) error {
		v = p.Validity(ctx)
		return nil
	})
	return v
}

// Refresh rebuilds the pipeline.
func (s *SitemapSource) Refresh(ctx context.Context) error {
	if !lifecycle.Began(ctx) {
		ctx = lifecycle.Begin(ctx)
	}
	if err := lifecycle.Enter(ctx, s.entry); err != nil {
		return err
	}
	defer func() { _ = lifecycle.Leave(ctx) }()
	return s.build(ctx)
}
