package pipeline

import (
	"context"
	"io"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
)

// Setup carries the per-invocation configuration of a pipeline component.
type Setup struct {
	Env      *domain.Environment
	Resolver ports.Resolver
	Src      string
	// Base is the URI relative sources resolve against. It is captured when
	// the component is configured, because the environment context may have
	// moved on by the time the pipeline runs.
	Base   string
	Params domain.Parameters
	// Location is the sitemap position of the node that added the component.
	Location string
}

// Matcher tests a pattern against the environment. A non-nil map means a
// match; its entries become sitemap variables ("0", "1", ... or named).
type Matcher interface {
	Match(pattern string, env *domain.Environment, params domain.Parameters) (map[string]string, error)
}

// Selector evaluates a test expression for <map:when>.
type Selector interface {
	Select(expression string, env *domain.Environment, params domain.Parameters) (bool, error)
}

// Action performs a side effect. A nil map means failure: the children of
// the <map:act> element are skipped.
type Action interface {
	Act(ctx context.Context, s Setup) (map[string]string, error)
}

// Generator starts a pipeline by producing XML events.
type Generator interface {
	Generate(ctx context.Context, s Setup, h sax.ContentHandler) error
}

// Transformer returns a handler that rewrites events before passing them to next.
type Transformer interface {
	Transform(ctx context.Context, s Setup, next sax.ContentHandler) (sax.ContentHandler, error)
}

// Serializer turns XML events into bytes.
type Serializer interface {
	MimeType() string
	Serialize(ctx context.Context, s Setup, w io.Writer) (sax.ContentHandler, error)
}

// Reader produces bytes directly, bypassing XML processing.
type Reader interface {
	MimeType(s Setup) string
	Read(ctx context.Context, s Setup, w io.Writer) error
}

// Cacheable is implemented by generators, transformers and readers whose
// output can be described by a validity.
type Cacheable interface {
	Validity(ctx context.Context, s Setup) validity.Validity
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(pattern string, env *domain.Environment, params domain.Parameters) (map[string]string, error)

func (f MatcherFunc) Match(pattern string, env *domain.Environment, params domain.Parameters) (map[string]string, error) {
	return f(pattern, env, params)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, s Setup) (map[string]string, error)

func (f ActionFunc) Act(ctx context.Context, s Setup) (map[string]string, error) {
	return f(ctx, s)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, s Setup, h sax.ContentHandler) error

func (f GeneratorFunc) Generate(ctx context.Context, s Setup, h sax.ContentHandler) error {
	return f(ctx, s, h)
}
