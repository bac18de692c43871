package components

import (
	"log/slog"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/registry"
)

type options struct {
	logger *slog.Logger
}

// Option configures the built-in components.
type Option func(*options)

// WithLogger sets the logger used by the log transformer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Register installs the built-in components into reg and sets the defaults.
func Register(reg *registry.Registry, opts ...Option) {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	reg.MustRegister(registry.KindMatcher, "wildcard", NewWildcardMatcher()).
		MustRegister(registry.KindMatcher, "regexp", NewRegexpMatcher()).
		MustRegister(registry.KindMatcher, "request-parameter", RequestParameterMatcher{}).
		MustRegister(registry.KindMatcher, "header", HeaderMatcher{})
	reg.SetDefault(registry.KindMatcher, "wildcard")

	reg.MustRegister(registry.KindSelector, "parameter", ParameterSelector{}).
		MustRegister(registry.KindSelector, "request-parameter", RequestParameterSelector{}).
		MustRegister(registry.KindSelector, "header", HeaderSelector{}).
		MustRegister(registry.KindSelector, "xpath", NewXPathSelector())
	reg.SetDefault(registry.KindSelector, "parameter")

	reg.MustRegister(registry.KindAction, "request-exists", RequestExistsAction{}).
		MustRegister(registry.KindAction, "set-header", SetHeaderAction{}).
		MustRegister(registry.KindAction, "set-attribute", SetAttributeAction{}).
		MustRegister(registry.KindAction, "resource-exists", ResourceExistsAction{})

	reg.MustRegister(registry.KindGenerator, "file", FileGenerator{}).
		MustRegister(registry.KindGenerator, "request", RequestGenerator{}).
		MustRegister(registry.KindGenerator, "error", ErrorGenerator{})
	reg.SetDefault(registry.KindGenerator, "file")

	reg.MustRegister(registry.KindTransformer, "include", IncludeTransformer{}).
		MustRegister(registry.KindTransformer, "xpath", XPathTransformer{}).
		MustRegister(registry.KindTransformer, "log", LogTransformer{Logger: o.logger})
	reg.SetDefault(registry.KindTransformer, "include")

	reg.MustRegister(registry.KindSerializer, "xml", XMLSerializer{}).
		MustRegister(registry.KindSerializer, "html", HTMLSerializer{}).
		MustRegister(registry.KindSerializer, "text", TextSerializer{})
	reg.SetDefault(registry.KindSerializer, "xml")

	reg.MustRegister(registry.KindReader, "resource", ResourceReader{})
	reg.SetDefault(registry.KindReader, "resource")
}
