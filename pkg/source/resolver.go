package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/ports"
)

var schemePattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.\-]*):`)

// Scheme returns the scheme of uri, or "" when it has none.
func Scheme(uri string) string {
	m := schemePattern.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	// a single letter before ":" is a Windows drive, not a scheme
	if len(m[1]) == 1 {
		return ""
	}
	return strings.ToLower(m[1])
}

// Resolver dispatches locations to the factory registered for their scheme.
type Resolver struct {
	mu        sync.RWMutex
	factories map[string]ports.SourceFactory
	base      string
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFactory registers a factory for scheme.
func WithFactory(scheme string, f ports.SourceFactory) Option {
	return func(r *Resolver) {
		r.factories[scheme] = f
	}
}

// WithBase sets the base used when Resolve is called with an empty base.
// A plain directory path is turned into a file: URI.
func WithBase(base string) Option {
	return func(r *Resolver) {
		r.base = normalizeBase(base)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver with the file and http(s) factories
// registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		factories: map[string]ports.SourceFactory{
			"file":  FileFactory{},
			"http":  NewHTTPFactory(),
			"https": NewHTTPFactory(),
		},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the factory for scheme.
func (r *Resolver) Register(scheme string, f ports.SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// Base returns the default base URI.
func (r *Resolver) Base() string {
	return r.base
}

// Resolve turns location into a Source.
func (r *Resolver) Resolve(ctx context.Context, location, base string) (ports.Source, error) {
	uri := r.Absolute(location, base)
	scheme := Scheme(uri)

	r.mu.RLock()
	f, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownScheme, scheme, uri)
	}
	r.logger.Debug("resolving source", "location", location, "uri", uri)
	return f.Create(ctx, uri, r)
}

// Absolute makes location absolute against base (or the resolver base).
// Locations that carry a scheme are returned unchanged.
func (r *Resolver) Absolute(location, base string) string {
	if Scheme(location) != "" {
		return location
	}
	if base == "" {
		base = r.base
	}
	if base == "" {
		base = normalizeBase(".")
	}
	if strings.HasPrefix(location, "/") {
		// absolute path on the base scheme
		if u, err := url.Parse(base); err == nil && u.Scheme == "file" {
			return "file://" + location
		}
	}
	return join(base, location)
}

func join(base, rel string) string {
	b, err := url.Parse(base)
	if err != nil || b.Opaque != "" {
		return strings.TrimSuffix(base, "/") + "/" + rel
	}
	if !strings.HasSuffix(b.Path, "/") {
		b.Path = path.Dir(b.Path) + "/"
	}
	r, err := url.Parse(rel)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + rel
	}
	abs := b.ResolveReference(r)
	abs.OmitHost = b.OmitHost
	return abs.String()
}

func normalizeBase(base string) string {
	if Scheme(base) != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		abs = base
	}
	return FileURI(abs) + "/"
}

// FileURI converts a local path into a file: URI.
func FileURI(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

// Directory returns the URI of the directory containing uri, with a trailing slash.
func Directory(uri string) string {
	i := strings.LastIndex(uri, "/")
	if i < 0 {
		return uri
	}
	return uri[:i+1]
}
