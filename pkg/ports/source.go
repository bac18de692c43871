package ports

import (
	"context"
	"io"
	"time"

	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
)

// Source is an addressable resource.
type Source interface {
	// URI returns the absolute URI of the source.
	URI() string
	// Scheme returns the URI scheme ("file", "cocoon", "cached"...).
	Scheme() string
	// Exists reports whether the resource can be read.
	Exists(ctx context.Context) (bool, error)
	// Open returns a reader over the binary content.
	Open(ctx context.Context) (io.ReadCloser, error)
	// ContentLength returns the length in bytes, or -1 when unknown.
	ContentLength() int64
	// LastModified returns the modification time, or the zero time when unknown.
	LastModified() time.Time
	// MimeType returns the content type, or "" when unknown.
	MimeType() string
	// Validity returns the validity of the current content, or nil when the
	// source cannot be cached.
	Validity() validity.Validity
	// Refresh discards cached state so that the next access sees fresh content.
	Refresh(ctx context.Context) error
}

// XMLSource is implemented by sources that can emit their content as XML
// events without going through bytes (cocoon: pipelines, cached XML).
type XMLSource interface {
	Source
	ToSAX(ctx context.Context, h sax.ContentHandler) error
}

// Resolver turns a location into a Source. Relative locations are resolved
// against base.
type Resolver interface {
	Resolve(ctx context.Context, location, base string) (Source, error)
}

// SourceFactory creates sources for one URI scheme.
type SourceFactory interface {
	Create(ctx context.Context, uri string, resolver Resolver) (Source, error)
}

// SourceFactoryFunc adapts a function to SourceFactory.
type SourceFactoryFunc func(ctx context.Context, uri string, resolver Resolver) (Source, error)

func (f SourceFactoryFunc) Create(ctx context.Context, uri string, resolver Resolver) (Source, error) {
	return f(ctx, uri, resolver)
}
