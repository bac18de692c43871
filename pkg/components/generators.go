package components

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
)

// ToSAX streams src into h, without a byte round trip when the source can
// emit events itself.
func ToSAX(ctx context.Context, src ports.Source, h sax.ContentHandler) error {
	if xs, ok := src.(ports.XMLSource); ok {
		return xs.ToSAX(ctx, h)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := sax.Parse(rc, h); err != nil {
		return fmt.Errorf("parsing %s: %w", src.URI(), err)
	}
	return nil
}

func resolve(ctx context.Context, s pipeline.Setup) (ports.Source, error) {
	if s.Src == "" {
		return nil, fmt.Errorf("%s: missing src", s.Location)
	}
	if s.Resolver == nil {
		return nil, fmt.Errorf("%s: no source resolver", s.Location)
	}
	base := s.Base
	if base == "" && s.Env != nil {
		base = s.Env.ContextURI()
	}
	return s.Resolver.Resolve(ctx, s.Src, base)
}

// FileGenerator parses the source named by src.
type FileGenerator struct{}

func (FileGenerator) Generate(ctx context.Context, s pipeline.Setup, h sax.ContentHandler) error {
	src, err := resolve(ctx, s)
	if err != nil {
		return err
	}
	return ToSAX(ctx, src, h)
}

func (FileGenerator) Validity(ctx context.Context, s pipeline.Setup) validity.Validity {
	src, err := resolve(ctx, s)
	if err != nil {
		return nil
	}
	return src.Validity()
}

// RequestGenerator emits the current request as XML (see WriteRequest).
type RequestGenerator struct{}

func (RequestGenerator) Generate(_ context.Context, s pipeline.Setup, h sax.ContentHandler) error {
	return WriteRequest(h, s.Env)
}

// ErrorGenerator renders the error being handled by <map:handle-errors>:
//
//	<error type="*source.IOError" location="sitemap.xmap:/...">message</error>
type ErrorGenerator struct{}

// located is implemented by errors that know their sitemap position.
type located interface {
	SitemapLocation() string
}

func (ErrorGenerator) Generate(_ context.Context, s pipeline.Setup, h sax.ContentHandler) error {
	v, ok := s.Env.ObjectModel(domain.ObjectModelError)
	if !ok {
		return errors.New("error generator used outside of handle-errors")
	}
	cause, _ := v.(error)
	if cause == nil {
		cause = fmt.Errorf("%v", v)
	}

	attrs := []xml.Attr{sax.Attr("type", fmt.Sprintf("%T", rootCause(cause)))}
	var loc located
	if errors.As(cause, &loc) {
		attrs = append(attrs, sax.Attr("location", loc.SitemapLocation()))
	}
	if err := h.StartDocument(); err != nil {
		return err
	}
	if err := sax.Element(h, "error", cause.Error(), attrs...); err != nil {
		return err
	}
	return h.EndDocument()
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
