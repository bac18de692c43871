package components

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/sax"
)

// IncludeNamespace is the namespace of <i:include src="..."/> elements.
const IncludeNamespace = "http://apache.org/cocoon/include/1.0"

// IncludeTransformer replaces <i:include src="..."/> elements with the
// content of the referenced source. Sources are resolved against the context
// URI of the environment, so cocoon: and cached: locations work too.
type IncludeTransformer struct{}

func (IncludeTransformer) Transform(ctx context.Context, s pipeline.Setup, next sax.ContentHandler) (sax.ContentHandler, error) {
	return &includeHandler{Forward: sax.Forward{Next: next}, ctx: ctx, setup: s}, nil
}

type includeHandler struct {
	sax.Forward
	ctx   context.Context
	setup pipeline.Setup
	depth int // nesting inside an include element
}

func (h *includeHandler) StartElement(name xml.Name, attrs []xml.Attr) error {
	if name.Space != IncludeNamespace {
		if h.depth > 0 {
			return nil
		}
		return h.Next.StartElement(name, attrs)
	}
	h.depth++
	if name.Local != "include" || h.depth > 1 {
		return nil
	}
	src, ok := sax.AttrValue(attrs, "src")
	if !ok {
		return fmt.Errorf("i:include without src")
	}
	setup := h.setup
	setup.Src = src
	source, err := resolve(h.ctx, setup)
	if err != nil {
		return err
	}
	if err := ToSAX(h.ctx, source, sax.NewEmbedFilter(h.Next)); err != nil {
		return fmt.Errorf("including %s: %w", src, err)
	}
	return nil
}

func (h *includeHandler) EndElement(name xml.Name) error {
	if name.Space == IncludeNamespace {
		h.depth--
		return nil
	}
	if h.depth > 0 {
		return nil
	}
	return h.Next.EndElement(name)
}

func (h *includeHandler) Characters(text []byte) error {
	if h.depth > 0 {
		return nil
	}
	return h.Next.Characters(text)
}

// XPathTransformer buffers the document and replaces it with the nodes
// selected by the "select" parameter, wrapped in an element named by "root"
// (default "result").
type XPathTransformer struct{}

func (XPathTransformer) Transform(_ context.Context, s pipeline.Setup, next sax.ContentHandler) (sax.ContentHandler, error) {
	expr := s.Params.Get("select", "")
	if expr == "" {
		return nil, fmt.Errorf("%s: xpath transformer needs a select parameter", s.Location)
	}
	h := &xpathHandler{next: next, expr: expr, root: s.Params.Get("root", "result")}
	h.Writer = sax.NewWriter(&h.buf)
	return h, nil
}

type xpathHandler struct {
	*sax.Writer
	buf  bytes.Buffer
	next sax.ContentHandler
	expr string
	root string
}

func (h *xpathHandler) EndDocument() error {
	if err := h.Writer.EndDocument(); err != nil {
		return err
	}
	doc, err := xmlquery.Parse(&h.buf)
	if err != nil {
		return fmt.Errorf("xpath transformer: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, h.expr)
	if err != nil {
		return fmt.Errorf("xpath transformer: invalid select %q: %w", h.expr, err)
	}

	root := sax.Name(h.root)
	if err := h.next.StartDocument(); err != nil {
		return err
	}
	if err := h.next.StartElement(root, []xml.Attr{sax.Attr("count", fmt.Sprint(len(nodes)))}); err != nil {
		return err
	}
	embed := sax.NewEmbedFilter(h.next)
	for _, n := range nodes {
		if n.Type != xmlquery.ElementNode {
			if err := h.next.Characters([]byte(n.InnerText())); err != nil {
				return err
			}
			continue
		}
		if err := sax.ParseFragment(strings.NewReader(n.OutputXML(true)), embed); err != nil {
			return err
		}
	}
	if err := h.next.EndElement(root); err != nil {
		return err
	}
	return h.next.EndDocument()
}

// LogTransformer logs every element at debug level and passes events
// through unchanged.
type LogTransformer struct {
	Logger *slog.Logger
}

func (t LogTransformer) Transform(_ context.Context, s pipeline.Setup, next sax.ContentHandler) (sax.ContentHandler, error) {
	return &logHandler{
		Forward: sax.Forward{Next: next},
		logger:  t.Logger.With("location", s.Location, "prefix", s.Params.Get("prefix", "")),
	}, nil
}

type logHandler struct {
	sax.Forward
	logger *slog.Logger
	depth  int
}

func (h *logHandler) StartElement(name xml.Name, attrs []xml.Attr) error {
	h.logger.Debug("start element", "name", name.Local, "ns", name.Space, "depth", h.depth, "attrs", len(attrs))
	h.depth++
	return h.Next.StartElement(name, attrs)
}

func (h *logHandler) EndElement(name xml.Name) error {
	h.depth--
	h.logger.Debug("end element", "name", name.Local, "depth", h.depth)
	return h.Next.EndElement(name)
}
