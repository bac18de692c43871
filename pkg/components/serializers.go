package components

import (
	"context"
	"io"

	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/sax"
)

// XMLSerializer writes XML text. Parameters: "indent" (bool) and
// "omit-xml-declaration" (bool).
type XMLSerializer struct{}

func (XMLSerializer) MimeType() string { return "text/xml" }

func (XMLSerializer) Serialize(_ context.Context, s pipeline.Setup, w io.Writer) (sax.ContentHandler, error) {
	opts := []sax.WriterOption{sax.WithDeclaration(!s.Params.Bool("omit-xml-declaration", false))}
	if s.Params.Bool("indent", false) {
		opts = append(opts, sax.WithIndent("", "  "))
	}
	return sax.NewWriter(w, opts...), nil
}

// HTMLSerializer writes an HTML5 doctype followed by the markup.
type HTMLSerializer struct{}

func (HTMLSerializer) MimeType() string { return "text/html" }

func (HTMLSerializer) Serialize(_ context.Context, s pipeline.Setup, w io.Writer) (sax.ContentHandler, error) {
	var opts []sax.WriterOption
	if s.Params.Bool("indent", false) {
		opts = append(opts, sax.WithIndent("", "  "))
	}
	return &htmlWriter{Writer: sax.NewWriter(w, opts...), out: w}, nil
}

type htmlWriter struct {
	*sax.Writer
	out io.Writer
}

func (h *htmlWriter) StartDocument() error {
	_, err := io.WriteString(h.out, "<!DOCTYPE html>\n")
	return err
}

// TextSerializer writes character data only.
type TextSerializer struct{}

func (TextSerializer) MimeType() string { return "text/plain" }

func (TextSerializer) Serialize(_ context.Context, _ pipeline.Setup, w io.Writer) (sax.ContentHandler, error) {
	return &textWriter{out: w}, nil
}

type textWriter struct {
	sax.Base
	out io.Writer
}

func (t *textWriter) Characters(text []byte) error {
	_, err := t.out.Write(text)
	return err
}
