package sax

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Writer serializes events as XML text.
type Writer struct {
	enc         *xml.Encoder
	out         io.Writer
	declaration bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithIndent indents nested elements.
func WithIndent(prefix, indent string) WriterOption {
	return func(w *Writer) {
		w.enc.Indent(prefix, indent)
	}
}

// WithDeclaration emits an <?xml ...?> declaration at StartDocument.
func WithDeclaration(on bool) WriterOption {
	return func(w *Writer) {
		w.declaration = on
	}
}

// NewWriter creates a Writer on out.
func NewWriter(out io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{enc: xml.NewEncoder(out), out: out}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) StartDocument() error {
	if w.declaration {
		return w.enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)})
	}
	return nil
}

func (w *Writer) EndDocument() error {
	return w.enc.Flush()
}

func (w *Writer) StartElement(name xml.Name, attrs []xml.Attr) error {
	return w.enc.EncodeToken(xml.StartElement{Name: name, Attr: stripNamespaceDecls(attrs)})
}

func (w *Writer) EndElement(name xml.Name) error {
	if err := w.enc.EncodeToken(xml.EndElement{Name: name}); err != nil {
		return fmt.Errorf("write </%s>: %w", name.Local, err)
	}
	return nil
}

func (w *Writer) Characters(text []byte) error {
	return w.enc.EncodeToken(xml.CharData(text))
}

func (w *Writer) Comment(text []byte) error {
	return w.enc.EncodeToken(xml.Comment(text))
}

func (w *Writer) ProcessingInstruction(target string, data []byte) error {
	return w.enc.EncodeToken(xml.ProcInst{Target: target, Inst: data})
}

// The encoder declares namespaces from element names itself; keeping the
// parsed xmlns attributes would declare them twice.
func stripNamespaceDecls(attrs []xml.Attr) []xml.Attr {
	out := attrs[:0:0]
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}
