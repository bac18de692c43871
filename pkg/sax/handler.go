package sax

import "encoding/xml"

// ContentHandler receives XML events in document order.
type ContentHandler interface {
	StartDocument() error
	EndDocument() error
	StartElement(name xml.Name, attrs []xml.Attr) error
	EndElement(name xml.Name) error
	Characters(text []byte) error
	Comment(text []byte) error
	ProcessingInstruction(target string, data []byte) error
}

// Base implements ContentHandler by ignoring every event. Embed it to
// implement only the callbacks you care about.
type Base struct{}

func (Base) StartDocument() error                       { return nil }
func (Base) EndDocument() error                         { return nil }
func (Base) StartElement(xml.Name, []xml.Attr) error    { return nil }
func (Base) EndElement(xml.Name) error                  { return nil }
func (Base) Characters([]byte) error                    { return nil }
func (Base) Comment([]byte) error                       { return nil }
func (Base) ProcessingInstruction(string, []byte) error { return nil }

// Forward passes every event to Next. Embed it in transformers that only
// intercept a few callbacks.
type Forward struct {
	Next ContentHandler
}

func (f *Forward) StartDocument() error { return f.Next.StartDocument() }
func (f *Forward) EndDocument() error   { return f.Next.EndDocument() }
func (f *Forward) StartElement(name xml.Name, attrs []xml.Attr) error {
	return f.Next.StartElement(name, attrs)
}
func (f *Forward) EndElement(name xml.Name) error { return f.Next.EndElement(name) }
func (f *Forward) Characters(text []byte) error   { return f.Next.Characters(text) }
func (f *Forward) Comment(text []byte) error      { return f.Next.Comment(text) }
func (f *Forward) ProcessingInstruction(target string, data []byte) error {
	return f.Next.ProcessingInstruction(target, data)
}

// EmbedFilter drops StartDocument/EndDocument so that a complete document can
// be streamed into the middle of another one.
type EmbedFilter struct {
	Forward
}

// NewEmbedFilter wraps next.
func NewEmbedFilter(next ContentHandler) *EmbedFilter {
	return &EmbedFilter{Forward: Forward{Next: next}}
}

func (*EmbedFilter) StartDocument() error { return nil }
func (*EmbedFilter) EndDocument() error   { return nil }

// Attr builds an unqualified attribute.
func Attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// Name builds an unqualified element name.
func Name(local string) xml.Name {
	return xml.Name{Local: local}
}

// AttrValue returns the value of the unqualified attribute name.
func AttrValue(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Element emits a complete element with optional text content.
func Element(h ContentHandler, local, text string, attrs ...xml.Attr) error {
	name := Name(local)
	if err := h.StartElement(name, attrs); err != nil {
		return err
	}
	if text != "" {
		if err := h.Characters([]byte(text)); err != nil {
			return err
		}
	}
	return h.EndElement(name)
}
