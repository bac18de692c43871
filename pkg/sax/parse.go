package sax

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// Parse reads an XML document from r and reports it to h, including the
// StartDocument/EndDocument pair.
func Parse(r io.Reader, h ContentHandler) error {
	if err := h.StartDocument(); err != nil {
		return err
	}
	if err := ParseFragment(r, h); err != nil {
		return err
	}
	return h.EndDocument()
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(data []byte, h ContentHandler) error {
	return Parse(bytes.NewReader(data), h)
}

// ParseFragment reports the element content of r to h without the document
// events. It is used to embed one document into another.
func ParseFragment(r io.Reader, h ContentHandler) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("xml parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = h.StartElement(t.Name, t.Copy().Attr)
		case xml.EndElement:
			err = h.EndElement(t.Name)
		case xml.CharData:
			err = h.Characters(bytes.Clone(t))
		case xml.Comment:
			err = h.Comment(bytes.Clone(t))
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			err = h.ProcessingInstruction(t.Target, bytes.Clone(t.Inst))
		}
		if err != nil {
			return err
		}
	}
}
