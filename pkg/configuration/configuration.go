// Package configuration exposes XML configuration trees (sitemaps, renderer
// chains) through attribute and child lookups with typed defaults.
package configuration

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Configuration is one element of a configuration tree.
type Configuration struct {
	el     *etree.Element
	source string
}

// Parse reads a configuration document. source names the document in error
// messages (usually its URI).
func Parse(r io.Reader, source string) (*Configuration, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", source, err)
	}
	return fromDocument(doc, source)
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte, source string) (*Configuration, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", source, err)
	}
	return fromDocument(doc, source)
}

func fromDocument(doc *etree.Document, source string) (*Configuration, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("configuration %s has no root element", source)
	}
	return &Configuration{el: root, source: source}, nil
}

// Name returns the local element name (without prefix).
func (c *Configuration) Name() string {
	return c.el.Tag
}

// Namespace returns the namespace URI of the element.
func (c *Configuration) Namespace() string {
	return c.el.NamespaceURI()
}

// Source returns the name of the document the element came from.
func (c *Configuration) Source() string {
	return c.source
}

// Location describes the element position for error messages,
// e.g. "sitemap.xmap:/map:sitemap/map:pipelines/map:pipeline[2]".
func (c *Configuration) Location() string {
	var parts []string
	for el := c.el; el != nil; el = el.Parent() {
		if el.Parent() == nil && el.Tag == "" {
			break // document node
		}
		parts = append(parts, step(el))
	}
	var sb strings.Builder
	sb.WriteString(c.source)
	sb.WriteString(":")
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteString("/")
		sb.WriteString(parts[i])
	}
	return sb.String()
}

func step(el *etree.Element) string {
	parent := el.Parent()
	if parent == nil {
		return el.FullTag()
	}
	pos, count := 0, 0
	for _, sib := range parent.ChildElements() {
		if sib.Tag == el.Tag && sib.Space == el.Space {
			count++
			if sib == el {
				pos = count
			}
		}
	}
	if count <= 1 {
		return el.FullTag()
	}
	return fmt.Sprintf("%s[%d]", el.FullTag(), pos)
}

// Attribute returns the value of an attribute. name may carry a prefix.
func (c *Configuration) Attribute(name string) (string, bool) {
	space, key := split(name)
	for _, a := range c.el.Attr {
		if a.Key == key && (space == "" || a.Space == space) {
			return a.Value, true
		}
	}
	return "", false
}

// AttributeOr returns the attribute value or def.
func (c *Configuration) AttributeOr(name, def string) string {
	if v, ok := c.Attribute(name); ok {
		return v
	}
	return def
}

// RequiredAttribute returns the attribute value or a *MissingError.
func (c *Configuration) RequiredAttribute(name string) (string, error) {
	v, ok := c.Attribute(name)
	if !ok || v == "" {
		return "", &MissingError{Location: c.Location(), Attribute: name}
	}
	return v, nil
}

// AttributeInt returns the attribute as an int, def when absent.
func (c *Configuration) AttributeInt(name string, def int) (int, error) {
	v, ok := c.Attribute(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: attribute %q is not an integer: %w", c.Location(), name, err)
	}
	return n, nil
}

// AttributeBool returns the attribute as a bool ("true", "yes", "1"...), def when absent.
func (c *Configuration) AttributeBool(name string, def bool) (bool, error) {
	v, ok := c.Attribute(name)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return def, fmt.Errorf("%s: attribute %q is not a boolean: %q", c.Location(), name, v)
}

// AttributeDuration parses the attribute with time.ParseDuration. A bare
// number is taken as milliseconds.
func (c *Configuration) AttributeDuration(name string, def time.Duration) (time.Duration, error) {
	v, ok := c.Attribute(name)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: attribute %q is not a duration: %w", c.Location(), name, err)
	}
	return d, nil
}

// Attributes returns all unprefixed attributes.
func (c *Configuration) Attributes() map[string]string {
	out := make(map[string]string, len(c.el.Attr))
	for _, a := range c.el.Attr {
		if a.Space == "" || a.Space == c.el.Space {
			if a.Space == "" && a.Key == "xmlns" {
				continue
			}
			out[a.Key] = a.Value
		}
	}
	return out
}

// Value returns the trimmed text content.
func (c *Configuration) Value() string {
	return strings.TrimSpace(c.el.Text())
}

// Child returns the first child element with the given local name, or nil.
func (c *Configuration) Child(name string) *Configuration {
	for _, ch := range c.el.ChildElements() {
		if ch.Tag == name {
			return &Configuration{el: ch, source: c.source}
		}
	}
	return nil
}

// Children returns every child element.
func (c *Configuration) Children() []*Configuration {
	kids := c.el.ChildElements()
	out := make([]*Configuration, 0, len(kids))
	for _, ch := range kids {
		out = append(out, &Configuration{el: ch, source: c.source})
	}
	return out
}

// ChildrenNamed returns every child element with the given local name.
func (c *Configuration) ChildrenNamed(name string) []*Configuration {
	var out []*Configuration
	for _, ch := range c.el.ChildElements() {
		if ch.Tag == name {
			out = append(out, &Configuration{el: ch, source: c.source})
		}
	}
	return out
}

// String renders the element as XML.
func (c *Configuration) String() string {
	doc := etree.NewDocument()
	doc.SetRoot(c.el.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return "<" + c.el.FullTag() + ">"
	}
	return s
}

func split(name string) (space, key string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// MissingError reports a required attribute that is absent.
type MissingError struct {
	Location  string
	Attribute string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: missing required attribute %q", e.Location, e.Attribute)
}
