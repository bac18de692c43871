package components

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/sax"
)

// WriteRequest emits the request of env as a document:
//
//	<request method="GET" uri="docs/a" path="docs/a">
//	  <parameters><parameter name="x"><value>1</value></parameter></parameters>
//	  <headers><header name="Accept">text/html</header></headers>
//	  <attributes><attribute name="a">v</attribute></attributes>
//	</request>
func WriteRequest(h sax.ContentHandler, env *domain.Environment) error {
	req := env.Request
	if err := h.StartDocument(); err != nil {
		return err
	}
	root := sax.Name("request")
	if err := h.StartElement(root, []xml.Attr{
		sax.Attr("method", req.Method),
		sax.Attr("uri", env.URI()),
		sax.Attr("path", req.Path),
	}); err != nil {
		return err
	}

	if err := section(h, "parameters", sortedKeys(req.Params), func(name string) error {
		if err := h.StartElement(sax.Name("parameter"), []xml.Attr{sax.Attr("name", name)}); err != nil {
			return err
		}
		for _, v := range req.Params[name] {
			if err := sax.Element(h, "value", v); err != nil {
				return err
			}
		}
		return h.EndElement(sax.Name("parameter"))
	}); err != nil {
		return err
	}

	if err := section(h, "headers", sortedKeys(req.Header), func(name string) error {
		return sax.Element(h, "header", req.Header.Get(name), sax.Attr("name", name))
	}); err != nil {
		return err
	}

	attrs := make([]string, 0, len(req.Attributes))
	for k := range req.Attributes {
		attrs = append(attrs, k)
	}
	sort.Strings(attrs)
	if err := section(h, "attributes", attrs, func(name string) error {
		return sax.Element(h, "attribute", fmt.Sprint(req.Attributes[name]), sax.Attr("name", name))
	}); err != nil {
		return err
	}

	if err := h.EndElement(root); err != nil {
		return err
	}
	return h.EndDocument()
}

func section(h sax.ContentHandler, name string, keys []string, item func(string) error) error {
	if err := h.StartElement(sax.Name(name), nil); err != nil {
		return err
	}
	for _, k := range keys {
		if err := item(k); err != nil {
			return err
		}
	}
	return h.EndElement(sax.Name(name))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
