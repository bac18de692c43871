package components

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/sax"
)

// ParameterSelector compares the test expression with the sitemap parameter
// "parameter-selector-test".
type ParameterSelector struct{}

func (ParameterSelector) Select(expression string, _ *domain.Environment, params domain.Parameters) (bool, error) {
	return params.Get("parameter-selector-test", "") == expression, nil
}

// RequestParameterSelector compares the test expression with the request
// parameter named by the "parameter-name" parameter.
type RequestParameterSelector struct{}

func (RequestParameterSelector) Select(expression string, env *domain.Environment, params domain.Parameters) (bool, error) {
	name := params.Get("parameter-name", "")
	if name == "" {
		return false, fmt.Errorf("request-parameter selector needs a parameter-name parameter")
	}
	v, ok := env.Request.Param(name)
	return ok && v == expression, nil
}

// HeaderSelector compares the test expression with the request header named
// by the "header-name" parameter.
type HeaderSelector struct{}

func (HeaderSelector) Select(expression string, env *domain.Environment, params domain.Parameters) (bool, error) {
	name := params.Get("header-name", "")
	if name == "" {
		return false, fmt.Errorf("header selector needs a header-name parameter")
	}
	return env.Request.HeaderValue(name) == expression, nil
}

// XPathSelector evaluates the test expression against the request document
// produced by the request generator, e.g.
// test="/request/parameters/parameter[@name='format']/value = 'pdf'".
type XPathSelector struct {
	mu    sync.Mutex
	exprs map[string]*xpath.Expr
}

// NewXPathSelector creates an XPathSelector.
func NewXPathSelector() *XPathSelector {
	return &XPathSelector{exprs: make(map[string]*xpath.Expr)}
}

func (s *XPathSelector) compile(expression string) (*xpath.Expr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.exprs[expression]; ok {
		return e, nil
	}
	e, err := xpath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expression, err)
	}
	s.exprs[expression] = e
	return e, nil
}

func (s *XPathSelector) Select(expression string, env *domain.Environment, _ domain.Parameters) (bool, error) {
	expr, err := s.compile(expression)
	if err != nil {
		return false, err
	}
	var buf bytes.Buffer
	if err := WriteRequest(sax.NewWriter(&buf), env); err != nil {
		return false, err
	}
	doc, err := xmlquery.Parse(&buf)
	if err != nil {
		return false, fmt.Errorf("parsing request document: %w", err)
	}
	return truthy(expr.Evaluate(xmlquery.CreateXPathNavigator(doc))), nil
}

// truthy applies the XPath boolean() conversion.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case *xpath.NodeIterator:
		return t.MoveNext()
	}
	return false
}
