package treeprocessor

import (
	"fmt"
	"strings"

	"github.com/aretw0/cocoon/pkg/domain"
)

// Input modules available as {module:key}.
const (
	ModuleRequestParam  = "request-param"
	ModuleRequestHeader = "request-header"
	ModuleRequestAttr   = "request-attr"
	ModuleGlobal        = "global"
	ModuleEnv           = "env"
)

var modules = map[string]bool{
	ModuleRequestParam:  true,
	ModuleRequestHeader: true,
	ModuleRequestAttr:   true,
	ModuleGlobal:        true,
	ModuleEnv:           true,
}

// variable is one {...} reference.
type variable struct {
	module string // input module, or "" for a result map
	anchor string // {#name:key}
	level  int    // number of "../"
	key    string
}

type segment struct {
	literal string
	v       *variable
}

// Expression is an attribute value with {...} references, compiled once at
// build time and resolved per request.
//
//	{1}                  group 1 of the innermost result map
//	{../1}               group 1 of the map one level up
//	{#name:key}          key of the innermost map pushed by the node named name
//	{request-param:x}    request parameter x (also request-header, request-attr)
//	{global:x}           sitemap global variable x
//	{env:URI}            sitemap URI (also env:prefix, env:context)
//
// A backslash escapes the next character.
type Expression struct {
	raw      string
	segments []segment
}

// CompileExpression parses s.
func CompileExpression(s string) (*Expression, error) {
	e := &Expression{raw: s}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			e.segments = append(e.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				i++
				lit.WriteByte(s[i])
				continue
			}
			lit.WriteByte(c)
		case '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated variable in %q", s)
			}
			v, err := parseVariable(s[i+1 : i+1+end])
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, s)
			}
			flush()
			e.segments = append(e.segments, segment{v: v})
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return e, nil
}

// MustCompileExpression is CompileExpression for constants.
func MustCompileExpression(s string) *Expression {
	e, err := CompileExpression(s)
	if err != nil {
		panic(err)
	}
	return e
}

func parseVariable(body string) (*variable, error) {
	if body == "" {
		return nil, fmt.Errorf("empty variable")
	}
	if strings.HasPrefix(body, "#") {
		anchor, key, ok := strings.Cut(body[1:], ":")
		if !ok || anchor == "" || key == "" {
			return nil, fmt.Errorf("invalid anchored variable {%s}", body)
		}
		return &variable{anchor: anchor, key: key}, nil
	}
	if module, key, ok := strings.Cut(body, ":"); ok {
		if !modules[module] {
			return nil, fmt.Errorf("unknown input module %q", module)
		}
		return &variable{module: module, key: key}, nil
	}
	v := &variable{}
	for strings.HasPrefix(body, "../") {
		v.level++
		body = body[3:]
	}
	if body == "" {
		return nil, fmt.Errorf("empty variable")
	}
	v.key = body
	return v, nil
}

// String returns the source text.
func (e *Expression) String() string { return e.raw }

// Constant reports whether the expression has no variables.
func (e *Expression) Constant() bool {
	for _, s := range e.segments {
		if s.v != nil {
			return false
		}
	}
	return true
}

// Resolve substitutes every variable. Unknown keys resolve to "".
func (e *Expression) Resolve(ic *InvokeContext, env *domain.Environment) (string, error) {
	if len(e.segments) == 1 && e.segments[0].v == nil {
		return e.segments[0].literal, nil
	}
	var sb strings.Builder
	for _, s := range e.segments {
		if s.v == nil {
			sb.WriteString(s.literal)
			continue
		}
		val, err := s.v.resolve(ic, env)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", e.raw, err)
		}
		sb.WriteString(val)
	}
	return sb.String(), nil
}

func (v *variable) resolve(ic *InvokeContext, env *domain.Environment) (string, error) {
	switch v.module {
	case "":
	case ModuleRequestParam:
		s, _ := env.Request.Param(v.key)
		return s, nil
	case ModuleRequestHeader:
		return env.Request.HeaderValue(v.key), nil
	case ModuleRequestAttr:
		if a, ok := env.Request.Attributes[v.key]; ok {
			return fmt.Sprint(a), nil
		}
		return "", nil
	case ModuleGlobal:
		return ic.globals()[v.key], nil
	case ModuleEnv:
		switch v.key {
		case "URI":
			return env.URI(), nil
		case "prefix":
			return env.Prefix(), nil
		case "context":
			return env.ContextURI(), nil
		}
		return "", fmt.Errorf("unknown env key %q", v.key)
	}

	if v.anchor != "" {
		m, ok := ic.NamedMap(v.anchor)
		if !ok {
			return "", fmt.Errorf("no result map named %q", v.anchor)
		}
		return m[v.key], nil
	}
	m, ok := ic.Map(v.level)
	if !ok {
		return "", fmt.Errorf("no result map %d levels up (depth %d)", v.level, ic.Depth())
	}
	return m[v.key], nil
}

// parameters holds the <map:parameter> children of a node.
type parameters map[string]*Expression

func (p parameters) resolve(ic *InvokeContext, env *domain.Environment, defaults domain.Parameters) (domain.Parameters, error) {
	out := defaults.Clone()
	for name, e := range p {
		v, err := e.Resolve(ic, env)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
