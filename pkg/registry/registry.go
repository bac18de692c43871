// Package registry holds the named sitemap components available to a
// sitemap, layered so that a mounted sitemap can add or override components
// without affecting its parent.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

// Kind identifies a family of sitemap components.
type Kind string

const (
	KindMatcher     Kind = "matcher"
	KindSelector    Kind = "selector"
	KindAction      Kind = "action"
	KindGenerator   Kind = "generator"
	KindTransformer Kind = "transformer"
	KindSerializer  Kind = "serializer"
	KindReader      Kind = "reader"
)

// Kinds lists every kind in sitemap declaration order.
var Kinds = []Kind{KindGenerator, KindTransformer, KindSerializer, KindReader, KindMatcher, KindSelector, KindAction}

// ErrNotFound is returned when no component is registered under a name.
var ErrNotFound = errors.New("component not found")

// Entry is a registered component plus the parameters declared with it.
type Entry struct {
	Name      string
	Component any
	Params    domain.Parameters
}

// Registry manages the available components.
type Registry struct {
	parent *Registry

	mu       sync.RWMutex
	entries  map[Kind]map[string]Entry
	defaults map[Kind]string
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[Kind]map[string]Entry),
		defaults: make(map[Kind]string),
	}
}

// Child creates a registry whose lookups fall back to r.
func (r *Registry) Child() *Registry {
	c := NewRegistry()
	c.parent = r
	return c
}

// Register adds a component. If a component with the same name exists in
// this layer, it is overwritten. The component must implement the interface
// of its kind.
func (r *Registry) Register(kind Kind, name string, component any) error {
	if err := checkKind(kind, component); err != nil {
		return fmt.Errorf("register %s %q: %w", kind, name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(kind, Entry{Name: name, Component: component})
	return nil
}

// MustRegister is Register for built-in wiring; it panics on a kind mismatch.
func (r *Registry) MustRegister(kind Kind, name string, component any) *Registry {
	if err := r.Register(kind, name, component); err != nil {
		panic(err)
	}
	return r
}

// Alias registers name as target with default parameters. Parameters given
// at use sites override the alias defaults.
func (r *Registry) Alias(kind Kind, name, target string, params domain.Parameters) error {
	base, err := r.Lookup(kind, target)
	if err != nil {
		return err
	}
	merged := base.Params.Clone()
	if merged == nil {
		merged = domain.Parameters{}
	}
	for k, v := range params {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(kind, Entry{Name: name, Component: base.Component, Params: merged})
	return nil
}

func (r *Registry) put(kind Kind, e Entry) {
	m, ok := r.entries[kind]
	if !ok {
		m = make(map[string]Entry)
		r.entries[kind] = m
	}
	m[e.Name] = e
}

// SetDefault sets the component used when a sitemap element has no type.
func (r *Registry) SetDefault(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[kind] = name
}

// Default returns the default component name for kind.
func (r *Registry) Default(kind Kind) string {
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		name, ok := reg.defaults[kind]
		reg.mu.RUnlock()
		if ok {
			return name
		}
	}
	return ""
}

// Lookup finds a component by kind and name. An empty name selects the default.
func (r *Registry) Lookup(kind Kind, name string) (Entry, error) {
	if name == "" {
		name = r.Default(kind)
		if name == "" {
			return Entry{}, fmt.Errorf("no default %s: %w", kind, ErrNotFound)
		}
	}
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		e, ok := reg.entries[kind][name]
		reg.mu.RUnlock()
		if ok {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// Names lists the component names visible for kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	seen := make(map[string]bool)
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		for name := range reg.entries[kind] {
			seen[name] = true
		}
		reg.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func checkKind(kind Kind, c any) error {
	var ok bool
	switch kind {
	case KindMatcher:
		_, ok = c.(pipeline.Matcher)
	case KindSelector:
		_, ok = c.(pipeline.Selector)
	case KindAction:
		_, ok = c.(pipeline.Action)
	case KindGenerator:
		_, ok = c.(pipeline.Generator)
	case KindTransformer:
		_, ok = c.(pipeline.Transformer)
	case KindSerializer:
		_, ok = c.(pipeline.Serializer)
	case KindReader:
		_, ok = c.(pipeline.Reader)
	default:
		return fmt.Errorf("unknown component kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("%T does not implement %s", c, kind)
	}
	return nil
}
