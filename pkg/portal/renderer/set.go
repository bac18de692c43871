package renderer

import (
	"fmt"

	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/portal/layout"
	"github.com/mitchellh/mapstructure"
)

// Set holds the configured renderers and the default renderer per layout type.
type Set struct {
	renderers map[string]*Renderer
	defaults  map[string]string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{renderers: make(map[string]*Renderer), defaults: make(map[string]string)}
}

// Add registers r under its name, replacing any previous renderer.
func (s *Set) Add(r *Renderer) {
	s.renderers[r.Name] = r
}

// SetDefault makes renderer the default for layouts of layoutType.
func (s *Set) SetDefault(layoutType, renderer string) {
	s.defaults[layoutType] = renderer
}

// Get returns a renderer by name.
func (s *Set) Get(name string) (*Renderer, bool) {
	r, ok := s.renderers[name]
	return r, ok
}

// ForLayout returns the renderer named by the layout, or the default for its
// type.
func (s *Set) ForLayout(l *layout.Layout) (*Renderer, error) {
	name := l.Renderer
	if name == "" {
		name = s.defaults[l.Type]
	}
	if r, ok := s.renderers[name]; ok {
		return r, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: type %q", ErrNoRenderer, l.Type)
	}
	return nil, fmt.Errorf("%w: %q (layout %q)", ErrNoRenderer, name, l.ID)
}

// ParseSet builds a set from a renderer configuration:
//
//	<renderers>
//	  <renderer name="row">
//	    <aspect type="xml-element"><parameter name="tag" value="row"/></aspect>
//	    <aspect type="composite-content"/>
//	  </renderer>
//	  <default layout="row" renderer="row"/>
//	</renderers>
//
// Aspect types are looked up in aspects.
func ParseSet(conf *configuration.Configuration, aspects map[string]Aspect) (*Set, error) {
	s := NewSet()
	for _, rc := range conf.ChildrenNamed("renderer") {
		name, err := rc.RequiredAttribute("name")
		if err != nil {
			return nil, err
		}
		if _, dup := s.renderers[name]; dup {
			return nil, fmt.Errorf("%s: duplicate renderer %q", rc.Location(), name)
		}
		r := &Renderer{Name: name}
		for _, ac := range rc.ChildrenNamed("aspect") {
			typ, err := ac.RequiredAttribute("type")
			if err != nil {
				return nil, err
			}
			aspect, ok := aspects[typ]
			if !ok {
				return nil, fmt.Errorf("%s: unknown aspect type %q", ac.Location(), typ)
			}
			cfg, err := aspect.PrepareConfiguration(ac)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ac.Location(), err)
			}
			r.Steps = append(r.Steps, Step{Aspect: aspect, Config: cfg})
		}
		if len(r.Steps) == 0 {
			return nil, fmt.Errorf("%s: renderer %q has no aspects", rc.Location(), name)
		}
		s.Add(r)
	}
	for _, dc := range conf.ChildrenNamed("default") {
		typ, err := dc.RequiredAttribute("layout")
		if err != nil {
			return nil, err
		}
		name, err := dc.RequiredAttribute("renderer")
		if err != nil {
			return nil, err
		}
		if _, ok := s.renderers[name]; !ok {
			return nil, fmt.Errorf("%s: unknown renderer %q", dc.Location(), name)
		}
		s.SetDefault(typ, name)
	}
	return s, nil
}

const defaultRenderers = `<renderers>
  <renderer name="row">
    <aspect type="visibility"/>
    <aspect type="xml-element"><tag>row</tag></aspect>
    <aspect type="parameters"/>
    <aspect type="composite-content"/>
  </renderer>
  <renderer name="column">
    <aspect type="visibility"/>
    <aspect type="xml-element"><tag>column</tag></aspect>
    <aspect type="parameters"/>
    <aspect type="composite-content"/>
  </renderer>
  <renderer name="tab">
    <aspect type="visibility"/>
    <aspect type="xml-element"><tag>tab-layout</tag></aspect>
    <aspect type="parameters"/>
    <aspect type="tab-content"/>
  </renderer>
  <renderer name="coplet">
    <aspect type="visibility"/>
    <aspect type="xml-element"><tag>coplet</tag></aspect>
    <aspect type="coplet-content"/>
  </renderer>
  <default layout="row" renderer="row"/>
  <default layout="column" renderer="column"/>
  <default layout="tab" renderer="tab"/>
  <default layout="coplet" renderer="coplet"/>
</renderers>`

// DefaultSet returns renderers for the built-in layout types, made of the
// built-in aspects.
func DefaultSet() (*Set, error) {
	conf, err := configuration.ParseBytes([]byte(defaultRenderers), "default-renderers")
	if err != nil {
		return nil, err
	}
	return ParseSet(conf, DefaultAspects())
}

// decodeConfig reads the parameters of an <aspect> element into out. Both
// <parameter name="n" value="v"/> and <n>v</n> are accepted.
func decodeConfig(conf *configuration.Configuration, out any) error {
	raw := make(map[string]any)
	for _, c := range conf.Children() {
		if c.Name() == "parameter" {
			if name, ok := c.Attribute("name"); ok {
				raw[name] = c.AttributeOr("value", c.Value())
			}
			continue
		}
		raw[c.Name()] = c.Value()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
