package renderer

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/portal/layout"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
)

// DefaultAspects returns the built-in aspects by type name.
func DefaultAspects() map[string]Aspect {
	return map[string]Aspect{
		"xml-element":       XMLElementAspect{},
		"visibility":        VisibilityAspect{},
		"parameters":        ParametersAspect{},
		"composite-content": CompositeContentAspect{},
		"tab-content":       TabContentAspect{},
		"coplet-content":    CopletContentAspect{},
	}
}

// XMLElementAspect wraps the rest of the chain in an element carrying the
// layout id.
type XMLElementAspect struct{}

type xmlElementConfig struct {
	// Tag defaults to the layout type.
	Tag string `mapstructure:"tag"`
}

func (XMLElementAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	var cfg xmlElementConfig
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

func (XMLElementAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(xmlElementConfig)
	tag := cfg.Tag
	if tag == "" {
		tag = l.Type
	}
	var attrs []xml.Attr
	if l.ID != "" {
		attrs = append(attrs, sax.Attr("id", l.ID))
	}
	if err := h.StartElement(sax.Name(tag), attrs); err != nil {
		return err
	}
	if err := rc.InvokeNext(ctx, l, h); err != nil {
		return err
	}
	return h.EndElement(sax.Name(tag))
}

// VisibilityAspect stops the chain for hidden layouts.
type VisibilityAspect struct{}

type visibilityConfig struct {
	Parameter string `mapstructure:"parameter"`
}

func (VisibilityAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	cfg := visibilityConfig{Parameter: "hidden"}
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

func (VisibilityAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(visibilityConfig)
	if v, ok := l.Parameter(cfg.Parameter); ok {
		if hidden, _ := strconv.ParseBool(v); hidden {
			return nil
		}
	}
	return rc.InvokeNext(ctx, l, h)
}

// ParametersAspect emits the layout parameters, sorted by name, before the
// rest of the chain.
type ParametersAspect struct{}

type parametersConfig struct {
	Tag string `mapstructure:"tag"`
}

func (ParametersAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	cfg := parametersConfig{Tag: "parameter"}
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

func (ParametersAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(parametersConfig)
	names := make([]string, 0, len(l.Parameters))
	for name := range l.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := sax.Element(h, cfg.Tag, "", sax.Attr("name", name), sax.Attr("value", l.Parameters[name]))
		if err != nil {
			return err
		}
	}
	return rc.InvokeNext(ctx, l, h)
}

// CompositeContentAspect renders the items of a composite layout. When the
// layout has a maximized item, only that item and the static items are
// rendered.
type CompositeContentAspect struct{}

type compositeConfig struct {
	ItemTag string `mapstructure:"item-tag"`
}

func (CompositeContentAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	cfg := compositeConfig{ItemTag: "item"}
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

func (CompositeContentAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(compositeConfig)
	if !l.IsComposite() {
		return fmt.Errorf("layout %q is not a composite layout", l.ID)
	}
	maximized := l.Maximized()
	for _, item := range l.Items {
		if maximized != nil && item != maximized && !item.Static {
			continue
		}
		var attrs []xml.Attr
		if item.Name != "" {
			attrs = append(attrs, sax.Attr("name", item.Name))
		}
		if item == maximized {
			attrs = append(attrs, sax.Attr("maximized", "true"))
		}
		if err := renderItem(ctx, rc, cfg.ItemTag, attrs, item, h); err != nil {
			return err
		}
	}
	return rc.InvokeNext(ctx, l, h)
}

func renderItem(ctx context.Context, rc *Context, tag string, attrs []xml.Attr, item *layout.Item, h sax.ContentHandler) error {
	if err := h.StartElement(sax.Name(tag), attrs); err != nil {
		return err
	}
	if err := rc.Portal().Render(ctx, item.Layout, h); err != nil {
		return err
	}
	return h.EndElement(sax.Name(tag))
}

// TabContentAspect renders every item of a tab layout as a named item and
// the content of the selected one. Exactly one item is selected: the one at
// the "selected" index, else the one named by "selected-name", else the
// first.
type TabContentAspect struct{}

type tabConfig struct {
	ItemTag string `mapstructure:"item-tag"`
}

func (TabContentAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	cfg := tabConfig{ItemTag: "named-item"}
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

// SelectedTab returns the index of the selected item of l, or -1 when l has
// no items.
func SelectedTab(l *layout.Layout) int {
	if len(l.Items) == 0 {
		return -1
	}
	if n, ok := l.IntParameter("selected"); ok && n >= 0 && n < len(l.Items) {
		return n
	}
	if name, ok := l.Parameter("selected-name"); ok {
		for i, item := range l.Items {
			if item.Name == name {
				return i
			}
		}
	}
	return 0
}

func (TabContentAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(tabConfig)
	selected := SelectedTab(l)
	for i, item := range l.Items {
		attrs := []xml.Attr{sax.Attr("name", item.Name)}
		if i != selected {
			if err := sax.Element(h, cfg.ItemTag, "", attrs...); err != nil {
				return err
			}
			continue
		}
		attrs = append(attrs, sax.Attr("selected", "true"))
		if err := renderItem(ctx, rc, cfg.ItemTag, attrs, item, h); err != nil {
			return err
		}
	}
	return rc.InvokeNext(ctx, l, h)
}

// CopletContentAspect emits the coplet title and, unless the coplet is
// minimized, the content of its definition's URI.
type CopletContentAspect struct{}

type copletConfig struct {
	TitleTag   string `mapstructure:"title-tag"`
	ContentTag string `mapstructure:"content-tag"`
}

func (CopletContentAspect) PrepareConfiguration(conf *configuration.Configuration) (any, error) {
	cfg := copletConfig{TitleTag: "title", ContentTag: "content"}
	err := decodeConfig(conf, &cfg)
	return cfg, err
}

func (CopletContentAspect) ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error {
	cfg := config.(copletConfig)
	if l.Type != layout.TypeCoplet {
		return fmt.Errorf("layout %q is not a coplet layout", l.ID)
	}
	p := rc.Portal()
	inst, def, err := p.Profile.Coplet(l.Coplet)
	if err != nil {
		return err
	}
	title := inst.Title
	if title == "" {
		title = def.Title
	}
	if err := sax.Element(h, cfg.TitleTag, title, sax.Attr("size", string(inst.EffectiveSize()))); err != nil {
		return err
	}
	if inst.EffectiveSize() != profile.SizeMinimized {
		if err := h.StartElement(sax.Name(cfg.ContentTag), nil); err != nil {
			return err
		}
		if err := streamCoplet(ctx, p, def, h); err != nil {
			return fmt.Errorf("coplet %s: %w", inst.ID, err)
		}
		if err := h.EndElement(sax.Name(cfg.ContentTag)); err != nil {
			return err
		}
	}
	return rc.InvokeNext(ctx, l, h)
}

func streamCoplet(ctx context.Context, p *Portal, def *profile.CopletDefinition, h sax.ContentHandler) error {
	if p.Resolver == nil {
		return fmt.Errorf("no source resolver for %s", def.URI)
	}
	src, err := p.Resolver.Resolve(ctx, def.URI, p.Base)
	if err != nil {
		return err
	}
	if xs, ok := src.(ports.XMLSource); ok {
		return xs.ToSAX(ctx, sax.NewEmbedFilter(h))
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	return sax.ParseFragment(rc, h)
}
