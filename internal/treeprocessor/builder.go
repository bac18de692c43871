package treeprocessor

import (
	"fmt"
	"strings"

	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/registry"
)

// SitemapNamespace is the namespace of sitemap elements.
const SitemapNamespace = "http://apache.org/cocoon/sitemap/1.0"

// componentGroups maps <map:components> sections to registry kinds.
var componentGroups = map[string]registry.Kind{
	"generators":   registry.KindGenerator,
	"transformers": registry.KindTransformer,
	"serializers":  registry.KindSerializer,
	"readers":      registry.KindReader,
	"matchers":     registry.KindMatcher,
	"selectors":    registry.KindSelector,
	"actions":      registry.KindAction,
}

// tree is one compiled sitemap.
type tree struct {
	root      Node
	registry  *registry.Registry
	globals   map[string]string
	resources map[string]*resourceNode
}

type builder struct {
	reg       *registry.Registry
	globals   map[string]string
	resources map[string]*resourceNode
	// calls are bound to their resources once every resource is known.
	bindings []func() error
}

// Build compiles a sitemap configuration. Components declared in the sitemap
// are layered on top of parent.
func Build(conf *configuration.Configuration, parent *registry.Registry) (Node, error) {
	t, err := buildTree(conf, parent)
	if err != nil {
		return nil, err
	}
	return t.root, nil
}

func buildTree(conf *configuration.Configuration, parent *registry.Registry) (*tree, error) {
	if conf.Name() != "sitemap" || conf.Namespace() != SitemapNamespace {
		return nil, &BuildError{
			Location: conf.Location(),
			Err:      fmt.Errorf("%w: root must be <sitemap> in %s", ErrInvalidSitemap, SitemapNamespace),
		}
	}
	b := &builder{
		reg:       parent.Child(),
		globals:   make(map[string]string),
		resources: make(map[string]*resourceNode),
	}

	if c := conf.Child("components"); c != nil {
		if err := b.components(c); err != nil {
			return nil, err
		}
	}
	if g := conf.Child("global-variables"); g != nil {
		b.globalVariables(g)
	}
	if r := conf.Child("resources"); r != nil {
		if err := b.resourceList(r); err != nil {
			return nil, err
		}
	}
	pc := conf.Child("pipelines")
	if pc == nil {
		return nil, &BuildError{Location: conf.Location(), Err: fmt.Errorf("%w: missing <pipelines>", ErrInvalidSitemap)}
	}
	root, err := b.pipelines(pc)
	if err != nil {
		return nil, err
	}
	for _, bind := range b.bindings {
		if err := bind(); err != nil {
			return nil, err
		}
	}
	return &tree{root: root, registry: b.reg, globals: b.globals, resources: b.resources}, nil
}

func (b *builder) components(conf *configuration.Configuration) error {
	for _, group := range conf.Children() {
		kind, ok := componentGroups[group.Name()]
		if !ok {
			return buildErrorf(group.Location(), "unknown component section <%s>", group.Name())
		}
		for _, c := range group.Children() {
			name, err := c.RequiredAttribute("name")
			if err != nil {
				return &BuildError{Location: c.Location(), Err: err}
			}
			target, err := c.RequiredAttribute("src")
			if err != nil {
				return &BuildError{Location: c.Location(), Err: err}
			}
			if err := b.reg.Alias(kind, name, target, componentParams(c)); err != nil {
				return &BuildError{Location: c.Location(), Err: err}
			}
		}
		if def, ok := group.Attribute("default"); ok {
			if _, err := b.reg.Lookup(kind, def); err != nil {
				return &BuildError{Location: group.Location(), Err: fmt.Errorf("default: %w", err)}
			}
			b.reg.SetDefault(kind, def)
		}
	}
	return nil
}

// componentParams reads the configuration of a declared component: either
// <parameter name="" value=""/> children or plain <name>value</name> ones.
func componentParams(c *configuration.Configuration) domain.Parameters {
	params := domain.Parameters{}
	for _, p := range c.Children() {
		if p.Name() == "parameter" {
			if name, ok := p.Attribute("name"); ok {
				params[name] = p.AttributeOr("value", p.Value())
			}
			continue
		}
		params[p.Name()] = p.Value()
	}
	return params
}

func (b *builder) globalVariables(conf *configuration.Configuration) {
	for _, v := range conf.Children() {
		b.globals[v.Name()] = v.Value()
	}
}

func (b *builder) resourceList(conf *configuration.Configuration) error {
	for _, r := range conf.ChildrenNamed("resource") {
		name, err := r.RequiredAttribute("name")
		if err != nil {
			return &BuildError{Location: r.Location(), Err: err}
		}
		if _, dup := b.resources[name]; dup {
			return buildErrorf(r.Location(), "duplicate resource %q", name)
		}
		children, err := b.statements(r)
		if err != nil {
			return err
		}
		b.resources[name] = &resourceNode{
			parent: parent{base: base{kind: "resource", label: name, location: r.Location()}, children: children},
			name:   name,
		}
	}
	return nil
}

func (b *builder) pipelines(conf *configuration.Configuration) (Node, error) {
	n := &pipelinesNode{parent: parent{base: base{kind: "pipelines", location: conf.Location()}}}
	for _, c := range conf.Children() {
		switch c.Name() {
		case "pipeline":
			p, err := b.pipeline(c)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, p)
		case "handle-errors":
			h, err := b.handleErrors(c)
			if err != nil {
				return nil, err
			}
			n.errors = append(n.errors, h)
		case "component-configurations":
		default:
			return nil, buildErrorf(c.Location(), "unexpected <%s> in pipelines", c.Name())
		}
	}
	return n, nil
}

func (b *builder) pipeline(conf *configuration.Configuration) (*pipelineNode, error) {
	internal, err := conf.AttributeBool("internal-only", false)
	if err != nil {
		return nil, &BuildError{Location: conf.Location(), Err: err}
	}
	n := &pipelineNode{
		parent:       parent{base: base{kind: "pipeline", location: conf.Location()}},
		internalOnly: internal,
	}
	if internal {
		n.label = "internal-only"
	}
	var body []*configuration.Configuration
	for _, c := range conf.Children() {
		if c.Name() == "handle-errors" {
			h, err := b.handleErrors(c)
			if err != nil {
				return nil, err
			}
			n.errors = append(n.errors, h)
			continue
		}
		body = append(body, c)
	}
	n.children, err = b.nodes(body)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (b *builder) handleErrors(conf *configuration.Configuration) (*handleErrorsNode, error) {
	typ := conf.AttributeOr("type", "500")
	if typ != "500" && typ != "404" {
		return nil, buildErrorf(conf.Location(), "handle-errors type must be 404 or 500, got %q", typ)
	}
	children, err := b.statements(conf)
	if err != nil {
		return nil, err
	}
	return &handleErrorsNode{
		parent:   parent{base: base{kind: "handle-errors", label: typ, location: conf.Location()}, children: children},
		notFound: typ == "404",
	}, nil
}

// statements compiles the children of conf, skipping parameters which
// belong to conf itself.
func (b *builder) statements(conf *configuration.Configuration) ([]Node, error) {
	return b.nodes(conf.Children())
}

func (b *builder) nodes(list []*configuration.Configuration) ([]Node, error) {
	var out []Node
	for _, c := range list {
		if c.Name() == "parameter" {
			continue
		}
		n, err := b.node(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (b *builder) node(c *configuration.Configuration) (Node, error) {
	switch c.Name() {
	case "match":
		return b.match(c)
	case "select":
		return b.selectNode(c)
	case "act":
		return b.act(c)
	case "generate":
		return b.generate(c)
	case "transform":
		return b.transform(c)
	case "serialize":
		return b.serialize(c)
	case "read":
		return b.read(c)
	case "mount":
		return b.mount(c)
	case "redirect-to":
		return b.redirect(c)
	case "call":
		return b.call(c)
	}
	return nil, buildErrorf(c.Location(), "unknown sitemap statement <%s>", c.Name())
}

func (b *builder) expression(c *configuration.Configuration, attr string, required bool) (*Expression, error) {
	v, ok := c.Attribute(attr)
	if !ok {
		if required {
			return nil, &BuildError{Location: c.Location(), Err: &configuration.MissingError{Location: c.Location(), Attribute: attr}}
		}
		return nil, nil
	}
	e, err := CompileExpression(v)
	if err != nil {
		return nil, &BuildError{Location: c.Location(), Err: fmt.Errorf("attribute %q: %w", attr, err)}
	}
	return e, nil
}

func (b *builder) parameters(c *configuration.Configuration) (parameters, error) {
	params := parameters{}
	for _, p := range c.ChildrenNamed("parameter") {
		name, err := p.RequiredAttribute("name")
		if err != nil {
			return nil, &BuildError{Location: p.Location(), Err: err}
		}
		e, err := CompileExpression(p.AttributeOr("value", p.Value()))
		if err != nil {
			return nil, &BuildError{Location: p.Location(), Err: err}
		}
		params[name] = e
	}
	return params, nil
}

// component resolves the type attribute of c against the registry.
func component[T any](b *builder, kind registry.Kind, c *configuration.Configuration) (T, registry.Entry, error) {
	var zero T
	e, err := b.reg.Lookup(kind, c.AttributeOr("type", ""))
	if err != nil {
		return zero, e, &BuildError{Location: c.Location(), Err: err}
	}
	comp, ok := e.Component.(T)
	if !ok {
		return zero, e, buildErrorf(c.Location(), "%s %q has the wrong type %T", kind, e.Name, e.Component)
	}
	return comp, e, nil
}

func (b *builder) match(c *configuration.Configuration) (Node, error) {
	m, e, err := component[pipeline.Matcher](b, registry.KindMatcher, c)
	if err != nil {
		return nil, err
	}
	pattern, err := b.expression(c, "pattern", true)
	if err != nil {
		return nil, err
	}
	params, err := b.parameters(c)
	if err != nil {
		return nil, err
	}
	children, err := b.statements(c)
	if err != nil {
		return nil, err
	}
	return &matchNode{
		parent:   parent{base: base{kind: "match", label: e.Name + " " + pattern.String(), location: c.Location()}, children: children},
		name:     c.AttributeOr("name", "match"),
		matcher:  m,
		pattern:  pattern,
		defaults: e.Params,
		params:   params,
	}, nil
}

func (b *builder) selectNode(c *configuration.Configuration) (Node, error) {
	s, e, err := component[pipeline.Selector](b, registry.KindSelector, c)
	if err != nil {
		return nil, err
	}
	params, err := b.parameters(c)
	if err != nil {
		return nil, err
	}
	n := &selectNode{
		parent:   parent{base: base{kind: "select", label: e.Name, location: c.Location()}},
		selector: s,
		defaults: e.Params,
		params:   params,
	}
	for _, w := range c.Children() {
		switch w.Name() {
		case "parameter":
		case "when":
			test, err := b.expression(w, "test", true)
			if err != nil {
				return nil, err
			}
			children, err := b.statements(w)
			if err != nil {
				return nil, err
			}
			n.cases = append(n.cases, &whenNode{
				parent: parent{base: base{kind: "when", label: test.String(), location: w.Location()}, children: children},
				test:   test,
			})
		case "otherwise":
			if n.otherwise != nil {
				return nil, buildErrorf(w.Location(), "more than one <otherwise>")
			}
			children, err := b.statements(w)
			if err != nil {
				return nil, err
			}
			n.otherwise = &whenNode{parent: parent{base: base{kind: "otherwise", location: w.Location()}, children: children}}
		default:
			return nil, buildErrorf(w.Location(), "unexpected <%s> in select", w.Name())
		}
	}
	if len(n.cases) == 0 && n.otherwise == nil {
		return nil, buildErrorf(c.Location(), "select without when")
	}
	return n, nil
}

func (b *builder) act(c *configuration.Configuration) (Node, error) {
	a, e, err := component[pipeline.Action](b, registry.KindAction, c)
	if err != nil {
		return nil, err
	}
	src, err := b.expression(c, "src", false)
	if err != nil {
		return nil, err
	}
	params, err := b.parameters(c)
	if err != nil {
		return nil, err
	}
	children, err := b.statements(c)
	if err != nil {
		return nil, err
	}
	return &actNode{
		parent:   parent{base: base{kind: "act", label: e.Name, location: c.Location()}, children: children},
		name:     c.AttributeOr("name", "act"),
		action:   a,
		src:      src,
		defaults: e.Params,
		params:   params,
	}, nil
}

func (b *builder) stage(c *configuration.Configuration, kind string, e registry.Entry, srcRequired bool) (stage, error) {
	src, err := b.expression(c, "src", srcRequired)
	if err != nil {
		return stage{}, err
	}
	params, err := b.parameters(c)
	if err != nil {
		return stage{}, err
	}
	label := e.Name
	if src != nil {
		label += " " + src.String()
	}
	return stage{
		base:     base{kind: kind, label: label, location: c.Location()},
		typ:      e.Name,
		src:      src,
		defaults: e.Params,
		params:   params,
	}, nil
}

func (b *builder) generate(c *configuration.Configuration) (Node, error) {
	g, e, err := component[pipeline.Generator](b, registry.KindGenerator, c)
	if err != nil {
		return nil, err
	}
	s, err := b.stage(c, "generate", e, false)
	if err != nil {
		return nil, err
	}
	return &generateNode{stage: s, generator: g}, nil
}

func (b *builder) transform(c *configuration.Configuration) (Node, error) {
	t, e, err := component[pipeline.Transformer](b, registry.KindTransformer, c)
	if err != nil {
		return nil, err
	}
	s, err := b.stage(c, "transform", e, false)
	if err != nil {
		return nil, err
	}
	return &transformNode{stage: s, transformer: t}, nil
}

func (b *builder) terminal(c *configuration.Configuration) (terminal, error) {
	mt, err := b.expression(c, "mime-type", false)
	if err != nil {
		return terminal{}, err
	}
	status, err := b.expression(c, "status-code", false)
	if err != nil {
		return terminal{}, err
	}
	return terminal{mimeType: mt, statusCode: status}, nil
}

func (b *builder) serialize(c *configuration.Configuration) (Node, error) {
	ser, e, err := component[pipeline.Serializer](b, registry.KindSerializer, c)
	if err != nil {
		return nil, err
	}
	s, err := b.stage(c, "serialize", e, false)
	if err != nil {
		return nil, err
	}
	t, err := b.terminal(c)
	if err != nil {
		return nil, err
	}
	return &serializeNode{stage: s, terminal: t, serializer: ser}, nil
}

func (b *builder) read(c *configuration.Configuration) (Node, error) {
	r, e, err := component[pipeline.Reader](b, registry.KindReader, c)
	if err != nil {
		return nil, err
	}
	s, err := b.stage(c, "read", e, true)
	if err != nil {
		return nil, err
	}
	t, err := b.terminal(c)
	if err != nil {
		return nil, err
	}
	return &readNode{stage: s, terminal: t, reader: r}, nil
}

func (b *builder) mount(c *configuration.Configuration) (Node, error) {
	src, err := b.expression(c, "src", true)
	if err != nil {
		return nil, err
	}
	prefix, err := b.expression(c, "uri-prefix", false)
	if err != nil {
		return nil, err
	}
	if prefix == nil {
		prefix = MustCompileExpression("")
	}
	checkReload, err := c.AttributeBool("check-reload", true)
	if err != nil {
		return nil, &BuildError{Location: c.Location(), Err: err}
	}
	passThrough, err := c.AttributeBool("pass-through", false)
	if err != nil {
		return nil, &BuildError{Location: c.Location(), Err: err}
	}
	return &mountNode{
		base:        base{kind: "mount", label: strings.TrimSpace(prefix.String() + " " + src.String()), location: c.Location()},
		src:         src,
		prefix:      prefix,
		checkReload: checkReload,
		passThrough: passThrough,
	}, nil
}

func (b *builder) call(c *configuration.Configuration) (Node, error) {
	name, err := c.RequiredAttribute("resource")
	if err != nil {
		return nil, &BuildError{Location: c.Location(), Err: err}
	}
	params, err := b.parameters(c)
	if err != nil {
		return nil, err
	}
	n := &callNode{base: base{kind: "call", label: name, location: c.Location()}, resource: name, params: params}
	b.bindings = append(b.bindings, func() error {
		r, ok := b.resources[name]
		if !ok {
			return buildErrorf(n.location, "unknown resource %q", name)
		}
		n.target = r
		return nil
	})
	return n, nil
}

func (b *builder) redirect(c *configuration.Configuration) (Node, error) {
	permanent, err := c.AttributeBool("permanent", false)
	if err != nil {
		return nil, &BuildError{Location: c.Location(), Err: err}
	}
	params, err := b.parameters(c)
	if err != nil {
		return nil, err
	}
	n := &redirectNode{base: base{kind: "redirect-to", location: c.Location()}, permanent: permanent, params: params}

	if name, ok := c.Attribute("resource"); ok {
		n.resource, n.label = name, "resource "+name
		b.bindings = append(b.bindings, func() error {
			r, ok := b.resources[name]
			if !ok {
				return buildErrorf(n.location, "unknown resource %q", name)
			}
			n.target = r
			return nil
		})
		return n, nil
	}
	n.uri, err = b.expression(c, "uri", true)
	if err != nil {
		return nil, err
	}
	n.label = n.uri.String()
	return n, nil
}
