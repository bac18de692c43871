package treeprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/source"
)

// DefaultSitemapName is appended to mount sources ending with "/".
const DefaultSitemapName = "sitemap.xmap"

// mountNode is <map:mount src="..." uri-prefix="...">. Child processors are
// created on first use and kept for the lifetime of the tree.
type mountNode struct {
	base
	src         *Expression
	prefix      *Expression
	checkReload bool
	passThrough bool

	mu         sync.Mutex
	processors map[string]*TreeProcessor
}

func (n *mountNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	if ic.processor == nil {
		return false, errors.New("mount outside of a tree processor")
	}
	src, err := n.src.Resolve(ic, env)
	if err != nil {
		return false, err
	}
	prefix, err := n.prefix.Resolve(ic, env)
	if err != nil {
		return false, err
	}
	if strings.HasSuffix(src, "/") {
		src += DefaultSitemapName
	}
	s, err := ic.processor.resolver.Resolve(ctx, src, env.ContextURI())
	if err != nil {
		return false, err
	}
	child := n.child(ic, s.URI())

	requested := env.URI()
	restore := env.ChangeContext(prefix, source.Directory(s.URI()))
	defer restore()

	ok, err := child.invoke(ctx, env, ic)
	if err != nil {
		return false, err
	}
	if !ok && !n.passThrough {
		return false, &pipeline.ResourceNotFoundError{URI: requested}
	}
	return ok, nil
}

func (n *mountNode) child(ic *InvokeContext, uri string) *TreeProcessor {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.processors[uri]; ok {
		return p
	}
	if n.processors == nil {
		n.processors = make(map[string]*TreeProcessor)
	}
	p := ic.processor.newChild(uri, ic.tree.registry, n.checkReload)
	n.processors[uri] = p
	return p
}

// resourceNode is <map:resource name="...">, reachable through call and
// redirect-to resource="...".
type resourceNode struct {
	parent
	name string
}

func (n *resourceNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	return invokeNodes(ctx, env, ic, n.children)
}

// callNode is <map:call resource="...">. Parameters become a result map for
// the resource body.
type callNode struct {
	base
	resource string
	target   *resourceNode
	params   parameters
}

func (n *callNode) Children() []Node {
	if n.target == nil {
		return nil
	}
	return []Node{n.target}
}

func (n *callNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	return callResource(ctx, env, ic, n.target, n.params)
}

func callResource(ctx context.Context, env *domain.Environment, ic *InvokeContext, target *resourceNode, params parameters) (bool, error) {
	if len(params) == 0 {
		return target.Invoke(ctx, env, ic)
	}
	values, err := params.resolve(ic, env, nil)
	if err != nil {
		return false, err
	}
	return invokeNodesWithMap(ctx, env, ic, []Node{target}, "call", values)
}

// redirectNode is <map:redirect-to uri="..."> or resource="...". A cocoon:
// URI is served internally instead of sending a redirect.
type redirectNode struct {
	base
	uri       *Expression
	resource  string
	target    *resourceNode
	params    parameters
	permanent bool
}

func (n *redirectNode) Children() []Node {
	if n.target == nil {
		return nil
	}
	return []Node{n.target}
}

func (n *redirectNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	if n.target != nil {
		return callResource(ctx, env, ic, n.target, n.params)
	}
	uri, err := n.uri.Resolve(ic, env)
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(uri, "cocoon:") {
		return n.internal(ctx, env, ic, uri)
	}
	if ic.BuildingPipelineOnly() {
		return false, fmt.Errorf("cannot redirect an internal request to %s", uri)
	}
	if err := env.Response.SetRedirect(uri, n.permanent); err != nil {
		return false, err
	}
	return true, nil
}

func (n *redirectNode) internal(ctx context.Context, env *domain.Environment, ic *InvokeContext, uri string) (bool, error) {
	src, err := source.NewSitemapSource(ctx, uri)
	if err != nil {
		return false, err
	}
	if ic.BuildingPipelineOnly() {
		ic.SetPipeline(src.Pipeline())
		return true, nil
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return false, err
	}
	defer rc.Close()
	if mt := src.MimeType(); mt != "" {
		env.Response.ContentType = mt
	}
	if _, err := io.Copy(env.Response, rc); err != nil {
		return false, err
	}
	return true, nil
}
