package treeprocessor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

// Node is one element of a compiled sitemap.
type Node interface {
	// Invoke handles env. false means the node did not handle the request.
	Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error)
	// Kind is the sitemap element name, e.g. "match".
	Kind() string
	// Label summarizes the node configuration, e.g. the match pattern.
	Label() string
	// Location is the position of the element in its sitemap.
	Location() string
	// Children returns the nested nodes in invocation order.
	Children() []Node
}

type base struct {
	kind     string
	label    string
	location string
}

func (b *base) Kind() string     { return b.kind }
func (b *base) Label() string    { return b.label }
func (b *base) Location() string { return b.location }
func (b *base) Children() []Node { return nil }

// parent is a node with ordered children.
type parent struct {
	base
	children []Node
}

func (p *parent) Children() []Node { return p.children }

// invokeNodes tries nodes in order; the first one returning true wins.
func invokeNodes(ctx context.Context, env *domain.Environment, ic *InvokeContext, nodes []Node) (bool, error) {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := n.Invoke(ctx, env, ic)
		if err != nil {
			return false, processingError(n.Location(), err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// invokeNodesWithMap pushes values for the duration of the call. The map is
// popped on every exit path, so the map stack depth always equals the node
// nesting depth.
func invokeNodesWithMap(ctx context.Context, env *domain.Environment, ic *InvokeContext, nodes []Node, name string, values map[string]string) (ok bool, err error) {
	ic.PushMap(name, values)
	defer func() {
		if perr := ic.PopMap(); perr != nil && err == nil {
			err = perr
		}
	}()
	return invokeNodes(ctx, env, ic, nodes)
}

// pipelinesNode is <map:pipelines>.
type pipelinesNode struct {
	parent
	errors errorHandlers
}

func (n *pipelinesNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	ok, err := invokeNodes(ctx, env, ic, n.children)
	if err != nil {
		return n.errors.handle(ctx, env, ic, err)
	}
	return ok, nil
}

// pipelineNode is <map:pipeline>.
type pipelineNode struct {
	parent
	internalOnly bool
	errors       errorHandlers
}

func (n *pipelineNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	if n.internalOnly && !env.Internal && !ic.BuildingPipelineOnly() {
		return false, nil
	}
	ok, err := invokeNodes(ctx, env, ic, n.children)
	if err != nil {
		return n.errors.handle(ctx, env, ic, err)
	}
	return ok, nil
}

// handleErrorsNode is <map:handle-errors type="500|404">. A 404 handler
// only sees *pipeline.ResourceNotFoundError, a 500 handler everything else.
type handleErrorsNode struct {
	parent
	notFound bool
}

func (n *handleErrorsNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	return invokeNodes(ctx, env, ic, n.children)
}

func (n *handleErrorsNode) accepts(err error) bool {
	var nf *pipeline.ResourceNotFoundError
	return errors.As(err, &nf) == n.notFound
}

type errorHandlers []*handleErrorsNode

// handle renders cause through the first handler accepting it. The original
// error is returned when there is none, when only a pipeline is being built,
// or when the response is already committed.
func (hs errorHandlers) handle(ctx context.Context, env *domain.Environment, ic *InvokeContext, cause error) (bool, error) {
	if ic.BuildingPipelineOnly() || env.Response.Committed() || errors.Is(cause, context.Canceled) {
		return false, cause
	}
	for _, h := range hs {
		if h.accepts(cause) {
			return h.handle(ctx, env, ic, cause)
		}
	}
	return false, cause
}

func (n *handleErrorsNode) handle(ctx context.Context, env *domain.Environment, ic *InvokeContext, cause error) (bool, error) {
	if ic.processor != nil {
		ic.processor.logger.Debug("handling sitemap error", "location", n.location, "err", cause)
	}

	env.SetObjectModel(domain.ObjectModelError, cause)
	defer env.RemoveObjectModel(domain.ObjectModelError)
	env.Response.Status = http.StatusInternalServerError
	if n.notFound {
		env.Response.Status = http.StatusNotFound
	}

	ok, err := n.Invoke(ctx, env, ic.errorContext())
	if err != nil {
		return false, fmt.Errorf("error handler failed: %w (handling: %v)", err, cause)
	}
	if !ok {
		return false, cause
	}
	return true, nil
}
