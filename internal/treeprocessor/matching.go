package treeprocessor

import (
	"context"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

// matchNode is <map:match type="..." pattern="...">.
type matchNode struct {
	parent
	name     string
	matcher  pipeline.Matcher
	pattern  *Expression
	defaults domain.Parameters
	params   parameters
}

func (n *matchNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	pattern, err := n.pattern.Resolve(ic, env)
	if err != nil {
		return false, err
	}
	params, err := n.params.resolve(ic, env, n.defaults)
	if err != nil {
		return false, err
	}
	result, err := n.matcher.Match(pattern, env, params)
	if err != nil {
		return false, err
	}
	ic.emitNode(ctx, n.kind, n.location, result != nil)
	if result == nil {
		return false, nil
	}
	return invokeNodesWithMap(ctx, env, ic, n.children, n.name, result)
}

// selectNode is <map:select type="..."> with <map:when test="..."> cases and
// an optional <map:otherwise>.
type selectNode struct {
	parent
	selector  pipeline.Selector
	cases     []*whenNode
	otherwise *whenNode
	defaults  domain.Parameters
	params    parameters
}

// whenNode is one case of a select.
type whenNode struct {
	parent
	test *Expression // nil for otherwise
}

func (n *whenNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	return invokeNodes(ctx, env, ic, n.children)
}

func (n *selectNode) Children() []Node {
	out := make([]Node, 0, len(n.cases)+1)
	for _, c := range n.cases {
		out = append(out, c)
	}
	if n.otherwise != nil {
		out = append(out, n.otherwise)
	}
	return out
}

func (n *selectNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	params, err := n.params.resolve(ic, env, n.defaults)
	if err != nil {
		return false, err
	}
	for _, c := range n.cases {
		test, err := c.test.Resolve(ic, env)
		if err != nil {
			return false, processingError(c.location, err)
		}
		ok, err := n.selector.Select(test, env, params)
		if err != nil {
			return false, processingError(c.location, err)
		}
		if ok {
			ic.emitNode(ctx, n.kind, c.location, true)
			return c.Invoke(ctx, env, ic)
		}
	}
	if n.otherwise != nil {
		ic.emitNode(ctx, n.kind, n.otherwise.location, true)
		return n.otherwise.Invoke(ctx, env, ic)
	}
	ic.emitNode(ctx, n.kind, n.location, false)
	return false, nil
}

// actNode is <map:act type="..." src="...">. The children run only when the
// action returns a result map; in every case processing goes on with the
// following siblings unless a child handled the request.
type actNode struct {
	parent
	name     string
	action   pipeline.Action
	src      *Expression
	defaults domain.Parameters
	params   parameters
}

func (n *actNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	setup, err := componentSetup(ic, env, n.location, n.src, n.params, n.defaults)
	if err != nil {
		return false, err
	}
	result, err := n.action.Act(ctx, setup)
	if err != nil {
		return false, err
	}
	ic.emitNode(ctx, n.kind, n.location, result != nil)
	if result == nil {
		return false, nil
	}
	return invokeNodesWithMap(ctx, env, ic, n.children, n.name, result)
}
