package treeprocessor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

func componentSetup(ic *InvokeContext, env *domain.Environment, location string, src *Expression, params parameters, defaults domain.Parameters) (pipeline.Setup, error) {
	s := pipeline.Setup{Env: env, Base: env.ContextURI(), Location: location}
	if ic.processor != nil {
		s.Resolver = ic.processor.resolver
	}
	if src != nil {
		v, err := src.Resolve(ic, env)
		if err != nil {
			return s, err
		}
		s.Src = v
	}
	p, err := params.resolve(ic, env, defaults)
	if err != nil {
		return s, err
	}
	s.Params = p
	return s, nil
}

// stage holds what every pipeline component node shares.
type stage struct {
	base
	typ      string
	src      *Expression
	defaults domain.Parameters
	params   parameters
}

func (s *stage) setup(ic *InvokeContext, env *domain.Environment) (pipeline.Setup, error) {
	return componentSetup(ic, env, s.location, s.src, s.params, s.defaults)
}

// generateNode is <map:generate>. It only configures the pipeline.
type generateNode struct {
	stage
	generator pipeline.Generator
}

func (n *generateNode) Invoke(_ context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	s, err := n.setup(ic, env)
	if err != nil {
		return false, err
	}
	return false, ic.Pipeline().SetGenerator(n.typ, n.generator, s)
}

// transformNode is <map:transform>.
type transformNode struct {
	stage
	transformer pipeline.Transformer
}

func (n *transformNode) Invoke(_ context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	s, err := n.setup(ic, env)
	if err != nil {
		return false, err
	}
	return false, ic.Pipeline().AddTransformer(n.typ, n.transformer, s)
}

// terminal carries the response settings of serialize and read.
type terminal struct {
	mimeType   *Expression
	statusCode *Expression
}

func (t terminal) apply(ic *InvokeContext, env *domain.Environment, p *pipeline.Pipeline) error {
	if t.mimeType != nil {
		mt, err := t.mimeType.Resolve(ic, env)
		if err != nil {
			return err
		}
		p.MimeType = mt
	}
	if t.statusCode != nil {
		v, err := t.statusCode.Resolve(ic, env)
		if err != nil {
			return err
		}
		code, err := strconv.Atoi(v)
		if err != nil || code < 100 || code > 599 {
			return fmt.Errorf("invalid status-code %q", v)
		}
		p.Status = code
	}
	return nil
}

// finish executes the assembled pipeline unless only building. Either way the
// request counts as handled.
func finish(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	if ic.BuildingPipelineOnly() {
		return true, nil
	}
	if err := ic.Pipeline().Process(ctx, env); err != nil {
		return false, err
	}
	return true, nil
}

// serializeNode is <map:serialize>. It ends the pipeline.
type serializeNode struct {
	stage
	terminal
	serializer pipeline.Serializer
}

func (n *serializeNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	s, err := n.setup(ic, env)
	if err != nil {
		return false, err
	}
	p := ic.Pipeline()
	if err := p.SetSerializer(n.typ, n.serializer, s); err != nil {
		return false, err
	}
	if err := n.apply(ic, env, p); err != nil {
		return false, err
	}
	return finish(ctx, env, ic)
}

// readNode is <map:read>. It ends the pipeline.
type readNode struct {
	stage
	terminal
	reader pipeline.Reader
}

func (n *readNode) Invoke(ctx context.Context, env *domain.Environment, ic *InvokeContext) (bool, error) {
	s, err := n.setup(ic, env)
	if err != nil {
		return false, err
	}
	p := ic.Pipeline()
	if err := p.SetReader(n.typ, n.reader, s); err != nil {
		return false, err
	}
	if err := n.apply(ic, env, p); err != nil {
		return false, err
	}
	return finish(ctx, env, ic)
}
