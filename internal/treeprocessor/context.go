package treeprocessor

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

// ErrMapStackUnderflow is returned by PopMap on an empty stack.
var ErrMapStackUnderflow = errors.New("invoke context: pop on empty map stack")

// namedMap is one sitemap result map, e.g. the groups of a matcher.
type namedMap struct {
	name   string
	values map[string]string
}

// InvokeContext carries the per-request state of a tree walk: the stack of
// result maps pushed by matchers and actions, and the pipeline being
// assembled.
type InvokeContext struct {
	maps     []namedMap
	pipeline *pipeline.Pipeline
	building bool

	processor *TreeProcessor
	tree      *tree
}

// NewInvokeContext creates a context. With buildingOnly set, terminal nodes
// stop after assembling the pipeline instead of executing it.
func NewInvokeContext(buildingOnly bool) *InvokeContext {
	return &InvokeContext{building: buildingOnly}
}

// BuildingPipelineOnly reports whether the walk only assembles a pipeline.
func (ic *InvokeContext) BuildingPipelineOnly() bool { return ic.building }

// Pipeline returns the pipeline being assembled, creating it on first use.
func (ic *InvokeContext) Pipeline() *pipeline.Pipeline {
	if ic.pipeline == nil {
		ic.pipeline = pipeline.New()
	}
	return ic.pipeline
}

// SetPipeline replaces the pipeline being assembled.
func (ic *InvokeContext) SetPipeline(p *pipeline.Pipeline) { ic.pipeline = p }

// PushMap pushes a result map.
func (ic *InvokeContext) PushMap(name string, values map[string]string) {
	ic.maps = append(ic.maps, namedMap{name: name, values: values})
}

// PopMap removes the top result map.
func (ic *InvokeContext) PopMap() error {
	if len(ic.maps) == 0 {
		return ErrMapStackUnderflow
	}
	ic.maps[len(ic.maps)-1] = namedMap{}
	ic.maps = ic.maps[:len(ic.maps)-1]
	return nil
}

// Depth returns the number of maps on the stack.
func (ic *InvokeContext) Depth() int { return len(ic.maps) }

// Map returns the map level steps below the top ({../x} is level 1).
func (ic *InvokeContext) Map(level int) (map[string]string, bool) {
	i := len(ic.maps) - 1 - level
	if level < 0 || i < 0 {
		return nil, false
	}
	return ic.maps[i].values, true
}

// NamedMap returns the innermost map pushed under name.
func (ic *InvokeContext) NamedMap(name string) (map[string]string, bool) {
	for i := len(ic.maps) - 1; i >= 0; i-- {
		if ic.maps[i].name == name {
			return ic.maps[i].values, true
		}
	}
	return nil, false
}

// errorContext returns a fresh context for a handle-errors section. It keeps
// the processor binding but starts a new pipeline and map stack.
func (ic *InvokeContext) errorContext() *InvokeContext {
	return &InvokeContext{processor: ic.processor, tree: ic.tree}
}

// bind switches the context to the tree of p and returns a restore func.
func (ic *InvokeContext) bind(p *TreeProcessor, t *tree) func() {
	oldP, oldT := ic.processor, ic.tree
	ic.processor, ic.tree = p, t
	return func() { ic.processor, ic.tree = oldP, oldT }
}

func (ic *InvokeContext) globals() map[string]string {
	if ic.tree == nil {
		return nil
	}
	return ic.tree.globals
}

func (ic *InvokeContext) emitNode(ctx context.Context, kind, location string, matched bool) {
	if ic.processor == nil || ic.processor.hooks.OnNodeInvoke == nil {
		return
	}
	ic.processor.hooks.OnNodeInvoke(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventNodeInvoke},
		Kind:      kind,
		Location:  location,
		Matched:   matched,
	})
}
