package cli

import (
	"context"
	"io"
	"sync"

	"github.com/aretw0/cocoon"
	"github.com/aretw0/cocoon/internal/presentation/graph"
	"github.com/aretw0/cocoon/pkg/domain"
)

// Tracer collects the locations of the sitemap nodes that matched.
type Tracer struct {
	mu      sync.Mutex
	matched []string
}

// Option returns the engine option feeding the tracer.
func (t *Tracer) Option() cocoon.Option {
	return cocoon.WithLifecycleHooks(domain.LifecycleHooks{
		OnNodeInvoke: func(_ context.Context, e *domain.NodeEvent) {
			if !e.Matched {
				return
			}
			t.mu.Lock()
			defer t.mu.Unlock()
			t.matched = append(t.matched, e.Location)
		},
	})
}

// Matched returns the collected locations.
func (t *Tracer) Matched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.matched...)
}

// Tree writes the compiled sitemap of engine as a Mermaid flowchart. With a
// tracer, the nodes it recorded are highlighted.
func Tree(ctx context.Context, engine *cocoon.Engine, tracer *Tracer, w io.Writer) error {
	root, err := engine.Tree(ctx)
	if err != nil {
		return err
	}
	var overlay *graph.Overlay
	if tracer != nil {
		overlay = &graph.Overlay{Matched: tracer.Matched()}
	}
	_, err = io.WriteString(w, graph.GenerateMermaid(root, overlay))
	return err
}
