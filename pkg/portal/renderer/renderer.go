// Package renderer turns portal layouts into XML events through chains of
// aspects. Each aspect decides whether and when the rest of its chain runs.
package renderer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/cocoon/pkg/configuration"
	"github.com/aretw0/cocoon/pkg/portal/layout"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
)

// ErrNoRenderer is returned when no renderer is configured for a layout.
var ErrNoRenderer = errors.New("no renderer for layout")

// Aspect is one stage of a renderer.
type Aspect interface {
	// PrepareConfiguration compiles the <aspect> element once, when the
	// renderer is built. The result is handed back to every ToSAX call.
	PrepareConfiguration(conf *configuration.Configuration) (any, error)
	// ToSAX renders l into h. Calling rc.InvokeNext runs the remaining aspects.
	ToSAX(ctx context.Context, rc *Context, config any, l *layout.Layout, h sax.ContentHandler) error
}

// Step pairs an aspect with its prepared configuration.
type Step struct {
	Aspect Aspect
	Config any
}

// Renderer is a named, ordered chain of steps.
type Renderer struct {
	Name  string
	Steps []Step
}

// ToSAX renders l with a fresh cursor over the chain.
func (r *Renderer) ToSAX(ctx context.Context, p *Portal, l *layout.Layout, h sax.ContentHandler) error {
	rc := &Context{portal: p, steps: r.Steps}
	return rc.InvokeNext(ctx, l, h)
}

// Context is the cursor of one renderer invocation.
type Context struct {
	portal *Portal
	steps  []Step
	next   int
}

// InvokeNext runs the next aspect of the chain, if any, with its own
// configuration.
func (c *Context) InvokeNext(ctx context.Context, l *layout.Layout, h sax.ContentHandler) error {
	if c.next >= len(c.steps) {
		return nil
	}
	step := c.steps[c.next]
	c.next++
	return step.Aspect.ToSAX(ctx, c, step.Config, l, h)
}

// Portal returns the rendering services of the invocation.
func (c *Context) Portal() *Portal { return c.portal }

// Portal carries what aspects need beyond the layout itself.
type Portal struct {
	Renderers *Set
	Profile   profile.View
	Resolver  ports.Resolver
	// Base is the URI coplet sources resolve against.
	Base string
}

// Render renders l with the renderer configured for it.
func (p *Portal) Render(ctx context.Context, l *layout.Layout, h sax.ContentHandler) error {
	r, err := p.Renderers.ForLayout(l)
	if err != nil {
		return err
	}
	if err := r.ToSAX(ctx, p, l, h); err != nil {
		return fmt.Errorf("renderer %s: %w", r.Name, err)
	}
	return nil
}
