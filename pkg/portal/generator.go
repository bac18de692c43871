// Package portal renders per-user portal pages inside sitemap pipelines.
package portal

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/portal/renderer"
	"github.com/aretw0/cocoon/pkg/sax"
)

// ErrNoUser is returned when neither the object model nor the parameters
// name the portal user.
var ErrNoUser = errors.New("no portal user")

// Profiles returns the profile holder of a user.
type Profiles interface {
	Profile(ctx context.Context, user string) (*profile.Holder, error)
}

// Generator emits the layout of the current user:
//
//	<portal user="ann"><row id="root">...</row></portal>
//
// The user comes from the object model (domain.ObjectModelUser) or the
// "user" parameter. The "layout" parameter renders a single layout by id
// instead of the root.
type Generator struct {
	profiles  Profiles
	renderers *renderer.Set
}

// NewGenerator creates a portal generator.
func NewGenerator(profiles Profiles, renderers *renderer.Set) *Generator {
	return &Generator{profiles: profiles, renderers: renderers}
}

// User returns the portal user of a pipeline invocation.
func User(s pipeline.Setup) (string, error) {
	if s.Env != nil {
		if v, ok := s.Env.ObjectModel(domain.ObjectModelUser); ok {
			if user, ok := v.(string); ok && user != "" {
				return user, nil
			}
		}
	}
	if user := s.Params.Get("user", ""); user != "" {
		return user, nil
	}
	return "", ErrNoUser
}

func (g *Generator) Generate(ctx context.Context, s pipeline.Setup, h sax.ContentHandler) error {
	user, err := User(s)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Location, err)
	}
	holder, err := g.profiles.Profile(ctx, user)
	if err != nil {
		return err
	}
	base := s.Base
	if base == "" && s.Env != nil {
		base = s.Env.ContextURI()
	}

	if err := h.StartDocument(); err != nil {
		return err
	}
	if err := h.StartElement(sax.Name("portal"), []xml.Attr{sax.Attr("user", user)}); err != nil {
		return err
	}
	err = holder.Read(func(v profile.View) error {
		root := v.Root()
		if id := s.Params.Get("layout", ""); id != "" {
			l, ok := v.Layout(id)
			if !ok {
				return fmt.Errorf("%s: unknown layout %q", s.Location, id)
			}
			root = l
		}
		if root == nil {
			return nil
		}
		p := &renderer.Portal{Renderers: g.renderers, Profile: v, Resolver: s.Resolver, Base: base}
		return p.Render(ctx, root, h)
	})
	if err != nil {
		return err
	}
	if err := h.EndElement(sax.Name("portal")); err != nil {
		return err
	}
	return h.EndDocument()
}
