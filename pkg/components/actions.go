package components

import (
	"context"
	"strings"

	"github.com/aretw0/cocoon/pkg/pipeline"
)

// RequestExistsAction succeeds when every request parameter listed in the
// "parameters" parameter (comma or space separated) is present. The values
// are returned as sitemap variables.
type RequestExistsAction struct{}

func (RequestExistsAction) Act(_ context.Context, s pipeline.Setup) (map[string]string, error) {
	names := splitList(s.Params.Get("parameters", ""))
	result := make(map[string]string, len(names))
	for _, name := range names {
		v, ok := s.Env.Request.Param(name)
		if !ok {
			return nil, nil
		}
		result[name] = v
	}
	return result, nil
}

// SetHeaderAction copies every parameter into a response header. It always
// succeeds.
type SetHeaderAction struct{}

func (SetHeaderAction) Act(_ context.Context, s pipeline.Setup) (map[string]string, error) {
	for _, name := range s.Params.Names() {
		s.Env.Response.Header.Set(name, s.Params[name])
	}
	return map[string]string{}, nil
}

// SetAttributeAction copies every parameter into a request attribute,
// readable later as {request-attr:name}. It always succeeds.
type SetAttributeAction struct{}

func (SetAttributeAction) Act(_ context.Context, s pipeline.Setup) (map[string]string, error) {
	for _, name := range s.Params.Names() {
		s.Env.Request.Attributes[name] = s.Params[name]
	}
	return map[string]string{}, nil
}

// ResourceExistsAction succeeds when src resolves to an existing source.
// The resolved URI is available as {uri}.
type ResourceExistsAction struct{}

func (ResourceExistsAction) Act(ctx context.Context, s pipeline.Setup) (map[string]string, error) {
	src, err := resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	ok, err := src.Exists(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return map[string]string{"uri": src.URI()}, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
}
