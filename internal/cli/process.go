package cli

import (
	"context"
	"io"
	"net/url"

	"github.com/aretw0/cocoon"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
)

// Request describes one request processed without a server.
type Request struct {
	Path   string
	Params url.Values
	// User is set as the portal user when not empty.
	User string
}

// Process runs req through engine and writes the body to w.
func Process(ctx context.Context, engine *cocoon.Engine, req Request, w io.Writer) (*domain.Response, error) {
	env := domain.NewEnvironment(&domain.Request{Path: req.Path, Params: req.Params}, w)
	if req.User != "" {
		env.SetObjectModel(domain.ObjectModelUser, req.User)
	}
	ok, err := engine.Process(ctx, env)
	if err != nil {
		return env.Response, err
	}
	if !ok {
		return env.Response, &pipeline.ResourceNotFoundError{URI: env.Request.Path}
	}
	return env.Response, nil
}

// ParseParams turns name=value pairs into request parameters.
func ParseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, p := range pairs {
		q, err := url.ParseQuery(p)
		if err != nil {
			return nil, err
		}
		for k, vs := range q {
			params[k] = append(params[k], vs...)
		}
	}
	return params, nil
}
