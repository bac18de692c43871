package domain

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Object model keys shared by pipeline components.
const (
	// ObjectModelRequest holds the *Request of the environment.
	ObjectModelRequest = "request"
	// ObjectModelResponse holds the *Response of the environment.
	ObjectModelResponse = "response"
	// ObjectModelError holds the error being handled inside <map:handle-errors>.
	ObjectModelError = "error"
	// ObjectModelUser holds the portal user name, when known.
	ObjectModelUser = "portal-user"
)

// Request is the read-only view of an incoming (or internal) request.
type Request struct {
	Method     string
	Path       string // full request path, without the leading slash
	Params     url.Values
	Header     http.Header
	Attributes map[string]any
}

// Param returns the first value of the named request parameter.
func (r *Request) Param(name string) (string, bool) {
	if r == nil || r.Params == nil {
		return "", false
	}
	vals, ok := r.Params[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// HeaderValue returns the named header, or "" when absent.
func (r *Request) HeaderValue(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// Response collects everything a pipeline wants to send back.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Redirect    string
	Permanent   bool
	Body        io.Writer

	committed bool
}

// Write marks the response as committed and forwards to Body.
func (r *Response) Write(p []byte) (int, error) {
	r.committed = true
	if r.Body == nil {
		return len(p), nil
	}
	return r.Body.Write(p)
}

// Committed reports whether any body bytes have been written.
func (r *Response) Committed() bool {
	return r.committed
}

// SetRedirect records a redirect target.
func (r *Response) SetRedirect(uri string, permanent bool) error {
	if r.committed {
		return ErrResponseCommitted
	}
	r.Redirect = uri
	r.Permanent = permanent
	return nil
}

// Environment wraps one request/response pair as seen by the sitemap
// currently processing it.
type Environment struct {
	Request  *Request
	Response *Response

	// Internal is set for requests issued through the cocoon: protocol.
	Internal bool

	mu          sync.RWMutex
	uri         string
	prefix      string
	contextURI  string
	objectModel map[string]any
}

// NewEnvironment creates an environment for the given request path. The body
// of the response is written to w (which may be nil for internal requests).
func NewEnvironment(req *Request, w io.Writer) *Environment {
	if req.Params == nil {
		req.Params = url.Values{}
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Attributes == nil {
		req.Attributes = make(map[string]any)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Path = strings.TrimPrefix(req.Path, "/")

	resp := &Response{Status: http.StatusOK, Header: http.Header{}, Body: w}
	env := &Environment{
		Request:  req,
		Response: resp,
		uri:      req.Path,
	}
	env.objectModel = map[string]any{
		ObjectModelRequest:  req,
		ObjectModelResponse: resp,
	}
	return env
}

// NewInternalEnvironment creates an environment for a cocoon: sub-request. The
// parent's request attributes are visible to the sub-request.
func NewInternalEnvironment(parent *Environment, uri string, params url.Values) *Environment {
	req := &Request{
		Method:     http.MethodGet,
		Path:       uri,
		Params:     params,
		Attributes: make(map[string]any),
	}
	if parent != nil && parent.Request != nil {
		req.Header = parent.Request.Header.Clone()
		for k, v := range parent.Request.Attributes {
			req.Attributes[k] = v
		}
	}
	env := NewEnvironment(req, &bytes.Buffer{})
	env.Internal = true
	if parent != nil {
		env.contextURI = parent.ContextURI()
		if user, ok := parent.ObjectModel(ObjectModelUser); ok {
			env.SetObjectModel(ObjectModelUser, user)
		}
	}
	return env
}

// URI returns the request URI relative to the current sitemap.
func (e *Environment) URI() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.uri
}

// Prefix returns the part of the request path consumed by mounts so far.
func (e *Environment) Prefix() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prefix
}

// ContextURI returns the base URI against which relative sources resolve.
func (e *Environment) ContextURI() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contextURI
}

// SetContextURI sets the base URI for relative source resolution.
func (e *Environment) SetContextURI(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contextURI = uri
}

// ChangeContext strips prefix from the current URI (when it starts with it)
// and switches the context URI. A slash left at the head of the URI moves to
// the prefix. The returned func restores the previous values.
func (e *Environment) ChangeContext(prefix, contextURI string) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldURI, oldPrefix, oldContext := e.uri, e.prefix, e.contextURI
	if prefix != "" && strings.HasPrefix(e.uri, prefix) {
		e.uri = strings.TrimPrefix(e.uri, prefix)
		e.prefix = e.prefix + prefix
		// a prefix given without its trailing slash still consumes it
		if strings.HasPrefix(e.uri, "/") {
			e.uri = e.uri[1:]
			e.prefix += "/"
		}
	}
	if contextURI != "" {
		e.contextURI = contextURI
	}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.uri, e.prefix, e.contextURI = oldURI, oldPrefix, oldContext
	}
}

// ObjectModel returns a value from the object model.
func (e *Environment) ObjectModel(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.objectModel[key]
	return v, ok
}

// SetObjectModel stores a value in the object model.
func (e *Environment) SetObjectModel(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objectModel[key] = value
}

// RemoveObjectModel deletes a value from the object model.
func (e *Environment) RemoveObjectModel(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.objectModel, key)
}

// Body returns the buffered body of an internal environment.
func (e *Environment) Body() []byte {
	if buf, ok := e.Response.Body.(*bytes.Buffer); ok {
		return buf.Bytes()
	}
	return nil
}
