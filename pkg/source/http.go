package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/validity"
	"github.com/hashicorp/go-cleanhttp"
)

// HTTPFactory creates http: and https: sources sharing one pooled client.
type HTTPFactory struct {
	Client *http.Client
}

// NewHTTPFactory creates a factory with a pooled client.
func NewHTTPFactory() *HTTPFactory {
	return &HTTPFactory{Client: cleanhttp.DefaultPooledClient()}
}

func (f *HTTPFactory) Create(_ context.Context, uri string, _ ports.Resolver) (ports.Source, error) {
	return &HTTPSource{uri: uri, client: f.Client}, nil
}

// HTTPSource reads a remote resource. Metadata comes from a HEAD request
// issued on first use.
type HTTPSource struct {
	uri    string
	client *http.Client

	mu     sync.Mutex
	probed bool
	exists bool
	length int64
	mime   string
	mod    time.Time
	err    error
}

func (s *HTTPSource) URI() string { return s.uri }

func (s *HTTPSource) Scheme() string { return Scheme(s.uri) }

func (s *HTTPSource) probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probed {
		return s.err
	}
	s.probed = true
	s.length = -1

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.uri, nil)
	if err != nil {
		s.err = ioError("head", s.uri, err)
		return s.err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.err = ioError("head", s.uri, err)
		return s.err
	}
	_ = resp.Body.Close()

	s.exists = resp.StatusCode < 400
	s.length = resp.ContentLength
	s.mime = resp.Header.Get("Content-Type")
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			s.mod = t
		}
	}
	return nil
}

func (s *HTTPSource) Exists(ctx context.Context) (bool, error) {
	if err := s.probe(ctx); err != nil {
		return false, err
	}
	return s.exists, nil
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return nil, ioError("get", s.uri, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ioError("get", s.uri, err)
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, ioError("get", s.uri, fmt.Errorf("unexpected status %s", resp.Status))
	}
	return resp.Body, nil
}

func (s *HTTPSource) ContentLength() int64 {
	_ = s.probe(context.Background())
	return s.length
}

func (s *HTTPSource) LastModified() time.Time {
	_ = s.probe(context.Background())
	return s.mod
}

func (s *HTTPSource) MimeType() string {
	_ = s.probe(context.Background())
	return s.mime
}

// Validity is a timestamp validity when the server sends Last-Modified.
func (s *HTTPSource) Validity() validity.Validity {
	if mod := s.LastModified(); !mod.IsZero() {
		return validity.TimeStamp{Modified: mod}
	}
	return nil
}

func (s *HTTPSource) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed = false
	s.err = nil
	return nil
}
