package memory

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/validity"
)

// Scheme is the URI scheme served by Sources.
const Scheme = "memory"

type document struct {
	content  []byte
	modified time.Time
}

// Sources is an in-memory document tree addressed as memory:/path. It
// implements ports.SourceFactory and ports.Watchable.
type Sources struct {
	mu       sync.RWMutex
	docs     map[string]document
	watchers []chan struct{}
	reads    map[string]int
}

// NewSources creates an empty document tree.
func NewSources() *Sources {
	return &Sources{
		docs:  make(map[string]document),
		reads: make(map[string]int),
	}
}

func clean(p string) string {
	p = strings.TrimPrefix(p, Scheme+":")
	return path.Clean("/" + strings.TrimLeft(p, "/"))
}

// URI returns the memory: URI of p.
func URI(p string) string {
	return Scheme + ":" + clean(p)
}

// Put stores a document and notifies watchers.
func (s *Sources) Put(p, content string, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[clean(p)] = document{content: []byte(content), modified: modified}

	// notify under the lock: Watch closes channels while holding it
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// Delete removes a document.
func (s *Sources) Delete(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, clean(p))
}

// Reads returns how many times the document was opened.
func (s *Sources) Reads(p string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[clean(p)]
}

// Create implements ports.SourceFactory.
func (s *Sources) Create(_ context.Context, uri string, _ ports.Resolver) (ports.Source, error) {
	src := &Source{owner: s, path: clean(uri)}
	src.snapshot()
	return src, nil
}

// Watch implements ports.Watchable: the channel receives a value after every Put.
func (s *Sources) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Source is one document of a Sources tree. Metadata is captured at
// creation and on Refresh.
type Source struct {
	owner  *Sources
	path   string
	doc    document
	exists bool
}

func (s *Source) snapshot() {
	s.owner.mu.RLock()
	defer s.owner.mu.RUnlock()
	s.doc, s.exists = s.owner.docs[s.path]
}

func (s *Source) URI() string    { return Scheme + ":" + s.path }
func (s *Source) Scheme() string { return Scheme }

func (s *Source) Exists(context.Context) (bool, error) { return s.exists, nil }

func (s *Source) Open(context.Context) (io.ReadCloser, error) {
	s.owner.mu.Lock()
	doc, ok := s.owner.docs[s.path]
	s.owner.reads[s.path]++
	s.owner.mu.Unlock()
	if !ok {
		return nil, &NotFoundError{URI: s.URI()}
	}
	return io.NopCloser(bytes.NewReader(doc.content)), nil
}

func (s *Source) ContentLength() int64 {
	if !s.exists {
		return -1
	}
	return int64(len(s.doc.content))
}

func (s *Source) LastModified() time.Time { return s.doc.modified }

func (s *Source) MimeType() string { return mime.TypeByExtension(path.Ext(s.path)) }

func (s *Source) Validity() validity.Validity {
	if !s.exists {
		return nil
	}
	return validity.TimeStamp{Modified: s.doc.modified}
}

func (s *Source) Refresh(context.Context) error {
	s.snapshot()
	return nil
}

// NotFoundError reports a missing document.
type NotFoundError struct {
	URI string
}

func (e *NotFoundError) Error() string { return "document not found: " + e.URI }
