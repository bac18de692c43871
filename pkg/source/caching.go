package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/sax"
	"github.com/aretw0/cocoon/pkg/validity"
	"github.com/mitchellh/mapstructure"
)

const (
	cachedScheme = "cached"
	paramPrefix  = "cocoon:"
	keyPrefix    = "source:"
)

// CacheParams are the cocoon:cache-* query parameters of a cached: URI.
type CacheParams struct {
	// Expires is the time to live in seconds. -1 never revalidates, 0 always
	// discards the cached entry.
	Expires int `mapstructure:"cache-expires"`
	// Name disambiguates entries for the same wrapped URI.
	Name string `mapstructure:"cache-name"`
	// Async trusts the cache at initialization and leaves revalidation to a
	// Refresher.
	Async bool `mapstructure:"cache-async"`
}

// TTL converts Expires into a duration; negative means never.
func (p CacheParams) TTL() time.Duration {
	if p.Expires < 0 {
		return -1
	}
	return time.Duration(p.Expires) * time.Second
}

// ParseCachedURI splits a cached: URI into the wrapped URI and the cache
// parameters. Query parameters that are not cocoon:* stay on the wrapped URI.
func ParseCachedURI(uri string, defaults CacheParams) (string, CacheParams, error) {
	rest, ok := strings.CutPrefix(uri, cachedScheme+":")
	if !ok {
		return "", defaults, fmt.Errorf("not a cached uri: %q", uri)
	}
	wrapped, rawQuery, hasQuery := strings.Cut(rest, "?")
	if !hasQuery {
		return wrapped, defaults, nil
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", defaults, fmt.Errorf("invalid query in %q: %w", uri, err)
	}

	raw := make(map[string]any)
	kept := url.Values{}
	for k, vals := range query {
		if name, ok := strings.CutPrefix(k, paramPrefix); ok {
			if len(vals) > 0 {
				raw[name] = vals[0]
			}
			continue
		}
		kept[k] = vals
	}

	params := defaults
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &params,
	})
	if err != nil {
		return "", defaults, err
	}
	if err := dec.Decode(raw); err != nil {
		return "", defaults, fmt.Errorf("invalid cache parameters in %q: %w", uri, err)
	}
	if len(kept) > 0 {
		wrapped += "?" + kept.Encode()
	}
	return wrapped, params, nil
}

// CacheKey returns the store key of a cached response.
func CacheKey(wrappedURI, name string) string {
	if name == "" {
		return keyPrefix + wrappedURI
	}
	return keyPrefix + wrappedURI + ":" + name
}

// cachedMeta is the metadata representation.
type cachedMeta struct {
	Exists       bool      `json:"exists"`
	Length       int64     `json:"length"`
	MimeType     string    `json:"mime_type,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// cachedResponse is what the store holds for one cache key.
type cachedResponse struct {
	Binary   []byte           `json:"binary,omitempty"`
	XML      []byte           `json:"xml,omitempty"`
	Meta     *cachedMeta      `json:"meta,omitempty"`
	Expires  time.Time        `json:"expires,omitempty"` // zero: never
	Validity *validity.Record `json:"validity,omitempty"`
}

// State of a CachingSource.
type State int

const (
	StateUninitialized State = iota
	StateChecking
	StateServing
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateServing:
		return "serving"
	case StateRefreshing:
		return "refreshing"
	}
	return "uninitialized"
}

// CachingFactory creates cached: sources backed by a store.
type CachingFactory struct {
	store     ports.Store
	locker    ports.DistributedLocker
	registry  *validity.Registry
	defaults  CacheParams
	clock     validity.Clock
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	lockTTL   time.Duration
	refresher *Refresher
}

// CachingOption configures a CachingFactory.
type CachingOption func(*CachingFactory)

// WithLocker serializes repopulation of an entry across replicas.
func WithLocker(l ports.DistributedLocker) CachingOption {
	return func(f *CachingFactory) { f.locker = l }
}

// WithDefaultExpires sets the expiry used when the URI does not carry one.
func WithDefaultExpires(seconds int) CachingOption {
	return func(f *CachingFactory) { f.defaults.Expires = seconds }
}

// WithValidityRegistry binds restored event validities to reg.
func WithValidityRegistry(reg *validity.Registry) CachingOption {
	return func(f *CachingFactory) { f.registry = reg }
}

// WithClock replaces time.Now.
func WithClock(clock validity.Clock) CachingOption {
	return func(f *CachingFactory) { f.clock = clock }
}

// WithCacheHooks sets the cache hit/miss/refresh callbacks.
func WithCacheHooks(h domain.LifecycleHooks) CachingOption {
	return func(f *CachingFactory) { f.hooks = h }
}

// WithRefresher registers every async source with r.
func WithRefresher(r *Refresher) CachingOption {
	return func(f *CachingFactory) { f.refresher = r }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CachingOption {
	return func(f *CachingFactory) { f.logger = l }
}

// NewCachingFactory creates a factory storing responses in store.
func NewCachingFactory(store ports.Store, opts ...CachingOption) *CachingFactory {
	f := &CachingFactory{
		store:    store,
		registry: validity.NewRegistry(),
		defaults: CacheParams{Expires: 60},
		clock:    time.Now,
		logger:   logging.NewNop(),
		lockTTL:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create resolves the wrapped source and initializes the cached view.
func (f *CachingFactory) Create(ctx context.Context, uri string, resolver ports.Resolver) (ports.Source, error) {
	wrapped, params, err := ParseCachedURI(uri, f.defaults)
	if err != nil {
		return nil, err
	}
	s := &CachingSource{
		uri:        uri,
		wrappedURI: wrapped,
		params:     params,
		key:        CacheKey(wrapped, params.Name),
		resolver:   resolver,
		factory:    f,
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	if params.Async && f.refresher != nil {
		f.refresher.Register(s)
	}
	return s, nil
}

// CachingSource serves the representations of a wrapped source from a store.
type CachingSource struct {
	uri        string
	wrappedURI string
	params     CacheParams
	key        string
	resolver   ports.Resolver
	factory    *CachingFactory

	mu       sync.Mutex
	state    State
	source   ports.Source
	response *cachedResponse
}

func (s *CachingSource) URI() string         { return s.uri }
func (s *CachingSource) Scheme() string      { return cachedScheme }
func (s *CachingSource) Key() string         { return s.key }
func (s *CachingSource) Params() CacheParams { return s.params }

// State returns the current state.
func (s *CachingSource) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CachingSource) wrapped(ctx context.Context) (ports.Source, error) {
	if s.source != nil {
		return s.source, nil
	}
	src, err := s.resolver.Resolve(ctx, s.wrappedURI, "")
	if err != nil {
		return nil, ioError("resolve", s.wrappedURI, err)
	}
	s.source = src
	return src, nil
}

// Initialize loads the cached response and decides whether it can be served.
func (s *CachingSource) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateChecking

	if s.params.Expires == 0 {
		if err := s.factory.store.Remove(ctx, s.key); err != nil {
			return ioError("remove", s.key, err)
		}
	}

	resp, err := s.load(ctx)
	if err != nil {
		return err
	}
	if resp == nil {
		s.emit(ctx, domain.EventCacheMiss, "entry")
		resp = &cachedResponse{}
		if err := s.stamp(ctx, resp); err != nil {
			return err
		}
		s.response = resp
		s.state = StateServing
		return nil
	}

	s.response = resp
	s.emit(ctx, domain.EventCacheHit, "entry")
	if s.params.Async && s.params.Expires > 0 {
		s.state = StateServing
		return nil
	}
	return s.revalidate(ctx)
}

// Refresh revalidates the cached response unless it is known valid, in which
// case it does nothing. An invalid response is repopulated with the
// representations it held before.
func (s *CachingSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil {
		return nil
	}
	if s.expiry().IsValid() == validity.Valid {
		return nil
	}
	s.state = StateChecking
	return s.revalidate(ctx)
}

func (s *CachingSource) expiry() *validity.Expires {
	return &validity.Expires{At: s.response.Expires, Clock: s.factory.clock}
}

// revalidate must be called with mu held.
func (s *CachingSource) revalidate(ctx context.Context) error {
	if s.expiry().IsValid() == validity.Valid {
		s.state = StateServing
		return nil
	}

	changed, err := s.sourceChanged(ctx)
	if err != nil {
		return err
	}
	if !changed {
		// still fresh: push the expiry forward without refetching
		s.response.Expires = s.expiresAt()
		s.state = StateServing
		return s.persist(ctx)
	}
	return s.repopulate(ctx)
}

func (s *CachingSource) sourceChanged(ctx context.Context) (bool, error) {
	old, err := validity.FromRecord(s.response.Validity, s.factory.registry, s.factory.clock)
	if err != nil {
		s.factory.logger.Warn("discarding unreadable cached validity", "key", s.key, "err", err)
		return true, nil
	}
	if old == nil {
		return true, nil
	}
	result := old.IsValid()
	if result == validity.Unknown {
		src, err := s.wrapped(ctx)
		if err != nil {
			return false, err
		}
		if err := src.Refresh(ctx); err != nil {
			return false, ioError("refresh", s.wrappedURI, err)
		}
		fresh := src.Validity()
		if fresh == nil {
			return true, nil
		}
		result = old.IsValidAgainst(fresh)
	}
	return result != validity.Valid, nil
}

// repopulate clears the entry and rebuilds the representations that were
// populated before. Must be called with mu held.
func (s *CachingSource) repopulate(ctx context.Context) error {
	s.state = StateRefreshing
	if s.factory.locker != nil {
		unlock, err := s.factory.locker.Lock(ctx, s.key, s.factory.lockTTL)
		if err != nil {
			return ioError("lock", s.key, err)
		}
		defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	}

	old := s.response
	if err := s.factory.store.Remove(ctx, s.key); err != nil {
		return ioError("remove", s.key, err)
	}
	s.emit(ctx, domain.EventCacheRefresh, "all")

	src, err := s.wrapped(ctx)
	if err != nil {
		return err
	}
	if err := src.Refresh(ctx); err != nil {
		return ioError("refresh", s.wrappedURI, err)
	}

	fresh := &cachedResponse{}
	if err := s.stamp(ctx, fresh); err != nil {
		return err
	}
	if old.Meta != nil {
		if fresh.Meta, err = s.fetchMeta(ctx); err != nil {
			return err
		}
	}
	if old.Binary != nil {
		if fresh.Binary, err = s.fetchBinary(ctx); err != nil {
			return err
		}
	}
	if old.XML != nil {
		if fresh.XML, err = s.fetchXML(ctx); err != nil {
			return err
		}
	}
	s.response = fresh
	s.state = StateServing
	return s.persist(ctx)
}

func (s *CachingSource) expiresAt() time.Time {
	ttl := s.params.TTL()
	if ttl < 0 {
		return time.Time{}
	}
	return s.factory.clock().Add(ttl)
}

// stamp sets the expiry and the wrapped source validity on resp.
func (s *CachingSource) stamp(ctx context.Context, resp *cachedResponse) error {
	resp.Expires = s.expiresAt()
	if s.params.Expires == 0 {
		// already expired
		resp.Expires = s.factory.clock()
	}
	src, err := s.wrapped(ctx)
	if err != nil {
		return err
	}
	rec, err := validity.ToRecord(src.Validity())
	if err != nil {
		s.factory.logger.Debug("wrapped validity is not serializable", "uri", s.wrappedURI, "err", err)
		rec = nil
	}
	resp.Validity = rec
	return nil
}

func (s *CachingSource) load(ctx context.Context) (*cachedResponse, error) {
	data, err := s.factory.store.Get(ctx, s.key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ioError("load", s.key, err)
	}
	var resp cachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.factory.logger.Warn("discarding corrupt cache entry", "key", s.key, "err", err)
		return nil, nil
	}
	return &resp, nil
}

func (s *CachingSource) persist(ctx context.Context) error {
	data, err := json.Marshal(s.response)
	if err != nil {
		return fmt.Errorf("failed to marshal cached response: %w", err)
	}
	if err := s.factory.store.Store(ctx, s.key, data); err != nil {
		return ioError("store", s.key, err)
	}
	return nil
}

// persistMerged stores the response after adding the representations another
// source instance stored for the same generation of the wrapped source, so
// that concurrent first uses of different representations do not overwrite
// each other. Must be called with mu held.
func (s *CachingSource) persistMerged(ctx context.Context) error {
	if s.factory.locker != nil {
		unlock, err := s.factory.locker.Lock(ctx, s.key, s.factory.lockTTL)
		if err != nil {
			return ioError("lock", s.key, err)
		}
		defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	}
	stored, err := s.load(ctx)
	if err != nil {
		return err
	}
	if stored != nil && sameGeneration(stored.Validity, s.response.Validity) {
		if s.response.Meta == nil {
			s.response.Meta = stored.Meta
		}
		if s.response.Binary == nil {
			s.response.Binary = stored.Binary
		}
		if s.response.XML == nil {
			s.response.XML = stored.XML
		}
	}
	return s.persist(ctx)
}

func sameGeneration(a, b *validity.Record) bool {
	if a == nil || b == nil {
		return false
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func (s *CachingSource) emit(ctx context.Context, typ domain.EventType, repr string) {
	var hook func(context.Context, *domain.CacheEvent)
	switch typ {
	case domain.EventCacheHit:
		hook = s.factory.hooks.OnCacheHit
	case domain.EventCacheMiss:
		hook = s.factory.hooks.OnCacheMiss
	case domain.EventCacheRefresh:
		hook = s.factory.hooks.OnCacheRefresh
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.CacheEvent{
		EventBase:      domain.EventBase{Timestamp: s.factory.clock(), Type: typ},
		Key:            s.key,
		Representation: repr,
	})
}

func (s *CachingSource) fetchMeta(ctx context.Context) (*cachedMeta, error) {
	src, err := s.wrapped(ctx)
	if err != nil {
		return nil, err
	}
	exists, err := src.Exists(ctx)
	if err != nil {
		return nil, ioError("exists", s.wrappedURI, err)
	}
	return &cachedMeta{
		Exists:       exists,
		Length:       src.ContentLength(),
		MimeType:     src.MimeType(),
		LastModified: src.LastModified(),
	}, nil
}

func (s *CachingSource) fetchBinary(ctx context.Context) ([]byte, error) {
	src, err := s.wrapped(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, ioError("open", s.wrappedURI, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ioError("read", s.wrappedURI, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *CachingSource) fetchXML(ctx context.Context) ([]byte, error) {
	src, err := s.wrapped(ctx)
	if err != nil {
		return nil, err
	}
	rec := sax.NewRecorder()
	if xs, ok := src.(ports.XMLSource); ok {
		if err := xs.ToSAX(ctx, rec); err != nil {
			return nil, ioError("sax", s.wrappedURI, err)
		}
	} else {
		rc, err := src.Open(ctx)
		if err != nil {
			return nil, ioError("open", s.wrappedURI, err)
		}
		defer rc.Close()
		if err := sax.Parse(rc, rec); err != nil {
			return nil, ioError("parse", s.wrappedURI, err)
		}
	}
	data, err := rec.Bytes()
	if err != nil {
		return nil, ioError("record", s.wrappedURI, err)
	}
	return data, nil
}

// Meta returns the metadata representation, populating it on first use.
func (s *CachingSource) Meta(ctx context.Context) (exists bool, length int64, mimeType string, lastModified time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response.Meta == nil {
		s.emit(ctx, domain.EventCacheMiss, "meta")
		m, err := s.fetchMeta(ctx)
		if err != nil {
			return false, -1, "", time.Time{}, err
		}
		s.response.Meta = m
		if err := s.persistMerged(ctx); err != nil {
			return false, -1, "", time.Time{}, err
		}
	}
	m := s.response.Meta
	return m.Exists, m.Length, m.MimeType, m.LastModified, nil
}

func (s *CachingSource) Exists(ctx context.Context) (bool, error) {
	exists, _, _, _, err := s.Meta(ctx)
	return exists, err
}

// ContentLength uses a background context; call Meta to pass one.
func (s *CachingSource) ContentLength() int64 {
	_, length, _, _, err := s.Meta(context.Background())
	if err != nil {
		return -1
	}
	return length
}

func (s *CachingSource) LastModified() time.Time {
	_, _, _, mod, _ := s.Meta(context.Background())
	return mod
}

func (s *CachingSource) MimeType() string {
	_, _, mt, _, _ := s.Meta(context.Background())
	return mt
}

// Open returns the binary representation, populating it on first use.
func (s *CachingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response.Binary == nil {
		s.emit(ctx, domain.EventCacheMiss, "binary")
		data, err := s.fetchBinary(ctx)
		if err != nil {
			return nil, err
		}
		s.response.Binary = data
		if err := s.persistMerged(ctx); err != nil {
			return nil, err
		}
	} else {
		s.emit(ctx, domain.EventCacheHit, "binary")
	}
	return io.NopCloser(bytes.NewReader(s.response.Binary)), nil
}

// ToSAX replays the XML representation, populating it on first use.
func (s *CachingSource) ToSAX(ctx context.Context, h sax.ContentHandler) error {
	s.mu.Lock()
	if s.response.XML == nil {
		s.emit(ctx, domain.EventCacheMiss, "xml")
		data, err := s.fetchXML(ctx)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.response.XML = data
		if err := s.persistMerged(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
	} else {
		s.emit(ctx, domain.EventCacheHit, "xml")
	}
	data := s.response.XML
	s.mu.Unlock()
	return sax.Replay(data, h)
}

// Validity combines the expiry of the cached response with the validity of
// the wrapped source.
func (s *CachingSource) Validity() validity.Validity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil {
		return nil
	}
	exp := s.expiry()
	src, err := validity.FromRecord(s.response.Validity, s.factory.registry, s.factory.clock)
	if err != nil || src == nil {
		return exp
	}
	return validity.Aggregated{exp, src}
}

// Cached reports which representations are currently held.
func (s *CachingSource) Cached() (meta, binary, xml bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil {
		return false, false, false
	}
	return s.response.Meta != nil, s.response.Binary != nil, s.response.XML != nil
}
