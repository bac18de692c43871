package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/portal/layout"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// DefaultCacheSize is the number of user holders a manager keeps.
const DefaultCacheSize = 256

// ErrNoStore is returned by Save when the manager has no user store.
var ErrNoStore = errors.New("profile manager has no user store")

// LoadError reports a profile part that could not be loaded. Missing parts
// unwrap to ports.ErrProfileNotFound.
type LoadError struct {
	User string
	Part string
	Err  error
}

func (e *LoadError) Error() string {
	if e.User == "" {
		return fmt.Sprintf("failed to load %s: %v", e.Part, e.Err)
	}
	return fmt.Sprintf("failed to load %s of %q: %v", e.Part, e.User, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// GroupResolver returns the groups of a user, most specific first.
type GroupResolver interface {
	Groups(ctx context.Context, user string) ([]string, error)
}

// StaticGroups is a GroupResolver over a fixed map.
type StaticGroups map[string][]string

func (g StaticGroups) Groups(_ context.Context, user string) ([]string, error) {
	return g[user], nil
}

// GroupBasedManager loads profiles tier by tier: user, then each of the
// user's groups, then global. Coplet definitions only exist at the global
// tier and are shared by every holder.
type GroupBasedManager struct {
	loader ports.ProfileLoader
	store  ports.Store
	groups GroupResolver
	logger *slog.Logger

	flight singleflight.Group

	defsMu sync.RWMutex
	defs   []*CopletDefinition

	cacheMu sync.Mutex
	holders *simplelru.LRU
}

// ManagerOption configures a GroupBasedManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	store     ports.Store
	groups    GroupResolver
	logger    *slog.Logger
	cacheSize int
}

// WithStore persists the user tier in store.
func WithStore(store ports.Store) ManagerOption {
	return func(o *managerOptions) { o.store = store }
}

// WithGroups sets the group resolver.
func WithGroups(groups GroupResolver) ManagerOption {
	return func(o *managerOptions) { o.groups = groups }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithCacheSize bounds the number of cached holders.
func WithCacheSize(n int) ManagerOption {
	return func(o *managerOptions) { o.cacheSize = n }
}

// NewGroupBasedManager creates a manager reading parts through loader.
func NewGroupBasedManager(loader ports.ProfileLoader, opts ...ManagerOption) (*GroupBasedManager, error) {
	o := managerOptions{
		groups:    StaticGroups{},
		logger:    logging.NewNop(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	holders, err := simplelru.NewLRU(o.cacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid profile cache size %d: %w", o.cacheSize, err)
	}
	return &GroupBasedManager{
		loader:  loader,
		store:   o.store,
		groups:  o.groups,
		logger:  o.logger,
		holders: holders,
	}, nil
}

// Profile returns the holder of user, loading it on first use.
func (m *GroupBasedManager) Profile(ctx context.Context, user string) (*Holder, error) {
	if h, ok := m.cached(user); ok {
		return h, nil
	}
	v, err, _ := m.flight.Do("user:"+user, func() (any, error) {
		if h, ok := m.cached(user); ok {
			return h, nil
		}
		h, err := m.load(ctx, user)
		if err != nil {
			return nil, err
		}
		m.cacheMu.Lock()
		m.holders.Add(user, h)
		m.cacheMu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Holder), nil
}

func (m *GroupBasedManager) cached(user string) (*Holder, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	v, ok := m.holders.Get(user)
	if !ok {
		return nil, false
	}
	return v.(*Holder), true
}

func (m *GroupBasedManager) load(ctx context.Context, user string) (*Holder, error) {
	defs, err := m.definitions(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := m.groups.Groups(ctx, user)
	if err != nil {
		return nil, &LoadError{User: user, Part: "groups", Err: err}
	}

	var instances []*CopletInstance
	if err := m.part(ctx, user, groups, ports.PartCopletInstances, &instances); err != nil {
		return nil, err
	}
	root := new(layout.Layout)
	if err := m.part(ctx, user, groups, ports.PartLayout, root); err != nil {
		return nil, err
	}

	h := NewHolder()
	if err := h.Rebuild(&Profile{Definitions: defs, Instances: instances, Layout: root}); err != nil {
		return nil, &LoadError{User: user, Part: ports.PartLayout, Err: err}
	}
	m.logger.Debug("profile loaded", "user", user, "groups", groups, "instances", len(instances))
	return h, nil
}

// definitions returns the global coplet definitions. A failed load is not
// remembered, so the next call tries again.
func (m *GroupBasedManager) definitions(ctx context.Context) ([]*CopletDefinition, error) {
	m.defsMu.RLock()
	defs := m.defs
	m.defsMu.RUnlock()
	if defs != nil {
		return defs, nil
	}

	v, err, _ := m.flight.Do("definitions", func() (any, error) {
		m.defsMu.RLock()
		defs := m.defs
		m.defsMu.RUnlock()
		if defs != nil {
			return defs, nil
		}
		key := ports.ProfileKey{Tier: ports.TierGlobal, Part: ports.PartCopletDefinitions}
		data, err := m.loader.Load(ctx, key)
		if err != nil {
			return nil, &LoadError{Part: key.Part, Err: err}
		}
		defs = []*CopletDefinition{}
		if err := yaml.Unmarshal(data, &defs); err != nil {
			return nil, &LoadError{Part: key.Part, Err: err}
		}
		m.defsMu.Lock()
		m.defs = defs
		m.defsMu.Unlock()
		m.logger.Info("coplet definitions loaded", "count", len(defs))
		return defs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*CopletDefinition), nil
}

// part decodes the first tier that has the part into out. A missing part
// falls through to the next tier; every other failure stops the search.
func (m *GroupBasedManager) part(ctx context.Context, user string, groups []string, part string, out any) error {
	if m.store != nil {
		data, err := m.store.Get(ctx, storeKey(user, part))
		switch {
		case err == nil:
			return decode(data, user, part, out)
		case !errors.Is(err, ports.ErrNotFound):
			return &LoadError{User: user, Part: part, Err: err}
		}
	}

	keys := []ports.ProfileKey{{Tier: ports.TierUser, Name: user, Part: part}}
	for _, g := range groups {
		keys = append(keys, ports.ProfileKey{Tier: ports.TierGroup, Name: g, Part: part})
	}
	keys = append(keys, ports.ProfileKey{Tier: ports.TierGlobal, Part: part})

	for _, key := range keys {
		data, err := m.loader.Load(ctx, key)
		if errors.Is(err, ports.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return &LoadError{User: user, Part: part, Err: err}
		}
		m.logger.Debug("profile part found", "user", user, "part", part, "tier", key.Tier, "name", key.Name)
		return decode(data, user, part, out)
	}
	return &LoadError{User: user, Part: part, Err: ports.ErrProfileNotFound}
}

func decode(data []byte, user, part string, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return &LoadError{User: user, Part: part, Err: err}
	}
	return nil
}

func storeKey(user, part string) string {
	return "profile:" + user + ":" + part
}

// Save persists the user tier (instances and layout) of h and makes h the
// cached holder of user.
func (m *GroupBasedManager) Save(ctx context.Context, user string, h *Holder) error {
	if m.store == nil {
		return ErrNoStore
	}
	snap := h.Snapshot()
	instances, err := yaml.Marshal(snap.Instances)
	if err != nil {
		return fmt.Errorf("failed to encode coplet instances: %w", err)
	}
	if err := m.store.Store(ctx, storeKey(user, ports.PartCopletInstances), instances); err != nil {
		return fmt.Errorf("failed to save coplet instances of %q: %w", user, err)
	}
	if snap.Layout != nil {
		root, err := yaml.Marshal(snap.Layout)
		if err != nil {
			return fmt.Errorf("failed to encode layout: %w", err)
		}
		if err := m.store.Store(ctx, storeKey(user, ports.PartLayout), root); err != nil {
			return fmt.Errorf("failed to save layout of %q: %w", user, err)
		}
	}
	m.cacheMu.Lock()
	m.holders.Add(user, h)
	m.cacheMu.Unlock()
	return nil
}

// Invalidate drops the cached holder of user.
func (m *GroupBasedManager) Invalidate(user string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.holders.Remove(user)
}

// InvalidateAll drops every cached holder and the shared definitions.
func (m *GroupBasedManager) InvalidateAll() {
	m.cacheMu.Lock()
	m.holders.Purge()
	m.cacheMu.Unlock()

	m.defsMu.Lock()
	m.defs = nil
	m.defsMu.Unlock()
}
