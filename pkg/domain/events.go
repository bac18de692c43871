package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeInvoke     EventType = "node_invoke"
	EventTreeRebuild    EventType = "tree_rebuild"
	EventCacheHit       EventType = "cache_hit"
	EventCacheMiss      EventType = "cache_miss"
	EventCacheRefresh   EventType = "cache_refresh"
	EventRequestProcess EventType = "request_process"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// NodeEvent is emitted each time a sitemap node is invoked.
type NodeEvent struct {
	EventBase
	Kind     string `json:"kind"`     // e.g. "match", "act", "generate"
	Location string `json:"location"` // position in the sitemap
	Matched  bool   `json:"matched"`
}

// TreeEvent is emitted after a sitemap has been (re)built.
type TreeEvent struct {
	EventBase
	Sitemap  string        `json:"sitemap"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// CacheEvent is emitted by the caching source.
type CacheEvent struct {
	EventBase
	Key            string `json:"key"`
	Representation string `json:"representation"` // "binary", "xml" or "meta"
}

// RequestEvent is emitted when a top-level request has been processed.
type RequestEvent struct {
	EventBase
	URI      string        `json:"uri"`
	Matched  bool          `json:"matched"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnNodeInvoke   func(context.Context, *NodeEvent)
	OnTreeRebuild  func(context.Context, *TreeEvent)
	OnCacheHit     func(context.Context, *CacheEvent)
	OnCacheMiss    func(context.Context, *CacheEvent)
	OnCacheRefresh func(context.Context, *CacheEvent)
	OnRequest      func(context.Context, *RequestEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeInvoke:   chain(h.OnNodeInvoke, other.OnNodeInvoke),
		OnTreeRebuild:  chain(h.OnTreeRebuild, other.OnTreeRebuild),
		OnCacheHit:     chain(h.OnCacheHit, other.OnCacheHit),
		OnCacheMiss:    chain(h.OnCacheMiss, other.OnCacheMiss),
		OnCacheRefresh: chain(h.OnCacheRefresh, other.OnCacheRefresh),
		OnRequest:      chain(h.OnRequest, other.OnRequest),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
