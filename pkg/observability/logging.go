package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/cocoon/pkg/domain"
)

// LogHooks returns lifecycle hooks that log every event. Node and cache
// events are logged at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	cache := func(msg string) func(context.Context, *domain.CacheEvent) {
		return func(ctx context.Context, e *domain.CacheEvent) {
			logger.DebugContext(ctx, msg, "key", e.Key, "representation", e.Representation)
		}
	}
	return domain.LifecycleHooks{
		OnNodeInvoke: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node invoked", "kind", e.Kind, "location", e.Location, "matched", e.Matched)
		},
		OnTreeRebuild: func(ctx context.Context, e *domain.TreeEvent) {
			if e.Err != nil {
				logger.ErrorContext(ctx, "sitemap build failed", "sitemap", e.Sitemap, "err", e.Err)
				return
			}
			logger.InfoContext(ctx, "sitemap built", "sitemap", e.Sitemap, "duration", e.Duration)
		},
		OnCacheHit:     cache("cache hit"),
		OnCacheMiss:    cache("cache miss"),
		OnCacheRefresh: cache("cache refresh"),
		OnRequest: func(ctx context.Context, e *domain.RequestEvent) {
			attrs := []any{"uri", e.URI, "outcome", Outcome(e), "duration", e.Duration}
			if e.Err != nil {
				logger.ErrorContext(ctx, "request failed", append(attrs, "err", e.Err)...)
				return
			}
			logger.InfoContext(ctx, "request processed", attrs...)
		},
	}
}
