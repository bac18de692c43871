package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors fed by Hooks.
type Metrics struct {
	Nodes           *prometheus.CounterVec
	Rebuilds        *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
	Cache           *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
}

// NewMetrics creates unregistered collectors named <namespace>_...
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sitemap_node_invocations_total",
			Help:      "Sitemap node invocations by node kind and outcome.",
		}, []string{"kind", "matched"}),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sitemap_rebuilds_total",
			Help:      "Sitemap tree builds by result.",
		}, []string{"result"}),
		RebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sitemap_rebuild_duration_seconds",
			Help:      "Duration of sitemap tree builds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_cache_events_total",
			Help:      "Caching source hits, misses and refreshes by representation.",
		}, []string{"event", "representation"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Processed top-level requests by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of top-level request processing.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Nodes, m.Rebuilds, m.RebuildDuration, m.Cache, m.Requests, m.RequestDuration}
}

// Register registers the collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register that panics on error.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	cache := func(event string) func(context.Context, *domain.CacheEvent) {
		return func(_ context.Context, e *domain.CacheEvent) {
			m.Cache.WithLabelValues(event, e.Representation).Inc()
		}
	}
	return domain.LifecycleHooks{
		OnNodeInvoke: func(_ context.Context, e *domain.NodeEvent) {
			m.Nodes.WithLabelValues(e.Kind, strconv.FormatBool(e.Matched)).Inc()
		},
		OnTreeRebuild: func(_ context.Context, e *domain.TreeEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.Rebuilds.WithLabelValues(result).Inc()
			m.RebuildDuration.Observe(e.Duration.Seconds())
		},
		OnCacheHit:     cache("hit"),
		OnCacheMiss:    cache("miss"),
		OnCacheRefresh: cache("refresh"),
		OnRequest: func(_ context.Context, e *domain.RequestEvent) {
			m.Requests.WithLabelValues(Outcome(e)).Inc()
			m.RequestDuration.Observe(e.Duration.Seconds())
		},
	}
}

// Outcome classifies a request event as "error", "matched" or "unmatched".
func Outcome(e *domain.RequestEvent) string {
	switch {
	case e.Err != nil:
		return "error"
	case e.Matched:
		return "matched"
	}
	return "unmatched"
}
