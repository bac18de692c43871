package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	ctx := context.Background()
	m := observability.NewMetrics("test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	hooks := m.Hooks()

	hooks.OnNodeInvoke(ctx, &domain.NodeEvent{Kind: "match", Matched: true})
	hooks.OnNodeInvoke(ctx, &domain.NodeEvent{Kind: "match", Matched: false})
	hooks.OnNodeInvoke(ctx, &domain.NodeEvent{Kind: "match", Matched: true})
	hooks.OnTreeRebuild(ctx, &domain.TreeEvent{Sitemap: "s", Duration: time.Millisecond})
	hooks.OnTreeRebuild(ctx, &domain.TreeEvent{Sitemap: "s", Err: errors.New("bad")})
	hooks.OnCacheHit(ctx, &domain.CacheEvent{Representation: "xml"})
	hooks.OnCacheMiss(ctx, &domain.CacheEvent{Representation: "binary"})
	hooks.OnCacheRefresh(ctx, &domain.CacheEvent{Representation: "binary"})
	hooks.OnRequest(ctx, &domain.RequestEvent{URI: "a", Matched: true})
	hooks.OnRequest(ctx, &domain.RequestEvent{URI: "b"})
	hooks.OnRequest(ctx, &domain.RequestEvent{URI: "c", Err: errors.New("boom")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Nodes.WithLabelValues("match", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Nodes.WithLabelValues("match", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rebuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rebuilds.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cache.WithLabelValues("hit", "xml")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cache.WithLabelValues("miss", "binary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cache.WithLabelValues("refresh", "binary")))
	for _, outcome := range []string{"matched", "unmatched", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues(outcome)), outcome)
	}
	assert.Equal(t, 2, testutil.CollectAndCount(m.RebuildDuration)+testutil.CollectAndCount(m.RequestDuration))

	assert.Error(t, m.Register(reg), "collectors cannot be registered twice")
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.NewMetrics("merged").Hooks().Merge(observability.LogHooks(logger))
	ctx := context.Background()

	hooks.OnTreeRebuild(ctx, &domain.TreeEvent{Sitemap: "memory:/sitemap.xmap"})
	hooks.OnRequest(ctx, &domain.RequestEvent{URI: "docs/a.html", Err: errors.New("boom")})
	hooks.OnCacheHit(ctx, &domain.CacheEvent{Key: "source:memory:/a.xml", Representation: "meta"})

	out := buf.String()
	assert.Contains(t, out, `msg="sitemap built" sitemap=memory:/sitemap.xmap`)
	assert.Contains(t, out, `msg="request failed" uri=docs/a.html outcome=error`)
	assert.Contains(t, out, `err=boom`)
	assert.Contains(t, out, `msg="cache hit" key=source:memory:/a.xml representation=meta`)
}
