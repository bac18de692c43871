package cli

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/cocoon"
	"github.com/aretw0/cocoon/internal/config"
	"github.com/aretw0/cocoon/pkg/adapters/file"
	"github.com/aretw0/cocoon/pkg/adapters/memory"
	"github.com/aretw0/cocoon/pkg/adapters/redis"
	"github.com/aretw0/cocoon/pkg/observability"
	"github.com/aretw0/cocoon/pkg/persistence/middleware"
	"github.com/aretw0/cocoon/pkg/portal/profile"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsNamespace prefixes every collector registered by the CLI.
const MetricsNamespace = "cocoon"

// NewEngine creates an engine from cfg. Lifecycle events are logged, and
// recorded as metrics when reg is not nil. The returned func releases the
// store connection.
func NewEngine(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, extra ...cocoon.Option) (*cocoon.Engine, func() error, error) {
	opts := []cocoon.Option{
		cocoon.WithLogger(logger),
		cocoon.WithCheckReload(cfg.CheckReload),
		cocoon.WithReloadDelay(cfg.ReloadDelay),
		cocoon.WithDefaultExpires(cfg.Cache.DefaultExpires),
		cocoon.WithLifecycleHooks(observability.LogHooks(logger)),
	}
	if cfg.Cache.RefreshInterval > 0 {
		opts = append(opts, cocoon.WithRefreshInterval(cfg.Cache.RefreshInterval))
	}

	if reg != nil {
		metrics := observability.NewMetrics(MetricsNamespace)
		if err := metrics.Register(reg); err != nil {
			return nil, nil, fmt.Errorf("registering metrics: %w", err)
		}
		opts = append(opts, cocoon.WithLifecycleHooks(metrics.Hooks()))
	}

	var store ports.Store
	closeFn := func() error { return nil }
	switch cfg.Store.Type {
	case config.StoreFile:
		store = file.NewStore(cfg.Store.Path)
	case config.StoreRedis:
		rc := cfg.Store.Redis
		prefix := rc.Prefix
		if prefix == "" {
			prefix = redis.DefaultPrefix
		}
		storeOpts := []redis.Option{redis.WithPrefix(prefix)}
		if rc.TTL > 0 {
			storeOpts = append(storeOpts, redis.WithTTL(rc.TTL))
		}
		rs := redis.New(rc.Addr, rc.Password, rc.DB, storeOpts...)
		opts = append(opts, cocoon.WithLocker(redis.NewLocker(rs.Client(), prefix)))
		store, closeFn = rs, rs.Close
	default:
		store = memory.NewStore()
	}

	active, fallback, err := cfg.Store.EncryptionKeys()
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	if active != nil {
		encrypt, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		store = middleware.Chain(store, encrypt)
	}
	opts = append(opts, cocoon.WithStore(store))

	if cfg.Profiles.Dir != "" {
		opts = append(opts, cocoon.WithProfiles(file.NewLoader(cfg.Profiles.Dir),
			profile.WithCacheSize(cfg.Profiles.CacheSize),
			profile.WithGroups(profile.StaticGroups(cfg.Profiles.Groups)),
		))
	}

	engine, err := cocoon.New(cfg.Sitemap, append(opts, extra...)...)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, closeFn, nil
}
