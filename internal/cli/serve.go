package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aretw0/cocoon"
	"github.com/aretw0/cocoon/internal/config"
	"github.com/aretw0/cocoon/pkg/adapters/file"
	httpAdapter "github.com/aretw0/cocoon/pkg/adapters/http"
	"github.com/aretw0/cocoon/pkg/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
const ShutdownTimeout = 5 * time.Second

// Serve runs the HTTP server until ctx is done. When ready is not nil it
// receives the listening address.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ready chan<- string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, closeStore, err := NewEngine(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}()

	if err := engine.Validate(ctx); err != nil {
		return fmt.Errorf("invalid sitemap: %w", err)
	}
	if cfg.Watch {
		if err := watch(ctx, engine, logger); err != nil {
			return err
		}
	}
	engine.Start(ctx)
	defer engine.Stop()

	opts := []httpAdapter.Option{httpAdapter.WithLogger(logger), httpAdapter.WithGatherer(reg)}
	if cfg.UserHeader != "" {
		opts = append(opts, httpAdapter.WithUser(httpAdapter.HeaderUser(cfg.UserHeader)))
	}
	srv := &http.Server{
		Handler:           httpAdapter.NewHandler(engine, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	logger.Info("serving", "addr", ln.Addr().String(), "sitemap", engine.URI())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
		return srv.Close()
	}
	logger.Info("server stopped")
	return nil
}

// watch invalidates the sitemap whenever its directory changes. Only file:
// sitemaps can be watched.
func watch(ctx context.Context, engine *cocoon.Engine, logger *slog.Logger) error {
	path, err := source.FilePath(engine.URI())
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	w := file.NewWatcher(filepath.Dir(path), file.WithLogger(logger))
	return engine.Watch(ctx, w)
}
