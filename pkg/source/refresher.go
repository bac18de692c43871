package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/cocoon/internal/logging"
	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/hashicorp/go-multierror"
)

// Refresher periodically refreshes registered sources, typically async
// cached sources whose cache is trusted at initialization.
type Refresher struct {
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	sources map[string]ports.Source
	cancel  context.CancelFunc
	done    chan struct{}
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger.
func WithRefresherLogger(l *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = l }
}

// NewRefresher creates a refresher running every interval once started.
func NewRefresher(interval time.Duration, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		interval: interval,
		logger:   logging.NewNop(),
		sources:  make(map[string]ports.Source),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds src, replacing any source registered under the same URI.
func (r *Refresher) Register(src ports.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.URI()] = src
}

// Unregister removes the source registered under uri.
func (r *Refresher) Unregister(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, uri)
}

// Len returns the number of registered sources.
func (r *Refresher) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// RefreshAll refreshes every registered source once.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	sources := make([]ports.Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.Unlock()

	var result *multierror.Error
	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Refresh(ctx); err != nil {
			r.logger.Warn("refresh failed", "uri", s.URI(), "err", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Start runs the refresh loop until Stop is called or ctx is done.
// Calling Start twice has no effect.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.RefreshAll(ctx)
			}
		}
	}(r.done)
}

// Stop ends the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
