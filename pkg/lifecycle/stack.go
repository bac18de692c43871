package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/cocoon/pkg/domain"
	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/registry"
	"github.com/hashicorp/go-multierror"
)

var (
	// ErrEnvironmentLeak is returned by Check when entries remain on the stack
	// after the top-level request finished.
	ErrEnvironmentLeak = errors.New("environment stack is not empty at request end")

	// ErrUnbalancedLeave is returned by Leave when the stack is already empty.
	ErrUnbalancedLeave = errors.New("leave without matching enter")

	// ErrNotBegun is returned when the context carries no stack.
	ErrNotBegun = errors.New("request lifecycle not begun")
)

// Processor is the part of a sitemap processor visible to nested code.
type Processor interface {
	// Process handles env; false means nothing matched.
	Process(ctx context.Context, env *domain.Environment) (bool, error)
	// BuildPipeline walks the sitemap for env without executing the pipeline.
	BuildPipeline(ctx context.Context, env *domain.Environment) (*pipeline.Pipeline, error)
	// Root returns the processor of the outermost sitemap.
	Root() Processor
}

// Entry is one level of the environment stack.
type Entry struct {
	Env       *domain.Environment
	Processor Processor
	Registry  *registry.Registry
	// Offset is the position of the entry in the stack, set by Enter.
	Offset int
}

// Releasable is a component owned by the request until it ends.
// Implementations must be comparable (usually pointers).
type Releasable interface {
	Release(ctx context.Context) error
}

// description is shared between a stack and its forks.
type description struct {
	mu         sync.Mutex
	components []Releasable
	released   bool
}

type stack struct {
	entries []Entry
	desc    *description
	forked  bool
}

type ctxKey struct{}

func from(ctx context.Context) *stack {
	s, _ := ctx.Value(ctxKey{}).(*stack)
	return s
}

// Begin returns a context carrying a fresh, empty stack.
func Begin(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &stack{desc: &description{}})
}

// Began reports whether ctx carries a stack.
func Began(ctx context.Context) bool {
	return from(ctx) != nil
}

// Enter pushes e.
func Enter(ctx context.Context, e Entry) error {
	s := from(ctx)
	if s == nil {
		return ErrNotBegun
	}
	e.Offset = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Leave pops the top entry. Leaving the outermost entry of a non-forked stack
// releases every component still registered for automatic release.
func Leave(ctx context.Context) error {
	s := from(ctx)
	if s == nil {
		return ErrNotBegun
	}
	if len(s.entries) == 0 {
		return ErrUnbalancedLeave
	}
	s.entries[len(s.entries)-1] = Entry{}
	s.entries = s.entries[:len(s.entries)-1]
	if len(s.entries) == 0 && !s.forked {
		return s.desc.release(ctx)
	}
	return nil
}

// Check returns ErrEnvironmentLeak when the stack is not empty.
func Check(ctx context.Context) error {
	s := from(ctx)
	if s == nil {
		return ErrNotBegun
	}
	if len(s.entries) != 0 {
		return ErrEnvironmentLeak
	}
	return nil
}

// End releases every component still registered for automatic release,
// whatever the stack depth. The request processor calls it when Check
// reports a leak, since the outermost Leave then never empties the stack.
func End(ctx context.Context) error {
	s := from(ctx)
	if s == nil {
		return ErrNotBegun
	}
	return s.desc.release(ctx)
}

// Current returns the top entry.
func Current(ctx context.Context) (Entry, bool) {
	s := from(ctx)
	if s == nil || len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// CurrentEnvironment returns the environment of the top entry.
func CurrentEnvironment(ctx context.Context) (*domain.Environment, error) {
	e, ok := Current(ctx)
	if !ok || e.Env == nil {
		return nil, domain.ErrNoEnvironment
	}
	return e.Env, nil
}

// Depth returns the number of entries.
func Depth(ctx context.Context) int {
	s := from(ctx)
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Fork returns a context for a goroutine started mid-request. The fork copies
// the entries and shares the release bookkeeping; leaving its last entry does
// not release anything.
func Fork(ctx context.Context) context.Context {
	s := from(ctx)
	if s == nil {
		return ctx
	}
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return context.WithValue(ctx, ctxKey{}, &stack{entries: entries, desc: s.desc, forked: true})
}

// AddForAutomaticRelease registers c to be released when the request ends.
func AddForAutomaticRelease(ctx context.Context, c Releasable) error {
	s := from(ctx)
	if s == nil {
		return ErrNotBegun
	}
	s.desc.mu.Lock()
	defer s.desc.mu.Unlock()
	if s.desc.released {
		return errors.New("request already ended")
	}
	s.desc.components = append(s.desc.components, c)
	return nil
}

// RemoveFromAutomaticRelease unregisters c. It reports whether c was registered.
func RemoveFromAutomaticRelease(ctx context.Context, c Releasable) bool {
	s := from(ctx)
	if s == nil {
		return false
	}
	s.desc.mu.Lock()
	defer s.desc.mu.Unlock()
	for i, rc := range s.desc.components {
		if rc == c {
			s.desc.components = append(s.desc.components[:i], s.desc.components[i+1:]...)
			return true
		}
	}
	return false
}

func (d *description) release(ctx context.Context) error {
	d.mu.Lock()
	components := d.components
	d.components = nil
	d.released = true
	d.mu.Unlock()

	var result *multierror.Error
	// release in reverse registration order
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Release(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
