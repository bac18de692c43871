// Package validity models whether a cached representation is still usable.
//
// A Validity first answers on its own (IsValid). When it cannot decide
// (Unknown) the caller fetches a fresh validity from the underlying resource
// and compares the two (IsValidAgainst).
package validity

import (
	"sync"
	"time"
)

// Result is the outcome of a validity check.
type Result int

const (
	Invalid Result = -1
	Unknown Result = 0
	Valid   Result = 1
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Validity decides whether a cached representation may still be served.
type Validity interface {
	IsValid() Result
	IsValidAgainst(fresh Validity) Result
}

// Never is a validity that never expires.
type Never struct{}

func (Never) IsValid() Result                { return Valid }
func (Never) IsValidAgainst(Validity) Result { return Valid }

// Clock returns the current time. It is swapped in tests.
type Clock func() time.Time

// Expires is valid until a fixed instant. A zero At means it never expires.
type Expires struct {
	At    time.Time
	Clock Clock
}

// NewExpires creates an Expires validity. A negative ttl never expires,
// zero is already expired.
func NewExpires(ttl time.Duration, clock Clock) *Expires {
	if clock == nil {
		clock = time.Now
	}
	if ttl < 0 {
		return &Expires{Clock: clock}
	}
	return &Expires{At: clock().Add(ttl), Clock: clock}
}

func (e *Expires) IsValid() Result {
	if e.At.IsZero() {
		return Valid
	}
	now := time.Now
	if e.Clock != nil {
		now = e.Clock
	}
	if now().Before(e.At) {
		return Valid
	}
	return Invalid
}

func (e *Expires) IsValidAgainst(Validity) Result {
	return e.IsValid()
}

// TimeStamp compares modification times; it can only decide against a
// fresh TimeStamp.
type TimeStamp struct {
	Modified time.Time
}

func (TimeStamp) IsValid() Result { return Unknown }

func (t TimeStamp) IsValidAgainst(fresh Validity) Result {
	other, ok := fresh.(TimeStamp)
	if !ok {
		if p, isPtr := fresh.(*TimeStamp); isPtr && p != nil {
			other, ok = *p, true
		}
	}
	if !ok {
		return Unknown
	}
	if t.Modified.Equal(other.Modified) {
		return Valid
	}
	return Invalid
}

// Registry records invalidated event keys for Event validities.
type Registry struct {
	mu      sync.RWMutex
	version map[string]uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{version: make(map[string]uint64)}
}

// Invalidate marks every Event validity with the given key as invalid.
func (r *Registry) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version[key]++
}

// Version returns the current generation of key.
func (r *Registry) Version(key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version[key]
}

// Event is valid until its key is invalidated in the registry.
type Event struct {
	Key        string
	Generation uint64
	Registry   *Registry
}

// NewEvent creates an Event validity bound to the current generation of key.
func NewEvent(key string, reg *Registry) *Event {
	return &Event{Key: key, Generation: reg.Version(key), Registry: reg}
}

func (e *Event) IsValid() Result {
	if e.Registry == nil {
		return Unknown
	}
	if e.Registry.Version(e.Key) == e.Generation {
		return Valid
	}
	return Invalid
}

func (e *Event) IsValidAgainst(Validity) Result {
	return e.IsValid()
}

// Aggregated is valid when all of its members are.
type Aggregated []Validity

func (a Aggregated) IsValid() Result {
	res := Valid
	for _, v := range a {
		switch v.IsValid() {
		case Invalid:
			return Invalid
		case Unknown:
			res = Unknown
		}
	}
	return res
}

func (a Aggregated) IsValidAgainst(fresh Validity) Result {
	other, ok := fresh.(Aggregated)
	if !ok || len(other) != len(a) {
		return Invalid
	}
	for i, v := range a {
		r := v.IsValid()
		if r == Unknown {
			r = v.IsValidAgainst(other[i])
		}
		if r != Valid {
			return r
		}
	}
	return Valid
}
