package ports

import (
	"context"
	"errors"
)

// ErrProfileNotFound is returned by ProfileLoader when a tier has no data
// for the requested part. Callers fall through to the next tier.
var ErrProfileNotFound = errors.New("profile not found")

// Profile tiers, searched in this order.
const (
	TierUser   = "user"
	TierGroup  = "group"
	TierGlobal = "global"
)

// Profile parts.
const (
	PartCopletDefinitions = "copletdefinitions"
	PartCopletInstances   = "copletinstances"
	PartLayout            = "layout"
)

// ProfileKey addresses one part of one tier. Name is the user or group name
// and is empty for the global tier.
type ProfileKey struct {
	Tier string
	Name string
	Part string
}

// ProfileLoader reads raw profile parts.
type ProfileLoader interface {
	// Load returns the encoded part, or ErrProfileNotFound.
	Load(ctx context.Context, key ProfileKey) ([]byte, error)
}

// Watchable defines an interface for backends that can notify about changes.
// This is typically used for hot-reload of sitemaps.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying data changes.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
