package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/cocoon/pkg/ports"
)

// Loader implements ports.ProfileLoader using an in-memory map.
type Loader struct {
	mu    sync.RWMutex
	parts map[ports.ProfileKey][]byte
}

// NewLoader creates a new Loader with the provided raw data (YAML strings).
func NewLoader(data map[ports.ProfileKey]string) *Loader {
	parts := make(map[ports.ProfileKey][]byte)
	for k, v := range data {
		parts[k] = []byte(v)
	}
	return &Loader{parts: parts}
}

// Load retrieves one profile part.
func (l *Loader) Load(ctx context.Context, key ports.ProfileKey) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	content, ok := l.parts[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s/%s: %w", key.Tier, key.Name, key.Part, ports.ErrProfileNotFound)
	}
	return content, nil
}

// Set replaces one profile part.
func (l *Loader) Set(key ports.ProfileKey, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parts[key] = []byte(content)
}
