package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/cocoon/pkg/ports"
)

// Loader implements ports.ProfileLoader over a directory:
//
//	<root>/global/<part>.yaml
//	<root>/groups/<group>/<part>.yaml
//	<root>/users/<user>/<part>.yaml
type Loader struct {
	root string
}

// NewLoader creates a loader reading below root.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Path returns the file holding key.
func (l *Loader) Path(key ports.ProfileKey) (string, error) {
	if strings.ContainsAny(key.Name, `/\`) || key.Name == ".." || strings.ContainsAny(key.Part, `/\`) {
		return "", fmt.Errorf("invalid profile key %+v", key)
	}
	file := key.Part + ".yaml"
	switch key.Tier {
	case ports.TierGlobal:
		return filepath.Join(l.root, "global", file), nil
	case ports.TierGroup:
		return filepath.Join(l.root, "groups", key.Name, file), nil
	case ports.TierUser:
		return filepath.Join(l.root, "users", key.Name, file), nil
	}
	return "", fmt.Errorf("unknown profile tier %q", key.Tier)
}

// Load reads one profile part.
func (l *Loader) Load(ctx context.Context, key ports.ProfileKey) ([]byte, error) {
	p, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ports.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to read profile %s: %w", p, err)
	}
	return data, nil
}
