// Package profile keeps the per-user portal profile: coplet definitions,
// coplet instances and the layout tree, indexed for direct lookup.
package profile

import (
	"fmt"

	"github.com/aretw0/cocoon/pkg/portal/layout"
)

// Size is the display state of a coplet instance.
type Size string

const (
	SizeNormal    Size = "normal"
	SizeMinimized Size = "minimized"
	SizeMaximized Size = "maximized"
)

// CopletDefinition describes a kind of coplet. Definitions are shared by all
// users.
type CopletDefinition struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title,omitempty"`
	// URI is the source whose content the coplet shows.
	URI        string            `yaml:"uri"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// CopletInstance is one placement of a definition in a user's portal.
type CopletInstance struct {
	ID         string            `yaml:"id"`
	Definition string            `yaml:"definition"`
	Size       Size              `yaml:"size,omitempty"`
	Title      string            `yaml:"title,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// EffectiveSize returns the size, defaulting to normal.
func (i *CopletInstance) EffectiveSize() Size {
	if i.Size == "" {
		return SizeNormal
	}
	return i.Size
}

// Profile is the raw material a Holder is built from.
type Profile struct {
	Definitions []*CopletDefinition
	Instances   []*CopletInstance
	Layout      *layout.Layout
}

// DanglingError reports a reference to an unknown definition or instance.
type DanglingError struct {
	From string
	To   string
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("%s references unknown %s", e.From, e.To)
}
