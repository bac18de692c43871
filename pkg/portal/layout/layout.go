// Package layout models the portal page: a tree of composite layouts whose
// items hold either further composites or coplet layouts.
package layout

import (
	"errors"
	"fmt"
	"strconv"
)

// Layout types with built-in meaning. Other types are allowed and are
// rendered by the renderer registered for them.
const (
	TypeRow    = "row"
	TypeColumn = "column"
	TypeTab    = "tab"
	TypeCoplet = "coplet"
)

// Layout is one node of the page tree.
type Layout struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type"`
	Renderer   string            `yaml:"renderer,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
	// Coplet is the coplet instance id of a coplet layout.
	Coplet string  `yaml:"coplet,omitempty"`
	Items  []*Item `yaml:"items,omitempty"`

	parent    *Item
	maximized *Item
}

// Item places a layout inside a composite layout.
type Item struct {
	// Name labels the item, e.g. the tab title.
	Name       string            `yaml:"name,omitempty"`
	Static     bool              `yaml:"static,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
	Layout     *Layout           `yaml:"layout"`

	parent *Layout
}

// ErrDuplicateID is returned by Link when two layouts share an id.
var ErrDuplicateID = errors.New("duplicate layout id")

// IsComposite reports whether the layout has items rather than coplet content.
func (l *Layout) IsComposite() bool { return l.Type != TypeCoplet }

// Parameter returns a layout parameter.
func (l *Layout) Parameter(name string) (string, bool) {
	v, ok := l.Parameters[name]
	return v, ok
}

// IntParameter returns a layout parameter as an int.
func (l *Layout) IntParameter(name string) (int, bool) {
	v, ok := l.Parameters[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// Parent returns the item holding l, or nil for the root.
func (l *Layout) Parent() *Item { return l.parent }

// Owner returns the composite layout holding item i.
func (i *Item) Owner() *Layout { return i.parent }

// Maximized returns the maximized item of a composite, if any.
func (l *Layout) Maximized() *Item { return l.maximized }

// SetMaximized marks i as the maximized item of l. nil clears it.
func (l *Layout) SetMaximized(i *Item) error {
	if i != nil && i.parent != l {
		return fmt.Errorf("item %q does not belong to layout %q", i.Name, l.ID)
	}
	l.maximized = i
	return nil
}

// AddItem appends an item holding child and links it.
func (l *Layout) AddItem(name string, child *Layout) *Item {
	item := &Item{Name: name, Layout: child, parent: l}
	child.parent = item
	l.Items = append(l.Items, item)
	return item
}

// RemoveItem removes the item holding child. It reports whether it was found.
func (l *Layout) RemoveItem(child *Layout) bool {
	for i, item := range l.Items {
		if item.Layout == child {
			l.Items = append(l.Items[:i], l.Items[i+1:]...)
			if l.maximized == item {
				l.maximized = nil
			}
			child.parent = nil
			return true
		}
	}
	return false
}

// Link sets the parent pointers of the tree below root (after decoding) and
// checks that ids are unique.
func Link(root *Layout) error {
	seen := make(map[string]bool)
	var walk func(l *Layout) error
	walk = func(l *Layout) error {
		if l.ID != "" {
			if seen[l.ID] {
				return fmt.Errorf("%w: %q", ErrDuplicateID, l.ID)
			}
			seen[l.ID] = true
		}
		for _, item := range l.Items {
			if item.Layout == nil {
				return fmt.Errorf("layout %q has an empty item", l.ID)
			}
			item.parent = l
			item.Layout.parent = item
			if err := walk(item.Layout); err != nil {
				return err
			}
		}
		return nil
	}
	root.parent = nil
	return walk(root)
}

// Walk calls fn for l and every layout below it, depth first.
func Walk(l *Layout, fn func(*Layout)) {
	if l == nil {
		return
	}
	fn(l)
	for _, item := range l.Items {
		Walk(item.Layout, fn)
	}
}
