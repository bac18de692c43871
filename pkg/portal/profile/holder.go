package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/cocoon/pkg/portal/layout"
)

// EventKind tags an Event.
type EventKind int

const (
	DefinitionAdded EventKind = iota + 1
	DefinitionRemoved
	InstanceAdded
	InstanceRemoved
	LayoutAdded
	LayoutRemoved
	InstanceSizeChanged
)

func (k EventKind) String() string {
	switch k {
	case DefinitionAdded:
		return "definition-added"
	case DefinitionRemoved:
		return "definition-removed"
	case InstanceAdded:
		return "instance-added"
	case InstanceRemoved:
		return "instance-removed"
	case LayoutAdded:
		return "layout-added"
	case LayoutRemoved:
		return "layout-removed"
	case InstanceSizeChanged:
		return "instance-size-changed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a change applied to a Holder. Which fields are read depends on
// Kind:
//
//	DefinitionAdded, DefinitionRemoved  Definition
//	InstanceAdded, InstanceRemoved      Instance
//	LayoutAdded                         Layout, Parent (nil for the root), Item
//	LayoutRemoved                       Layout
//	InstanceSizeChanged                 Instance (by id), Size
type Event struct {
	Kind       EventKind
	Definition *CopletDefinition
	Instance   *CopletInstance
	Layout     *layout.Layout
	Parent     *layout.Layout
	Item       string
	Size       Size
}

// ErrUnknownEvent is returned by Inform for an event it cannot apply.
var ErrUnknownEvent = errors.New("unknown profile event")

// Holder indexes one user's profile. Lookups are O(1). It is safe for
// concurrent use; layouts obtained from it must only be read inside Read.
type Holder struct {
	mu          sync.RWMutex
	definitions map[string]*CopletDefinition
	instances   map[string]*CopletInstance
	layouts     map[string]*layout.Layout
	coplets     map[string]*layout.Layout // instance id -> coplet layout
	root        *layout.Layout
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	h := &Holder{}
	h.reset()
	return h
}

func (h *Holder) reset() {
	h.definitions = make(map[string]*CopletDefinition)
	h.instances = make(map[string]*CopletInstance)
	h.layouts = make(map[string]*layout.Layout)
	h.coplets = make(map[string]*layout.Layout)
	h.root = nil
}

// Rebuild replaces the whole content of the holder with p. On error the
// holder is left unchanged.
func (h *Holder) Rebuild(p *Profile) error {
	next := &Holder{}
	next.reset()
	for _, d := range p.Definitions {
		next.definitions[d.ID] = d
	}
	for _, i := range p.Instances {
		if _, ok := next.definitions[i.Definition]; !ok {
			return &DanglingError{From: "coplet instance " + i.ID, To: "definition " + i.Definition}
		}
		next.instances[i.ID] = i
	}
	if p.Layout != nil {
		if err := layout.Link(p.Layout); err != nil {
			return err
		}
		if err := next.index(p.Layout); err != nil {
			return err
		}
		next.root = p.Layout
	}
	for id, inst := range next.instances {
		if inst.EffectiveSize() != SizeMaximized {
			continue
		}
		if l, ok := next.coplets[id]; ok {
			maximize(l, true)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.definitions, h.instances = next.definitions, next.instances
	h.layouts, h.coplets, h.root = next.layouts, next.coplets, next.root
	return nil
}

// index adds l and its descendants. Nothing is added when an id clashes or
// a coplet layout names an unknown instance. Callers hold the write lock.
func (h *Holder) index(l *layout.Layout) error {
	layouts := make(map[string]*layout.Layout)
	coplets := make(map[string]*layout.Layout)
	var err error
	layout.Walk(l, func(n *layout.Layout) {
		if err != nil {
			return
		}
		if n.ID != "" {
			if _, dup := h.layouts[n.ID]; dup {
				err = fmt.Errorf("%w: %q", layout.ErrDuplicateID, n.ID)
				return
			}
			layouts[n.ID] = n
		}
		if n.Type == layout.TypeCoplet {
			if _, ok := h.instances[n.Coplet]; !ok {
				err = &DanglingError{From: "layout " + n.ID, To: "coplet instance " + n.Coplet}
				return
			}
			coplets[n.Coplet] = n
		}
	})
	if err != nil {
		return err
	}
	for id, n := range layouts {
		h.layouts[id] = n
	}
	for id, n := range coplets {
		h.coplets[id] = n
	}
	return nil
}

func (h *Holder) unindex(l *layout.Layout) {
	layout.Walk(l, func(n *layout.Layout) {
		delete(h.layouts, n.ID)
		if n.Type == layout.TypeCoplet && h.coplets[n.Coplet] == n {
			delete(h.coplets, n.Coplet)
		}
	})
}

// maximize sets or clears the maximized item of the composite holding l.
func maximize(l *layout.Layout, on bool) {
	item := l.Parent()
	if item == nil {
		return
	}
	owner := item.Owner()
	switch {
	case on:
		_ = owner.SetMaximized(item)
	case owner.Maximized() == item:
		_ = owner.SetMaximized(nil)
	}
}

// Inform applies a change event. Removing a definition still used by an
// instance, or an instance still shown by a layout, fails with a
// *DanglingError and changes nothing.
func (h *Holder) Inform(ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case DefinitionAdded:
		if ev.Definition == nil {
			return fmt.Errorf("%s: missing definition", ev.Kind)
		}
		h.definitions[ev.Definition.ID] = ev.Definition
	case DefinitionRemoved:
		if ev.Definition == nil {
			return fmt.Errorf("%s: missing definition", ev.Kind)
		}
		for _, inst := range h.instances {
			if inst.Definition == ev.Definition.ID {
				return &DanglingError{From: "coplet instance " + inst.ID, To: "definition " + ev.Definition.ID}
			}
		}
		delete(h.definitions, ev.Definition.ID)
	case InstanceAdded:
		if ev.Instance == nil {
			return fmt.Errorf("%s: missing instance", ev.Kind)
		}
		if _, ok := h.definitions[ev.Instance.Definition]; !ok {
			return &DanglingError{From: "coplet instance " + ev.Instance.ID, To: "definition " + ev.Instance.Definition}
		}
		h.instances[ev.Instance.ID] = ev.Instance
	case InstanceRemoved:
		if ev.Instance == nil {
			return fmt.Errorf("%s: missing instance", ev.Kind)
		}
		if l, ok := h.coplets[ev.Instance.ID]; ok {
			return &DanglingError{From: "layout " + l.ID, To: "coplet instance " + ev.Instance.ID}
		}
		delete(h.instances, ev.Instance.ID)
	case LayoutAdded:
		return h.addLayout(ev)
	case LayoutRemoved:
		return h.removeLayout(ev.Layout)
	case InstanceSizeChanged:
		return h.resize(ev)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
	return nil
}

func (h *Holder) addLayout(ev Event) error {
	if ev.Layout == nil {
		return fmt.Errorf("%s: missing layout", ev.Kind)
	}
	if err := layout.Link(ev.Layout); err != nil {
		return err
	}
	if ev.Parent == nil {
		if h.root != nil {
			return fmt.Errorf("%s: profile already has a root layout", ev.Kind)
		}
	} else if h.layouts[ev.Parent.ID] != ev.Parent || !ev.Parent.IsComposite() {
		return fmt.Errorf("%s: parent %q is not a composite layout of this profile", ev.Kind, ev.Parent.ID)
	}
	if err := h.index(ev.Layout); err != nil {
		return err
	}
	if ev.Parent == nil {
		h.root = ev.Layout
	} else {
		ev.Parent.AddItem(ev.Item, ev.Layout)
	}
	return nil
}

func (h *Holder) removeLayout(l *layout.Layout) error {
	if l == nil || h.layouts[l.ID] != l {
		return fmt.Errorf("%s: layout is not part of this profile", LayoutRemoved)
	}
	h.unindex(l)
	if l == h.root {
		h.root = nil
		return nil
	}
	if item := l.Parent(); item != nil {
		item.Owner().RemoveItem(l)
	}
	return nil
}

func (h *Holder) resize(ev Event) error {
	if ev.Instance == nil {
		return fmt.Errorf("%s: missing instance", ev.Kind)
	}
	inst, ok := h.instances[ev.Instance.ID]
	if !ok {
		return &DanglingError{From: "size change", To: "coplet instance " + ev.Instance.ID}
	}
	old := inst.EffectiveSize()
	inst.Size = ev.Size
	l, ok := h.coplets[inst.ID]
	if !ok {
		return nil
	}
	switch {
	case ev.Size == SizeMaximized:
		maximize(l, true)
	case old == SizeMaximized:
		maximize(l, false)
	}
	return nil
}

// Read calls fn with a view of the holder while holding the read lock.
// Renderers walk the layout tree inside Read.
func (h *Holder) Read(fn func(View) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(View{h: h})
}

// CopletDefinition returns a definition by id.
func (h *Holder) CopletDefinition(id string) (*CopletDefinition, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return View{h}.CopletDefinition(id)
}

// CopletInstance returns an instance by id.
func (h *Holder) CopletInstance(id string) (*CopletInstance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return View{h}.CopletInstance(id)
}

// Layout returns a layout by id.
func (h *Holder) Layout(id string) (*layout.Layout, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return View{h}.Layout(id)
}

// Root returns the root layout, or nil.
func (h *Holder) Root() *layout.Layout {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// Snapshot returns the user-owned parts of the profile (instances sorted by
// id and the layout root), e.g. for persisting them.
func (h *Holder) Snapshot() *Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := &Profile{Layout: h.root}
	for _, d := range h.definitions {
		p.Definitions = append(p.Definitions, d)
	}
	for _, i := range h.instances {
		p.Instances = append(p.Instances, i)
	}
	sort.Slice(p.Definitions, func(a, b int) bool { return p.Definitions[a].ID < p.Definitions[b].ID })
	sort.Slice(p.Instances, func(a, b int) bool { return p.Instances[a].ID < p.Instances[b].ID })
	return p
}

// View is the lock-free read API handed out by Holder.Read.
type View struct {
	h *Holder
}

func (v View) CopletDefinition(id string) (*CopletDefinition, bool) {
	d, ok := v.h.definitions[id]
	return d, ok
}

func (v View) CopletInstance(id string) (*CopletInstance, bool) {
	i, ok := v.h.instances[id]
	return i, ok
}

func (v View) Layout(id string) (*layout.Layout, bool) {
	l, ok := v.h.layouts[id]
	return l, ok
}

// LayoutForCoplet returns the coplet layout showing instance id.
func (v View) LayoutForCoplet(id string) (*layout.Layout, bool) {
	l, ok := v.h.coplets[id]
	return l, ok
}

func (v View) Root() *layout.Layout { return v.h.root }

// Coplet returns an instance together with its definition.
func (v View) Coplet(id string) (*CopletInstance, *CopletDefinition, error) {
	inst, ok := v.h.instances[id]
	if !ok {
		return nil, nil, &DanglingError{From: "coplet layout", To: "coplet instance " + id}
	}
	def, ok := v.h.definitions[inst.Definition]
	if !ok {
		return nil, nil, &DanglingError{From: "coplet instance " + id, To: "definition " + inst.Definition}
	}
	return inst, def, nil
}
