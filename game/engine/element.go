package engine

import "strings"

// Visibility controls who may see an element's contents (children and the
// attributes of those children). It is set by game rules; the engine only
// applies the policy when producing per-seat views.
type Visibility int

const (
	// ContentsVisible makes contents visible to every seat. Default.
	ContentsVisible Visibility = iota
	// ContentsHidden masks contents from every seat.
	ContentsHidden
	// ContentsVisibleToOwner masks contents from every seat except the owner.
	ContentsVisibleToOwner
)

// Element is one node of the game's element tree. Elements are created and
// mutated only through their owning Game so every change lands in the command
// log. Identity is the stable integer id; the branch path is an alternate,
// name-based address.
type Element struct {
	g        *Game
	id       int
	name     string
	kind     string
	owner    int // seat, 0 = unowned
	parent   *Element
	children []*Element
	attrs    map[string]any
	contents Visibility
}

// ID returns the element's stable id.
func (e *Element) ID() int { return e.id }

// Name returns the element's name. Names are unique among siblings.
func (e *Element) Name() string { return e.name }

// Kind returns the element's kind tag (e.g. "space", "piece").
func (e *Element) Kind() string { return e.kind }

// Owner returns the owning seat, or 0 when unowned.
func (e *Element) Owner() int { return e.owner }

// Parent returns the parent element, or nil for the root.
func (e *Element) Parent() *Element { return e.parent }

// Children returns the element's children in insertion order.
func (e *Element) Children() []*Element {
	out := make([]*Element, len(e.children))
	copy(out, e.children)
	return out
}

// Child returns the direct child with the given name.
func (e *Element) Child(name string) (*Element, bool) {
	for _, c := range e.children {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Attr returns an attribute value.
func (e *Element) Attr(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Attrs returns a copy of the attribute map.
func (e *Element) Attrs() map[string]any {
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// SetAttr sets an attribute value.
func (e *Element) SetAttr(key string, v any) {
	if e.attrs == nil {
		e.attrs = make(map[string]any)
	}
	e.attrs[key] = v
	e.g.record(Command{Op: "setAttr", Element: e.id, Key: key, Value: v})
}

// SetOwner assigns the element to a seat (0 clears ownership).
func (e *Element) SetOwner(seat int) {
	e.owner = seat
	e.g.record(Command{Op: "setOwner", Element: e.id, Seat: seat})
}

// ShowContents makes the element's contents visible to all seats.
func (e *Element) ShowContents() {
	e.contents = ContentsVisible
	e.g.record(Command{Op: "show", Element: e.id})
}

// HideContents masks the element's contents from all seats.
func (e *Element) HideContents() {
	e.contents = ContentsHidden
	e.g.record(Command{Op: "hide", Element: e.id})
}

// ShowContentsToOwner masks contents from everyone but the owning seat.
func (e *Element) ShowContentsToOwner() {
	e.contents = ContentsVisibleToOwner
	e.g.record(Command{Op: "showOwner", Element: e.id})
}

// ContentsPolicy returns the element's visibility policy.
func (e *Element) ContentsPolicy() Visibility { return e.contents }

// VisibleTo reports whether this element may be shown to the given seat.
// An element is hidden when any ancestor's contents policy excludes the seat.
// Seat 0 is the spectator view and only sees fully public contents.
func (e *Element) VisibleTo(seat int) bool {
	for a := e.parent; a != nil; a = a.parent {
		switch a.contents {
		case ContentsHidden:
			return false
		case ContentsVisibleToOwner:
			if a.owner != seat {
				return false
			}
		}
	}
	return true
}

// MoveTo reparents the element. Moving an element under one of its own
// descendants would corrupt the tree, so it panics; game rules control both
// ends of every move.
func (e *Element) MoveTo(parent *Element) {
	if parent == nil || e.parent == nil {
		panic("engine: MoveTo requires a non-root element and a target parent")
	}
	for a := parent; a != nil; a = a.parent {
		if a == e {
			panic("engine: MoveTo would create a cycle")
		}
	}
	e.detach()
	e.parent = parent
	parent.children = append(parent.children, e)
	e.g.record(Command{Op: "move", Element: e.id, Target: parent.id})
}

// Destroy removes the element and its subtree from the game.
func (e *Element) Destroy() {
	if e.parent == nil {
		panic("engine: cannot destroy the root element")
	}
	e.detach()
	e.g.forget(e)
	e.g.record(Command{Op: "destroy", Element: e.id})
}

func (e *Element) detach() {
	p := e.parent
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
}

// BranchPath returns the slash-joined name path from the root, e.g.
// "board/space-3".
func (e *Element) BranchPath() string {
	if e.parent == nil {
		return ""
	}
	var parts []string
	for n := e; n.parent != nil; n = n.parent {
		parts = append(parts, n.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}
