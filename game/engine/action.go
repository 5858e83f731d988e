package engine

import "math"

// SelectionKind enumerates what a selection step asks the player for.
type SelectionKind string

const (
	SelectionChoice  SelectionKind = "choice"  // pick from an enumerated value list
	SelectionElement SelectionKind = "element" // pick a game element
	SelectionNumber  SelectionKind = "number"  // pick a number in [Min, Max]
	SelectionText    SelectionKind = "text"    // free text
)

// SelectionDef describes one argument of an action. Choice sets may depend on
// the arguments selected so far, which is what makes multi-step composition
// necessary: the client cannot enumerate later steps up front.
type SelectionDef struct {
	Name  string
	Kind  SelectionKind
	Multi bool
	// Min and Max bound SelectionNumber values.
	Min, Max int
	// Choices enumerates the legal values for SelectionChoice.
	Choices func(g *Game, seat int, args map[string]any) []any
	// ValidElements enumerates the legal targets for SelectionElement.
	ValidElements func(g *Game, seat int, args map[string]any) []*Element
}

// ActionDef is one entry of a game's action table.
type ActionDef struct {
	Name string
	// AnySeat allows the action out of turn (e.g. responses).
	AnySeat bool
	// EndsTurn advances the current seat after a successful execution.
	EndsTurn bool
	// Condition gates availability. A nil condition always passes.
	Condition func(g *Game, seat int) bool
	// Selections declare the action's arguments in order.
	Selections []*SelectionDef
	// Execute applies the action. It must validate-then-mutate: returning an
	// error after partially mutating the tree breaks replay equality.
	Execute func(g *Game, seat int, args map[string]any) error
}

// Repeating reports whether the action is composed step by step: more than
// one selection, where later choice sets may depend on earlier picks.
func (a *ActionDef) Repeating() bool {
	return len(a.Selections) > 1
}

// Selection returns the selection with the given name.
func (a *ActionDef) Selection(name string) (*SelectionDef, bool) {
	for _, s := range a.Selections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Choices is the enumerated legal value set for one selection at one moment.
type Choices struct {
	Selection string
	Kind      SelectionKind
	Multi     bool
	Min, Max  int
	Values    []any
	Elements  []*Element
}

// Contains reports whether v is a member of the choice set.
func (c *Choices) Contains(v any) bool {
	switch c.Kind {
	case SelectionElement:
		el, ok := v.(*Element)
		if !ok {
			return false
		}
		for _, cand := range c.Elements {
			if cand == el {
				return true
			}
		}
		return false
	case SelectionNumber:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return false
		}
		n := int(f)
		return n >= c.Min && n <= c.Max
	case SelectionText:
		_, ok := v.(string)
		return ok
	default:
		for _, cand := range c.Values {
			if valueEqual(cand, v) {
				return true
			}
		}
		return false
	}
}

// valueEqual compares two argument values, treating all numeric types as
// interchangeable. Wire decoding turns every number into float64, so a strict
// == against an int choice would always miss.
func valueEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ea, ok := a.(*Element); ok {
		eb, ok := b.(*Element)
		return ok && ea == eb
	}
	if pa, ok := a.(*Player); ok {
		pb, ok := b.(*Player)
		return ok && pa == pb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
