package session

import (
	"github.com/meeplelab/parlor/game/engine"
)

// pendingAction is one seat's in-progress multi-step action. Arguments
// accumulate as engine values; the next choice set is recomputed after every
// accepted step because later selections may depend on earlier picks.
type pendingAction struct {
	actionName string
	seat       int
	args       map[string]any
	next       *engine.Choices
}

// pendingManager tracks at most one pending action per seat. Not internally
// synchronized; the owning session serializes access.
type pendingManager struct {
	bySeat map[int]*pendingAction
}

func newPendingManager() *pendingManager {
	return &pendingManager{bySeat: make(map[int]*pendingAction)}
}

// Get returns the seat's pending action, if any.
func (m *pendingManager) Get(seat int) (*pendingAction, bool) {
	p, ok := m.bySeat[seat]
	return p, ok
}

// Cancel drops the seat's pending action. Reports whether one existed.
func (m *pendingManager) Cancel(seat int) bool {
	if _, ok := m.bySeat[seat]; !ok {
		return false
	}
	delete(m.bySeat, seat)
	return true
}

// CancelAll drops every pending action. Called when committed state changes
// underneath them (undo, rewind, restart): stale choice sets must not leak
// into validation.
func (m *pendingManager) CancelAll() {
	m.bySeat = make(map[int]*pendingAction)
}

// Start opens a pending action for a seat, seeded with any initial
// arguments, and computes the first outstanding choice set. Starting
// replaces a previous pending action for the same seat.
func (m *pendingManager) Start(g *engine.Game, actionName string, seat int, initial map[string]any) (*pendingAction, error) {
	def, ok := g.ActionDef(actionName)
	if !ok {
		return nil, NewError(CodeNotFound, "unknown action %q", actionName)
	}
	legal := false
	for _, name := range g.AvailableActions(seat) {
		if name == actionName {
			legal = true
			break
		}
	}
	if !legal {
		return nil, NewError(CodeIllegalAction, "action %q is not available to seat %d", actionName, seat)
	}
	p := &pendingAction{actionName: actionName, seat: seat, args: map[string]any{}}
	for k, v := range initial {
		if _, ok := def.Selection(k); !ok {
			return nil, NewError(CodeInvalidArgs, "unexpected argument %q", k)
		}
		p.args[k] = v
	}
	if err := m.advance(g, def, p); err != nil {
		return nil, err
	}
	m.bySeat[seat] = p
	return p, nil
}

// Step accepts one selection value for the seat's pending action. When the
// value completes the last selection, the pending action is removed and its
// name and full arguments are returned for the session to commit; otherwise
// the updated pending action carries the next choice set.
func (m *pendingManager) Step(g *engine.Game, seat int, selection string, value any) (done bool, actionName string, args map[string]any, err error) {
	p, ok := m.bySeat[seat]
	if !ok {
		return false, "", nil, ErrNoPending
	}
	if p.next == nil {
		return false, "", nil, NewError(CodeInternal, "pending action has no outstanding selection")
	}
	if selection != p.next.Selection {
		return false, "", nil, NewError(CodeInvalidStep, "expected selection %q, got %q", p.next.Selection, selection)
	}
	if err := checkChoice(p.next, value); err != nil {
		return false, "", nil, err
	}
	p.args[selection] = value

	def, _ := g.ActionDef(p.actionName)
	if err := m.advance(g, def, p); err != nil {
		delete(p.args, selection)
		return false, "", nil, err
	}
	if p.next != nil {
		return false, "", nil, nil
	}
	delete(m.bySeat, seat)
	return true, p.actionName, p.args, nil
}

// advance computes the choice set for the first selection not yet answered.
// A nil next means every selection is filled and the action is committable.
// A selection whose choice set comes back empty is a dead end: the step that
// led here is rejected rather than leaving the player stuck.
func (m *pendingManager) advance(g *engine.Game, def *engine.ActionDef, p *pendingAction) error {
	p.next = nil
	for _, sel := range def.Selections {
		if _, answered := p.args[sel.Name]; answered {
			continue
		}
		choices, err := g.SelectionChoices(def.Name, sel.Name, p.seat, p.args)
		if err != nil {
			return fromEngine(err)
		}
		if emptyChoices(choices) {
			return NewError(CodeIllegalAction, "no legal values for selection %q", sel.Name)
		}
		p.next = choices
		return nil
	}
	return nil
}

func emptyChoices(c *engine.Choices) bool {
	switch c.Kind {
	case engine.SelectionElement:
		return len(c.Elements) == 0
	case engine.SelectionChoice:
		return len(c.Values) == 0
	default:
		return false
	}
}

func checkChoice(c *engine.Choices, value any) error {
	if c.Multi {
		items, ok := value.([]any)
		if !ok {
			return NewError(CodeInvalidArgs, "selection %q expects a list", c.Selection)
		}
		for _, item := range items {
			if !c.Contains(item) {
				return NewError(CodeInvalidArgs, "%v is not a legal %q", item, c.Selection)
			}
		}
		return nil
	}
	if !c.Contains(value) {
		return NewError(CodeInvalidArgs, "%v is not a legal %q", value, c.Selection)
	}
	return nil
}
