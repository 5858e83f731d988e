package engine

import (
	"errors"
	"fmt"
)

// ElementState is the serializable form of one element subtree.
type ElementState struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Owner    int             `json:"owner,omitempty"`
	Contents Visibility      `json:"contents,omitempty"`
	Attrs    map[string]any  `json:"attrs,omitempty"`
	Children []*ElementState `json:"children,omitempty"`
}

// PlayerState is the serializable form of one player.
type PlayerState struct {
	Seat    int            `json:"seat"`
	Name    string         `json:"name"`
	Options map[string]any `json:"options,omitempty"`
}

// State is a full, self-contained capture of a game. Restoring it into a game
// built from the same Definition reproduces the original exactly, including
// the generator state, so play continues identically.
type State struct {
	Phase       string         `json:"phase"`
	Current     int            `json:"current"`
	Complete    bool           `json:"complete"`
	Winners     []int          `json:"winners,omitempty"`
	RNG         uint64         `json:"rng"`
	NextID      int            `json:"nextId"`
	LastEventID int            `json:"lastEventId"`
	ActionCount int            `json:"actionCount"`
	Players     []*PlayerState `json:"players"`
	Root        *ElementState  `json:"root"`
	Commands    []Command      `json:"commands,omitempty"`
}

// CaptureState deep-copies the game into a State.
func (g *Game) CaptureState() *State {
	s := &State{
		Phase:       g.phase,
		Current:     g.current,
		Complete:    g.over,
		Winners:     g.Winners(),
		RNG:         g.rng.State(),
		NextID:      g.nextID,
		LastEventID: g.lastEventID,
		ActionCount: g.actionCount,
		Commands:    g.Commands(),
		Root:        captureElement(g.root),
	}
	for _, p := range g.players {
		s.Players = append(s.Players, &PlayerState{Seat: p.seat, Name: p.name, Options: p.Options()})
	}
	return s
}

func captureElement(e *Element) *ElementState {
	es := &ElementState{
		ID:       e.id,
		Name:     e.name,
		Kind:     e.kind,
		Owner:    e.owner,
		Contents: e.contents,
		Attrs:    e.Attrs(),
	}
	for _, c := range e.children {
		es.Children = append(es.Children, captureElement(c))
	}
	return es
}

// RestoreState replaces the game's entire state with a previous capture.
func (g *Game) RestoreState(s *State) error {
	if s == nil || s.Root == nil {
		return errors.New("engine: empty state")
	}
	if len(s.Players) != len(g.players) {
		return fmt.Errorf("engine: state has %d players, game has %d", len(s.Players), len(g.players))
	}
	arena := make(map[int]*Element)
	root, err := restoreElement(g, nil, s.Root, arena)
	if err != nil {
		return err
	}
	g.root = root
	g.arena = arena
	g.phase = s.Phase
	g.current = s.Current
	g.over = s.Complete
	g.winners = append([]int(nil), s.Winners...)
	g.rng.SetState(s.RNG)
	g.nextID = s.NextID
	g.lastEventID = s.LastEventID
	g.actionCount = s.ActionCount
	g.commands = append([]Command(nil), s.Commands...)
	g.events = nil
	for i, ps := range s.Players {
		g.players[i].name = ps.Name
		g.players[i].options = map[string]any{}
		for k, v := range ps.Options {
			g.players[i].options[k] = v
		}
	}
	return nil
}

func restoreElement(g *Game, parent *Element, es *ElementState, arena map[int]*Element) (*Element, error) {
	if _, dup := arena[es.ID]; dup {
		return nil, fmt.Errorf("engine: duplicate element id %d in state", es.ID)
	}
	e := &Element{
		g:        g,
		id:       es.ID,
		name:     es.Name,
		kind:     es.Kind,
		owner:    es.Owner,
		contents: es.Contents,
		parent:   parent,
	}
	if len(es.Attrs) > 0 {
		e.attrs = make(map[string]any, len(es.Attrs))
		for k, v := range es.Attrs {
			e.attrs[k] = v
		}
	}
	arena[es.ID] = e
	for _, cs := range es.Children {
		c, err := restoreElement(g, e, cs, arena)
		if err != nil {
			return nil, err
		}
		e.children = append(e.children, c)
	}
	return e, nil
}

// Clone produces an independent copy of the game, used for AI thinking and
// read-only time travel. The clone shares the immutable Definition only.
func (g *Game) Clone() (*Game, error) {
	ng := &Game{
		cfg:     g.cfg,
		def:     g.def,
		rng:     NewRand(g.cfg.Seed),
		arena:   make(map[int]*Element),
		players: make([]*Player, 0, len(g.players)),
	}
	for _, p := range g.players {
		ng.players = append(ng.players, &Player{seat: p.seat, name: p.name, options: p.Options()})
	}
	if err := ng.RestoreState(g.CaptureState()); err != nil {
		return nil, err
	}
	return ng, nil
}
