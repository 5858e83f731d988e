// Package snapshot captures game state for persistence, fast replay, and
// per-seat filtered views. The snapshotter applies the visibility policy the
// rules set on elements; it never interprets the rules themselves.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/serial"
)

// Version identifies the snapshot blob layout.
const Version = 1

// Snapshot is a versioned, self-contained capture of a game: the element
// tree, the engine's command log, the action history, and metadata.
type Snapshot struct {
	Version  int             `json:"version"`
	GameType string          `json:"gameType"`
	Seed     string          `json:"seed"`
	TakenAt  time.Time       `json:"takenAt"`
	State    *engine.State   `json:"state"`
	Actions  []serial.Action `json:"actions"`
}

// Capture records a full snapshot of the game and its action history.
func Capture(g *engine.Game, gameType string, actions []serial.Action) *Snapshot {
	history := make([]serial.Action, len(actions))
	copy(history, actions)
	return &Snapshot{
		Version:  Version,
		GameType: gameType,
		Seed:     g.Seed(),
		TakenAt:  time.Now(),
		State:    g.CaptureState(),
		Actions:  history,
	}
}

// Encode marshals the snapshot to its storage form.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode unmarshals a stored snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", s.Version)
	}
	return &s, nil
}

// ViewNode is one node of a per-seat filtered view of the element tree.
// Nodes outside the seat's visibility scope keep their identity but lose
// everything else.
type ViewNode struct {
	ID       int            `json:"id"`
	Name     string         `json:"name,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Owner    int            `json:"owner,omitempty"`
	Hidden   bool           `json:"__hidden,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Children []*ViewNode    `json:"children,omitempty"`
}

// PlayerView walks the element tree and produces the filtered view for one
// seat. Seat 0 is the spectator view: only fully public contents survive.
func PlayerView(g *engine.Game, seat int) *ViewNode {
	return viewElement(g.Root(), seat)
}

// AllPlayerViews produces the view for every seat, 1-indexed; index 0 holds
// the spectator view.
func AllPlayerViews(g *engine.Game) []*ViewNode {
	views := make([]*ViewNode, g.PlayerCount()+1)
	views[0] = PlayerView(g, 0)
	for seat := 1; seat <= g.PlayerCount(); seat++ {
		views[seat] = PlayerView(g, seat)
	}
	return views
}

func viewElement(e *engine.Element, seat int) *ViewNode {
	if !e.VisibleTo(seat) {
		// Identity survives redaction so clients can still count and
		// position hidden contents (e.g. opponent hand size).
		return &ViewNode{ID: e.ID(), Kind: e.Kind(), Hidden: true}
	}
	n := &ViewNode{
		ID:    e.ID(),
		Name:  e.Name(),
		Kind:  e.Kind(),
		Owner: e.Owner(),
	}
	if attrs := e.Attrs(); len(attrs) > 0 {
		n.Attrs = attrs
	}
	for _, c := range e.Children() {
		n.Children = append(n.Children, viewElement(c, seat))
	}
	return n
}

// DiffViews structurally compares two views, returning the ids of added,
// removed, and changed nodes. Used by the state-diff read path.
func DiffViews(from, to *ViewNode) map[string]any {
	a := map[int]*ViewNode{}
	b := map[int]*ViewNode{}
	index(from, a)
	index(to, b)

	var added, removed, changed []int
	for id, n := range b {
		old, ok := a[id]
		if !ok {
			added = append(added, id)
			continue
		}
		if !nodeEqual(old, n) {
			changed = append(changed, id)
		}
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			removed = append(removed, id)
		}
	}
	return map[string]any{"added": added, "removed": removed, "changed": changed}
}

func index(n *ViewNode, into map[int]*ViewNode) {
	if n == nil {
		return
	}
	into[n.ID] = n
	for _, c := range n.Children {
		index(c, into)
	}
}

func nodeEqual(a, b *ViewNode) bool {
	aj, _ := json.Marshal(viewShallow(a))
	bj, _ := json.Marshal(viewShallow(b))
	return string(aj) == string(bj)
}

// viewShallow strips children so parents do not register as changed when
// only a descendant changed.
func viewShallow(n *ViewNode) *ViewNode {
	out := *n
	out.Children = nil
	for _, c := range n.Children {
		out.Children = append(out.Children, &ViewNode{ID: c.ID})
	}
	return &out
}
