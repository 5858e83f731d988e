package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGameOver      = errors.New("game is over")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrUnknownAction = errors.New("unknown action")
	ErrIllegalAction = errors.New("action not allowed")
	ErrInvalidArgs   = errors.New("invalid action arguments")
)

// Config carries everything needed to construct a game deterministically.
// The same Config plus the same action sequence always yields the same state.
type Config struct {
	Seed          string
	PlayerCount   int
	PlayerNames   []string
	PlayerOptions []map[string]any
	Options       map[string]any
}

// Definition describes a playable game: how to set the tree up and which
// actions exist. Definitions are stateless and shared between game instances.
type Definition struct {
	// Setup builds the initial element tree and phase.
	Setup func(g *Game) error
	// Actions in declaration order. Order matters for deterministic
	// fallback move selection.
	Actions []*ActionDef
	// FirstSeat is the seat that opens the game (default 1).
	FirstSeat int
}

// Command is one entry of the engine's internal op log. Snapshots carry the
// log so that externally persisted blobs describe how a tree was built, not
// just its final shape.
type Command struct {
	Op      string `json:"op"`
	Element int    `json:"element,omitempty"`
	Target  int    `json:"target,omitempty"`
	Seat    int    `json:"seat,omitempty"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// AnimationEvent is a rule-emitted presentation hint. Events accumulate
// during one action and are cleared by the next PerformAction.
type AnimationEvent struct {
	ID   int            `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// Game is one live game instance. It is not internally synchronized; the
// session layer serializes all access.
type Game struct {
	cfg     Config
	def     *Definition
	rng     *Rand
	root    *Element
	arena   map[int]*Element
	nextID  int
	players []*Player
	current int
	phase   string
	over    bool
	winners []int

	events      []AnimationEvent
	lastEventID int
	commands    []Command
	actionCount int
}

// NewGame constructs and sets up a game from a definition and config.
func NewGame(def *Definition, cfg Config) (*Game, error) {
	if def == nil || def.Setup == nil {
		return nil, errors.New("engine: definition requires a Setup func")
	}
	if cfg.PlayerCount < 1 {
		return nil, fmt.Errorf("engine: invalid player count %d", cfg.PlayerCount)
	}
	g := &Game{
		cfg:     cfg,
		def:     def,
		rng:     NewRand(cfg.Seed),
		arena:   make(map[int]*Element),
		nextID:  1,
		current: 1,
	}
	if def.FirstSeat > 0 {
		g.current = def.FirstSeat
	}
	g.root = &Element{g: g, id: g.allocID(), name: "root", kind: "root"}
	g.arena[g.root.id] = g.root
	for seat := 1; seat <= cfg.PlayerCount; seat++ {
		p := &Player{seat: seat, name: fmt.Sprintf("Player %d", seat), options: map[string]any{}}
		if seat-1 < len(cfg.PlayerNames) && cfg.PlayerNames[seat-1] != "" {
			p.name = cfg.PlayerNames[seat-1]
		}
		if seat-1 < len(cfg.PlayerOptions) {
			for k, v := range cfg.PlayerOptions[seat-1] {
				p.options[k] = v
			}
		}
		g.players = append(g.players, p)
	}
	if err := def.Setup(g); err != nil {
		return nil, fmt.Errorf("engine: setup failed: %w", err)
	}
	return g, nil
}

// Config returns the construction config.
func (g *Game) Config() Config { return g.cfg }

// Definition returns the game's definition.
func (g *Game) Definition() *Definition { return g.def }

// Seed returns the construction seed.
func (g *Game) Seed() string { return g.cfg.Seed }

// Rand returns the game's deterministic generator. Rules must draw all
// randomness from here.
func (g *Game) Rand() *Rand { return g.rng }

// Root returns the root of the element tree.
func (g *Game) Root() *Element { return g.root }

// Option returns a game option with a fallback default.
func (g *Game) Option(key string, def any) any {
	if v, ok := g.cfg.Options[key]; ok {
		return v
	}
	return def
}

func (g *Game) allocID() int {
	id := g.nextID
	g.nextID++
	return id
}

func (g *Game) record(c Command) {
	g.commands = append(g.commands, c)
}

func (g *Game) forget(e *Element) {
	delete(g.arena, e.id)
	for _, c := range e.children {
		g.forget(c)
	}
}

// NewElement creates an element under the given parent.
func (g *Game) NewElement(parent *Element, name, kind string) *Element {
	if parent == nil {
		parent = g.root
	}
	e := &Element{g: g, id: g.allocID(), name: name, kind: kind, parent: parent}
	parent.children = append(parent.children, e)
	g.arena[e.id] = e
	g.record(Command{Op: "create", Element: e.id, Target: parent.id, Name: name, Kind: kind})
	return e
}

// ElementByID resolves an element by stable id.
func (g *Game) ElementByID(id int) (*Element, bool) {
	e, ok := g.arena[id]
	return e, ok
}

// ElementByPath resolves an element by branch path ("board/space-3").
func (g *Game) ElementByPath(path string) (*Element, bool) {
	if path == "" {
		return g.root, true
	}
	cur := g.root
	for _, part := range strings.Split(path, "/") {
		next, ok := cur.Child(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Player returns the player in the given seat.
func (g *Game) Player(seat int) (*Player, bool) {
	if seat < 1 || seat > len(g.players) {
		return nil, false
	}
	return g.players[seat-1], true
}

// Players returns all players in seat order.
func (g *Game) Players() []*Player {
	out := make([]*Player, len(g.players))
	copy(out, g.players)
	return out
}

// PlayerCount returns the number of seats.
func (g *Game) PlayerCount() int { return len(g.players) }

// CurrentSeat returns the seat whose turn it is.
func (g *Game) CurrentSeat() int { return g.current }

// SetCurrentSeat hands the turn to a specific seat.
func (g *Game) SetCurrentSeat(seat int) { g.current = seat }

// EndTurn advances the current seat to the next one, wrapping.
func (g *Game) EndTurn() {
	g.current = g.current%len(g.players) + 1
}

// Phase returns the rule-defined phase label.
func (g *Game) Phase() string { return g.phase }

// SetPhase updates the phase label.
func (g *Game) SetPhase(phase string) { g.phase = phase }

// IsComplete reports whether the game has finished.
func (g *Game) IsComplete() bool { return g.over }

// Winners returns the winning seats of a complete game.
func (g *Game) Winners() []int {
	out := make([]int, len(g.winners))
	copy(out, g.winners)
	return out
}

// Finish marks the game complete with the given winners.
func (g *Game) Finish(winners ...int) {
	g.over = true
	g.winners = winners
}

// ActionCount returns the number of successfully performed actions.
func (g *Game) ActionCount() int { return g.actionCount }

// Emit appends an animation event to the current action's batch.
func (g *Game) Emit(name string, data map[string]any) {
	g.lastEventID++
	g.events = append(g.events, AnimationEvent{ID: g.lastEventID, Name: name, Data: data})
}

// Events returns the animation events emitted by the most recent action.
func (g *Game) Events() []AnimationEvent {
	out := make([]AnimationEvent, len(g.events))
	copy(out, g.events)
	return out
}

// LastEventID returns the id of the most recently emitted event, across the
// whole game. Clients use it to dedup event batches over reconnects.
func (g *Game) LastEventID() int { return g.lastEventID }

// Commands returns a copy of the internal op log.
func (g *Game) Commands() []Command {
	out := make([]Command, len(g.commands))
	copy(out, g.commands)
	return out
}

// ActionDef looks up an action by name.
func (g *Game) ActionDef(name string) (*ActionDef, bool) {
	for _, a := range g.def.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// AvailableActions lists the actions the seat may currently perform, in
// definition order.
func (g *Game) AvailableActions(seat int) []string {
	if g.over {
		return nil
	}
	var out []string
	for _, a := range g.def.Actions {
		if !a.AnySeat && seat != g.current {
			continue
		}
		if a.Condition != nil && !a.Condition(g, seat) {
			continue
		}
		out = append(out, a.Name)
	}
	return out
}

// SelectionChoices enumerates the legal values for one selection of an
// action, given the arguments chosen so far.
func (g *Game) SelectionChoices(action, selection string, seat int, args map[string]any) (*Choices, error) {
	def, ok := g.ActionDef(action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	sel, ok := def.Selection(selection)
	if !ok {
		return nil, fmt.Errorf("%w: no selection %q on action %q", ErrInvalidArgs, selection, action)
	}
	if args == nil {
		args = map[string]any{}
	}
	c := &Choices{Selection: sel.Name, Kind: sel.Kind, Multi: sel.Multi, Min: sel.Min, Max: sel.Max}
	if sel.Choices != nil {
		c.Values = sel.Choices(g, seat, args)
	}
	if sel.ValidElements != nil {
		c.Elements = sel.ValidElements(g, seat, args)
	}
	return c, nil
}

// PerformAction validates and executes one action for a seat. Argument values
// are engine values (elements, players, primitives); wire decoding happens in
// the session layer. On any error the game state is unchanged.
func (g *Game) PerformAction(name string, seat int, args map[string]any) error {
	if g.over {
		return ErrGameOver
	}
	def, ok := g.ActionDef(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	if _, ok := g.Player(seat); !ok {
		return fmt.Errorf("%w: no seat %d", ErrInvalidArgs, seat)
	}
	if !def.AnySeat && seat != g.current {
		return ErrNotYourTurn
	}
	if def.Condition != nil && !def.Condition(g, seat) {
		return ErrIllegalAction
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := g.validateArgs(def, seat, args); err != nil {
		return err
	}

	// The previous action's event batch lives until the next action starts.
	g.events = nil

	if def.Execute != nil {
		if err := def.Execute(g, seat, args); err != nil {
			return fmt.Errorf("%w: %v", ErrIllegalAction, err)
		}
	}
	g.actionCount++
	if def.EndsTurn && !g.over {
		g.EndTurn()
	}
	return nil
}

// validateArgs checks each declared selection in order, rebuilding the choice
// set from the arguments accepted so far, exactly as a step-by-step client
// would have seen them.
func (g *Game) validateArgs(def *ActionDef, seat int, args map[string]any) error {
	seen := map[string]any{}
	for _, sel := range def.Selections {
		v, ok := args[sel.Name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalidArgs, sel.Name)
		}
		choices, err := g.SelectionChoices(def.Name, sel.Name, seat, seen)
		if err != nil {
			return err
		}
		if sel.Multi {
			vs, ok := v.([]any)
			if !ok {
				return fmt.Errorf("%w: %q expects a list", ErrInvalidArgs, sel.Name)
			}
			for _, item := range vs {
				if !choices.Contains(item) {
					return fmt.Errorf("%w: %v not a valid %q", ErrInvalidArgs, item, sel.Name)
				}
			}
		} else if !choices.Contains(v) {
			return fmt.Errorf("%w: %v not a valid %q", ErrInvalidArgs, v, sel.Name)
		}
		seen[sel.Name] = v
	}
	for k := range args {
		if _, ok := def.Selection(k); !ok {
			return fmt.Errorf("%w: unexpected argument %q", ErrInvalidArgs, k)
		}
	}
	return nil
}
