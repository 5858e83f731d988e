// Package registry maps game-type identifiers to their definitions: the
// engine definition used to construct instances plus hosting metadata such as
// seat count bounds and the option schemas the lobby validates against.
package registry

import (
	"fmt"
	"sync"

	"github.com/meeplelab/parlor/game/engine"
)

// OptionKind enumerates the supported option value kinds.
type OptionKind string

const (
	OptionNumber  OptionKind = "number"
	OptionSelect  OptionKind = "select"
	OptionBoolean OptionKind = "boolean"
)

// OptionDef describes one configurable option.
type OptionDef struct {
	Kind    OptionKind `json:"kind"`
	Label   string     `json:"label,omitempty"`
	Default any        `json:"default,omitempty"`
	Min     int        `json:"min,omitempty"`
	Max     int        `json:"max,omitempty"`
	Choices []any      `json:"choices,omitempty"`
}

// Validate checks a proposed value against the option's schema.
func (o *OptionDef) Validate(v any) error {
	switch o.Kind {
	case OptionNumber:
		f, ok := toNumber(v)
		if !ok {
			return fmt.Errorf("expected a number, got %T", v)
		}
		n := int(f)
		if float64(n) != f {
			return fmt.Errorf("expected an integer, got %v", v)
		}
		if n < o.Min || n > o.Max {
			return fmt.Errorf("%d outside [%d, %d]", n, o.Min, o.Max)
		}
	case OptionBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected a boolean, got %T", v)
		}
	case OptionSelect:
		for _, c := range o.Choices {
			if c == v {
				return nil
			}
		}
		return fmt.Errorf("%v is not one of the allowed choices", v)
	default:
		return fmt.Errorf("unknown option kind %q", o.Kind)
	}
	return nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Definition registers one hostable game type.
type Definition struct {
	GameType      string
	MinPlayers    int
	MaxPlayers    int
	Game          *engine.Definition
	GameOptions   map[string]OptionDef
	PlayerOptions map[string]OptionDef
}

// Info is the transport-safe summary of a definition.
type Info struct {
	GameType      string               `json:"gameType"`
	MinPlayers    int                  `json:"minPlayers"`
	MaxPlayers    int                  `json:"maxPlayers"`
	GameOptions   map[string]OptionDef `json:"gameOptions,omitempty"`
	PlayerOptions map[string]OptionDef `json:"playerOptions,omitempty"`
}

// Info returns the definition's summary.
func (d *Definition) Info() Info {
	return Info{
		GameType:      d.GameType,
		MinPlayers:    d.MinPlayers,
		MaxPlayers:    d.MaxPlayers,
		GameOptions:   d.GameOptions,
		PlayerOptions: d.PlayerOptions,
	}
}

// DefaultGameOptions returns the option defaults for a new game.
func (d *Definition) DefaultGameOptions() map[string]any {
	out := map[string]any{}
	for name, opt := range d.GameOptions {
		if opt.Default != nil {
			out[name] = opt.Default
		}
	}
	return out
}

// ValidateGameOptions checks a full option map against the schema.
func (d *Definition) ValidateGameOptions(opts map[string]any) error {
	for name, v := range opts {
		def, ok := d.GameOptions[name]
		if !ok {
			return fmt.Errorf("unknown game option %q", name)
		}
		if err := def.Validate(v); err != nil {
			return fmt.Errorf("game option %q: %w", name, err)
		}
	}
	return nil
}

// Registry is a concurrency-safe game-type catalog.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Game types are unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.GameType == "" {
		return fmt.Errorf("registry: definition requires a game type")
	}
	if def.Game == nil {
		return fmt.Errorf("registry: %q has no engine definition", def.GameType)
	}
	if def.MinPlayers < 1 || def.MaxPlayers < def.MinPlayers {
		return fmt.Errorf("registry: %q has invalid player bounds [%d, %d]", def.GameType, def.MinPlayers, def.MaxPlayers)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.GameType]; exists {
		return fmt.Errorf("registry: game type %q already registered", def.GameType)
	}
	r.defs[def.GameType] = def
	r.order = append(r.order, def.GameType)
	return nil
}

// Get returns the definition for a game type.
func (r *Registry) Get(gameType string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[gameType]
	return d, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}
