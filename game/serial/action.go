package serial

import (
	"fmt"
	"time"

	"github.com/meeplelab/parlor/game/engine"
)

// Action is the persisted, wire-ready form of one performed action. The
// append-only sequence of these is the source of truth for a game's state.
type Action struct {
	Name      string         `json:"name"`
	Player    int            `json:"player"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// SerializeAction converts a performed action's engine-level arguments into
// an Action.
func SerializeAction(name string, player int, args map[string]any, opts Options) (Action, error) {
	out := Action{
		Name:      name,
		Player:    player,
		Timestamp: time.Now().UnixMilli(),
	}
	if len(args) > 0 {
		s, err := SerializeValue(args, opts)
		if err != nil {
			return Action{}, fmt.Errorf("serialize action %q: %w", name, err)
		}
		out.Args = s.(map[string]any)
	}
	return out, nil
}

// DeserializeAction resolves an Action's arguments against a live game.
func DeserializeAction(a Action, g *engine.Game) (string, int, map[string]any, error) {
	if a.Args == nil {
		return a.Name, a.Player, map[string]any{}, nil
	}
	v, err := DeserializeValue(map[string]any(a.Args), g)
	if err != nil {
		return "", 0, nil, fmt.Errorf("deserialize action %q: %w", a.Name, err)
	}
	return a.Name, a.Player, v.(map[string]any), nil
}
