// Package outpost ships a small built-in game used as the default hostable
// game type and by the server's integration tests. Each player races to
// deploy their scouts onto a shared track; a hidden satchel of provision
// tokens exercises per-seat visibility, and the two-step deploy action
// exercises dependent selection flows.
package outpost

import (
	"fmt"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/registry"
)

// GameType is the registry key.
const GameType = "outpost"

const (
	scoutsPerPlayer = 4
	tokensPerPlayer = 3
)

// Colors players may claim in the lobby. No two seats may share one.
var Colors = []any{"red", "blue", "green", "yellow"}

// Definition returns the registry entry for outpost.
func Definition() *registry.Definition {
	return &registry.Definition{
		GameType:   GameType,
		MinPlayers: 2,
		MaxPlayers: 4,
		Game:       engineDefinition(),
		GameOptions: map[string]registry.OptionDef{
			"trackLength": {
				Kind:    registry.OptionNumber,
				Label:   "Track length",
				Default: 8,
				Min:     6,
				Max:     12,
			},
			"openSatchels": {
				Kind:    registry.OptionBoolean,
				Label:   "Play with open satchels",
				Default: false,
			},
		},
		PlayerOptions: map[string]registry.OptionDef{
			"color": {
				Kind:    registry.OptionSelect,
				Label:   "Color",
				Choices: Colors,
			},
		},
	}
}

func engineDefinition() *engine.Definition {
	return &engine.Definition{
		Setup: setup,
		Actions: []*engine.ActionDef{
			deployAction(),
			recallAction(),
			provisionAction(),
			{Name: "pass", EndsTurn: true},
		},
	}
}

func setup(g *engine.Game) error {
	length, ok := asInt(g.Option("trackLength", 8))
	if !ok || length < 6 || length > 12 {
		return fmt.Errorf("outpost: invalid trackLength %v", g.Option("trackLength", 8))
	}
	open, _ := g.Option("openSatchels", false).(bool)

	track := g.NewElement(nil, "track", "track")
	for i := 1; i <= length; i++ {
		g.NewElement(track, fmt.Sprintf("space-%d", i), "space")
	}

	for _, p := range g.Players() {
		seat := p.Seat()
		camp := g.NewElement(nil, fmt.Sprintf("camp-%d", seat), "camp")
		camp.SetOwner(seat)
		for i := 1; i <= scoutsPerPlayer; i++ {
			scout := g.NewElement(camp, fmt.Sprintf("scout-%d", i), "scout")
			scout.SetOwner(seat)
		}

		satchel := g.NewElement(nil, fmt.Sprintf("satchel-%d", seat), "satchel")
		satchel.SetOwner(seat)
		if !open {
			satchel.ShowContentsToOwner()
		}
		for i := 1; i <= tokensPerPlayer; i++ {
			token := g.NewElement(satchel, fmt.Sprintf("token-%d", i), "token")
			token.SetOwner(seat)
			token.SetAttr("value", 1+g.Rand().Intn(5))
		}
	}
	g.SetPhase("deploy")
	return nil
}

func camp(g *engine.Game, seat int) *engine.Element {
	el, _ := g.ElementByPath(fmt.Sprintf("camp-%d", seat))
	return el
}

func satchel(g *engine.Game, seat int) *engine.Element {
	el, _ := g.ElementByPath(fmt.Sprintf("satchel-%d", seat))
	return el
}

func emptySpaces(g *engine.Game) []*engine.Element {
	track, _ := g.ElementByPath("track")
	var out []*engine.Element
	for _, sp := range track.Children() {
		if len(sp.Children()) == 0 {
			out = append(out, sp)
		}
	}
	return out
}

func deployedScouts(g *engine.Game, seat int) []*engine.Element {
	track, _ := g.ElementByPath("track")
	var out []*engine.Element
	for _, sp := range track.Children() {
		for _, c := range sp.Children() {
			if c.Kind() == "scout" && c.Owner() == seat {
				out = append(out, c)
			}
		}
	}
	return out
}

func deployAction() *engine.ActionDef {
	return &engine.ActionDef{
		Name:     "deploy",
		EndsTurn: true,
		Condition: func(g *engine.Game, seat int) bool {
			return len(camp(g, seat).Children()) > 0 && len(emptySpaces(g)) > 0
		},
		Selections: []*engine.SelectionDef{
			{
				Name: "scout",
				Kind: engine.SelectionElement,
				ValidElements: func(g *engine.Game, seat int, args map[string]any) []*engine.Element {
					return camp(g, seat).Children()
				},
			},
			{
				Name: "space",
				Kind: engine.SelectionElement,
				ValidElements: func(g *engine.Game, seat int, args map[string]any) []*engine.Element {
					return emptySpaces(g)
				},
			},
		},
		Execute: func(g *engine.Game, seat int, args map[string]any) error {
			scout := args["scout"].(*engine.Element)
			space := args["space"].(*engine.Element)
			scout.MoveTo(space)
			g.Emit("deployed", map[string]any{
				"seat":  seat,
				"scout": scout.ID(),
				"space": space.Name(),
			})
			if len(camp(g, seat).Children()) == 0 {
				g.Emit("victory", map[string]any{"seat": seat})
				g.Finish(seat)
			}
			return nil
		},
	}
}

func recallAction() *engine.ActionDef {
	return &engine.ActionDef{
		Name:     "recall",
		EndsTurn: true,
		Condition: func(g *engine.Game, seat int) bool {
			return len(deployedScouts(g, seat)) > 0
		},
		Selections: []*engine.SelectionDef{
			{
				Name: "scout",
				Kind: engine.SelectionElement,
				ValidElements: func(g *engine.Game, seat int, args map[string]any) []*engine.Element {
					return deployedScouts(g, seat)
				},
			},
		},
		Execute: func(g *engine.Game, seat int, args map[string]any) error {
			scout := args["scout"].(*engine.Element)
			from := scout.Parent().Name()
			scout.MoveTo(camp(g, seat))
			g.Emit("recalled", map[string]any{"seat": seat, "scout": scout.ID(), "from": from})
			return nil
		},
	}
}

func provisionAction() *engine.ActionDef {
	return &engine.ActionDef{
		Name:     "provision",
		EndsTurn: true,
		Condition: func(g *engine.Game, seat int) bool {
			return len(satchel(g, seat).Children()) > 0
		},
		Selections: []*engine.SelectionDef{
			{
				Name: "token",
				Kind: engine.SelectionElement,
				ValidElements: func(g *engine.Game, seat int, args map[string]any) []*engine.Element {
					return satchel(g, seat).Children()
				},
			},
		},
		Execute: func(g *engine.Game, seat int, args map[string]any) error {
			token := args["token"].(*engine.Element)
			value, _ := token.Attr("value")
			c := camp(g, seat)
			supplies := 0
			if v, ok := c.Attr("supplies"); ok {
				supplies, _ = asInt(v)
			}
			gained, _ := asInt(value)
			c.SetAttr("supplies", supplies+gained)
			token.Destroy()
			g.Emit("provisioned", map[string]any{"seat": seat, "value": value})
			return nil
		},
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
