package engine

// Player is a seated participant. Seats are 1-indexed and stable for the
// lifetime of the game.
type Player struct {
	seat    int
	name    string
	options map[string]any
}

// Seat returns the player's 1-indexed seat.
func (p *Player) Seat() int { return p.seat }

// Name returns the player's display name.
func (p *Player) Name() string { return p.name }

// SetName updates the player's display name.
func (p *Player) SetName(name string) { p.name = name }

// Option returns a per-player option (e.g. color).
func (p *Player) Option(key string) (any, bool) {
	v, ok := p.options[key]
	return v, ok
}

// Options returns a copy of the player's option map.
func (p *Player) Options() map[string]any {
	out := make(map[string]any, len(p.options))
	for k, v := range p.options {
		out[k] = v
	}
	return out
}
