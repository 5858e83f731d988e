package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/engine"
)

func stubDef(name string) *Definition {
	return &Definition{
		GameType:   name,
		MinPlayers: 2,
		MaxPlayers: 4,
		Game: &engine.Definition{
			Setup:   func(g *engine.Game) error { return nil },
			Actions: []*engine.ActionDef{{Name: "noop"}},
		},
		GameOptions: map[string]OptionDef{
			"trackLength": {Kind: OptionNumber, Default: 8, Min: 6, Max: 12},
			"variant":     {Kind: OptionSelect, Default: "classic", Choices: []any{"classic", "blitz"}},
			"openHands":   {Kind: OptionBoolean, Default: false},
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubDef("alpha")))
	require.NoError(t, r.Register(stubDef("beta")))

	d, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", d.GameType)

	_, ok = r.Get("gamma")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].GameType)
	assert.Equal(t, "beta", list[1].GameType)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(stubDef("alpha")))
	assert.Error(t, r.Register(stubDef("alpha")))
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Definition{GameType: "x"}))

	bad := stubDef("bounds")
	bad.MinPlayers = 3
	bad.MaxPlayers = 2
	assert.Error(t, r.Register(bad))
}

func TestOptionValidation(t *testing.T) {
	d := stubDef("opts")

	assert.NoError(t, d.ValidateGameOptions(map[string]any{"trackLength": 8}))
	assert.NoError(t, d.ValidateGameOptions(map[string]any{"trackLength": float64(10)}))
	assert.Error(t, d.ValidateGameOptions(map[string]any{"trackLength": 5}), "below min")
	assert.Error(t, d.ValidateGameOptions(map[string]any{"trackLength": "long"}))
	assert.NoError(t, d.ValidateGameOptions(map[string]any{"variant": "blitz"}))
	assert.Error(t, d.ValidateGameOptions(map[string]any{"variant": "marathon"}))
	assert.NoError(t, d.ValidateGameOptions(map[string]any{"openHands": true}))
	assert.Error(t, d.ValidateGameOptions(map[string]any{"openHands": 1}))
	assert.Error(t, d.ValidateGameOptions(map[string]any{"unknown": 1}))
}

func TestDefaultGameOptions(t *testing.T) {
	d := stubDef("defaults")
	defaults := d.DefaultGameOptions()
	assert.Equal(t, 8, defaults["trackLength"])
	assert.Equal(t, "classic", defaults["variant"])
	assert.Equal(t, false, defaults["openHands"])
}
