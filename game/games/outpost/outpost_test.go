package outpost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/engine"
)

func newGame(t *testing.T, opts map[string]any) *engine.Game {
	t.Helper()
	g, err := engine.NewGame(engineDefinition(), engine.Config{
		Seed:        "outpost-test",
		PlayerCount: 2,
		PlayerNames: []string{"A", "B"},
		Options:     opts,
	})
	require.NoError(t, err)
	return g
}

func TestSetup(t *testing.T) {
	g := newGame(t, nil)
	track, ok := g.ElementByPath("track")
	require.True(t, ok)
	assert.Len(t, track.Children(), 8)

	assert.Len(t, camp(g, 1).Children(), scoutsPerPlayer)
	assert.Len(t, satchel(g, 2).Children(), tokensPerPlayer)
	assert.Equal(t, "deploy", g.Phase())
}

func TestTrackLengthOption(t *testing.T) {
	g := newGame(t, map[string]any{"trackLength": 12})
	track, _ := g.ElementByPath("track")
	assert.Len(t, track.Children(), 12)

	_, err := engine.NewGame(engineDefinition(), engine.Config{
		Seed:        "x",
		PlayerCount: 2,
		Options:     map[string]any{"trackLength": 3},
	})
	assert.Error(t, err)
}

func TestSatchelHiddenByDefault(t *testing.T) {
	g := newGame(t, nil)
	token := satchel(g, 1).Children()[0]
	assert.True(t, token.VisibleTo(1))
	assert.False(t, token.VisibleTo(2))

	open := newGame(t, map[string]any{"openSatchels": true})
	token = satchel(open, 1).Children()[0]
	assert.True(t, token.VisibleTo(2))
}

func TestDeployAndVictory(t *testing.T) {
	g := newGame(t, nil)

	for turn := 0; turn < scoutsPerPlayer; turn++ {
		scout := camp(g, 1).Children()[0]
		space := emptySpaces(g)[0]
		require.NoError(t, g.PerformAction("deploy", 1, map[string]any{"scout": scout, "space": space}))
		if g.IsComplete() {
			break
		}
		require.NoError(t, g.PerformAction("pass", 2, nil))
	}

	assert.True(t, g.IsComplete())
	assert.Equal(t, []int{1}, g.Winners())
	events := g.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "deployed", events[0].Name)
	assert.Equal(t, "victory", events[1].Name)
}

func TestRecall(t *testing.T) {
	g := newGame(t, nil)
	assert.NotContains(t, g.AvailableActions(1), "recall", "nothing deployed yet")

	scout := camp(g, 1).Children()[0]
	space := emptySpaces(g)[0]
	require.NoError(t, g.PerformAction("deploy", 1, map[string]any{"scout": scout, "space": space}))
	require.NoError(t, g.PerformAction("pass", 2, nil))

	require.Contains(t, g.AvailableActions(1), "recall")
	require.NoError(t, g.PerformAction("recall", 1, map[string]any{"scout": scout}))
	assert.Equal(t, camp(g, 1), scout.Parent())
}

func TestProvision(t *testing.T) {
	g := newGame(t, nil)
	token := satchel(g, 1).Children()[0]
	value, _ := token.Attr("value")

	require.NoError(t, g.PerformAction("provision", 1, map[string]any{"token": token}))
	assert.Len(t, satchel(g, 1).Children(), tokensPerPlayer-1)
	supplies, _ := camp(g, 1).Attr("supplies")
	assert.Equal(t, value, supplies)
}

func TestDefinitionMetadata(t *testing.T) {
	def := Definition()
	assert.Equal(t, GameType, def.GameType)
	assert.Equal(t, 2, def.MinPlayers)
	assert.Equal(t, 4, def.MaxPlayers)
	assert.Contains(t, def.PlayerOptions, "color")
	require.NoError(t, def.ValidateGameOptions(map[string]any{"trackLength": 10}))
	assert.Error(t, def.ValidateGameOptions(map[string]any{"trackLength": 20}))
}
