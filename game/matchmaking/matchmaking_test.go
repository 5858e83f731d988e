package matchmaking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
	"github.com/meeplelab/parlor/game/store"
)

func setup(t *testing.T, ttl time.Duration) (*Matchmaker, *store.Manager) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(&registry.Definition{
		GameType:   "duel",
		MinPlayers: 2,
		MaxPlayers: 4,
		Game: &engine.Definition{
			Setup:   func(g *engine.Game) error { return nil },
			Actions: []*engine.ActionDef{{Name: "pass", EndsTurn: true}},
		},
	}))
	mgr := store.NewManager(reg, store.NewMemoryBackend(), store.Config{}, nil)
	t.Cleanup(mgr.CloseAll)
	return New(reg, mgr, ttl, nil), mgr
}

func TestJoinWaitsUntilFull(t *testing.T) {
	mm, mgr := setup(t, 0)

	st, err := mm.Join("duel", 2, "p1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "waiting", st.State)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, 2, st.Needed)
	assert.Equal(t, 0, mgr.Count())

	st2, err := mm.Join("duel", 2, "p2", "Ben")
	require.NoError(t, err)
	require.Equal(t, "matched", st2.State)
	assert.Equal(t, 2, st2.Seat)
	require.NotEmpty(t, st2.GameID)
	assert.Equal(t, 1, mgr.Count())

	s, err := mgr.Get(st2.GameID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SeatOf("p1"), "seats follow join order")
	assert.Equal(t, 2, s.SeatOf("p2"))
}

func TestStatusAndTicketConsumption(t *testing.T) {
	mm, _ := setup(t, 0)
	st, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)

	got, err := mm.Status(st.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "waiting", got.State)

	_, err = mm.Join("duel", 2, "p2", "")
	require.NoError(t, err)

	got, err = mm.Status(st.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "matched", got.State)
	assert.Equal(t, 1, got.Seat)

	// A matched status read consumes the ticket.
	_, err = mm.Status(st.TicketID)
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestMatchedStatusCarriesRoster(t *testing.T) {
	mm, _ := setup(t, 0)
	_, err := mm.Join("duel", 2, "p1", "Ada")
	require.NoError(t, err)
	st, err := mm.Join("duel", 2, "p2", "Ben")
	require.NoError(t, err)
	require.Equal(t, "matched", st.State)

	require.Len(t, st.Players, 2)
	assert.Equal(t, MatchPlayer{Seat: 1, PlayerID: "p1", Name: "Ada"}, st.Players[0])
	assert.Equal(t, MatchPlayer{Seat: 2, PlayerID: "p2", Name: "Ben"}, st.Players[1])

	byPlayer, err := mm.StatusByPlayer("p1")
	require.NoError(t, err)
	assert.Equal(t, st.Players, byPlayer.Players)
}

func TestQueuesAreIndependent(t *testing.T) {
	mm, mgr := setup(t, 0)
	_, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)
	_, err = mm.Join("duel", 3, "p2", "")
	require.NoError(t, err)
	_, err = mm.Join("duel", 3, "p3", "")
	require.NoError(t, err)

	assert.Equal(t, 0, mgr.Count(), "different table sizes never mix")
	assert.Equal(t, 3, mm.Waiting())
}

func TestDuplicateJoinReturnsExistingTicket(t *testing.T) {
	mm, _ := setup(t, 0)
	st1, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)
	st2, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)
	assert.Equal(t, st1.TicketID, st2.TicketID)
	assert.Equal(t, 1, mm.Waiting())
}

func TestJoinValidation(t *testing.T) {
	mm, _ := setup(t, 0)
	_, err := mm.Join("chess", 2, "p1", "")
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
	_, err = mm.Join("duel", 9, "p1", "")
	assert.Equal(t, session.CodeInvalidArgs, session.CodeOf(err))
	_, err = mm.Join("duel", 2, "", "")
	assert.Equal(t, session.CodeInvalidArgs, session.CodeOf(err))
}

func TestLeave(t *testing.T) {
	mm, mgr := setup(t, 0)
	st, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)
	require.NoError(t, mm.Leave(st.TicketID))
	assert.Equal(t, 0, mm.Waiting())

	assert.Equal(t, session.CodeNotFound, session.CodeOf(mm.Leave(st.TicketID)))

	// The departed player does not end up in a game.
	_, err = mm.Join("duel", 2, "p2", "")
	require.NoError(t, err)
	assert.Equal(t, 0, mgr.Count())
}

func TestSweepExpired(t *testing.T) {
	mm, _ := setup(t, 10*time.Millisecond)
	st, err := mm.Join("duel", 2, "p1", "")
	require.NoError(t, err)

	assert.Equal(t, 0, mm.SweepExpired(), "fresh tickets stay")
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, 1, mm.SweepExpired())
	assert.Equal(t, 0, mm.Waiting())
	_, err = mm.Status(st.TicketID)
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestFourPlayerTable(t *testing.T) {
	mm, mgr := setup(t, 0)
	var last *Status
	for i := 1; i <= 4; i++ {
		st, err := mm.Join("duel", 4, fmt.Sprintf("p%d", i), "")
		require.NoError(t, err)
		last = st
	}
	require.Equal(t, "matched", last.State)
	assert.Equal(t, 4, last.Seat)
	assert.Equal(t, 1, mgr.Count())
	assert.Equal(t, 0, mm.Waiting())
}
