package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/serial"
	"github.com/meeplelab/parlor/game/session"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register(&registry.Definition{
		GameType:   "clicker",
		MinPlayers: 1,
		MaxPlayers: 2,
		Game: &engine.Definition{
			Setup: func(g *engine.Game) error {
				g.NewElement(nil, "counter", "counter").SetAttr("n", 0)
				return nil
			},
			Actions: []*engine.ActionDef{
				{
					Name:     "tick",
					EndsTurn: true,
					Execute: func(g *engine.Game, seat int, args map[string]any) error {
						c, _ := g.ElementByPath("counter")
						n, _ := c.Attr("n")
						c.SetAttr("n", asInt(n)+1)
						return nil
					},
				},
				{
					Name: "win",
					Execute: func(g *engine.Game, seat int, args map[string]any) error {
						g.Finish(seat)
						return nil
					},
				},
			},
		},
	}))
	return r
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func newManager(t *testing.T, backend Backend, cfg Config) *Manager {
	t.Helper()
	m := NewManager(testRegistry(t), backend, cfg, nil)
	t.Cleanup(m.CloseAll)
	return m
}

func TestCreateAndGet(t *testing.T) {
	m := newManager(t, NewMemoryBackend(), Config{})

	s, err := m.Create(session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Count())
}

func TestCreateUnknownType(t *testing.T) {
	m := newManager(t, NewMemoryBackend(), Config{})
	_, err := m.Create(session.CreateOptions{GameType: "chess", PlayerCount: 2})
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestCreateDuplicateID(t *testing.T) {
	m := newManager(t, NewMemoryBackend(), Config{})
	_, err := m.CreateWithID("g1", session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	require.NoError(t, err)
	_, err = m.CreateWithID("g1", session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	assert.Equal(t, session.CodeConflict, session.CodeOf(err))
}

func TestGetUnknown(t *testing.T) {
	m := newManager(t, NewMemoryBackend(), Config{})
	_, err := m.Get("nope")
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestDelete(t *testing.T) {
	backend := NewMemoryBackend()
	m := newManager(t, backend, Config{})
	s, err := m.CreateWithID("g1", session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	require.NoError(t, err)
	_ = s

	require.NoError(t, m.Delete("g1"))
	_, err = m.Get("g1")
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
	assert.Equal(t, 0, m.Count())
}

func TestRehydrateAfterRestart(t *testing.T) {
	backend := NewMemoryBackend()

	m1 := newManager(t, backend, Config{})
	s, err := m1.CreateWithID("g1", session.CreateOptions{GameType: "clicker", PlayerCount: 1, Seed: "rt"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.PerformAction(1, "tick", nil)
		require.NoError(t, err)
	}
	m1.CloseAll()

	m2 := newManager(t, backend, Config{})
	require.NoError(t, m2.LoadAll())
	got, err := m2.Get("g1")
	require.NoError(t, err)

	flow, err := got.Flow()
	require.NoError(t, err)
	assert.Equal(t, 3, flow.ActionCount)

	st, err := got.State(1)
	require.NoError(t, err)
	counter := st.View.Children[0]
	assert.EqualValues(t, 3, counter.Attrs["n"])
}

func TestSweepExpired(t *testing.T) {
	backend := NewMemoryBackend()
	m := newManager(t, backend, Config{GameTTL: 10 * time.Millisecond})

	idle, err := m.CreateWithID("idle", session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	require.NoError(t, err)
	done, err := m.CreateWithID("done", session.CreateOptions{GameType: "clicker", PlayerCount: 1})
	require.NoError(t, err)
	_, err = done.PerformAction(1, "win", nil)
	require.NoError(t, err)
	_ = idle

	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, 2, m.SweepExpired())
	assert.Equal(t, 0, m.Count())

	// Unfinished games survive in the backend and come back on demand.
	_, err = m.Get("idle")
	require.NoError(t, err)

	// Finished games are gone for good.
	_, err = m.Get("done")
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer b.Close()

	rec := &session.PersistRecord{
		ID:       "g1",
		GameType: "clicker",
		Options:  session.CreateOptions{GameType: "clicker", PlayerCount: 1, Seed: "s"},
		Started:  true,
		Game:     &session.GameRecord{Seed: "s", PlayerCount: 1},
		History: []serial.Action{
			{Name: "tick", Player: 1, Timestamp: 1},
			{Name: "tick", Player: 1, Timestamp: 2},
		},
		CreatedAtMS:  100,
		LastActiveMS: 200,
	}
	require.NoError(t, b.SaveRecord(rec))
	// Saving again with no new actions is a no-op for the log.
	require.NoError(t, b.SaveRecord(rec))

	got, err := b.LoadRecord("g1")
	require.NoError(t, err)
	assert.Equal(t, "clicker", got.GameType)
	require.Len(t, got.History, 2)
	assert.Equal(t, int64(2), got.History[1].Timestamp)

	// A truncated history (undo) trims the stored tail.
	rec.History = rec.History[:1]
	require.NoError(t, b.SaveRecord(rec))
	got, err = b.LoadRecord("g1")
	require.NoError(t, err)
	assert.Len(t, got.History, 1)

	// And new actions after the trim append cleanly.
	rec.History = append(rec.History, serial.Action{Name: "win", Player: 1, Timestamp: 3})
	require.NoError(t, b.SaveRecord(rec))
	got, err = b.LoadRecord("g1")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "win", got.History[1].Name)

	ids, err := b.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)

	require.NoError(t, b.DeleteRecord("g1"))
	_, err = b.LoadRecord("g1")
	assert.Equal(t, session.CodeNotFound, session.CodeOf(err))
}

func TestSQLiteManagerEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.db")
	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	defer b.Close()

	m1 := newManager(t, b, Config{})
	s, err := m1.CreateWithID("g1", session.CreateOptions{GameType: "clicker", PlayerCount: 1, Seed: "e2e"})
	require.NoError(t, err)
	_, err = s.PerformAction(1, "tick", nil)
	require.NoError(t, err)
	m1.CloseAll()

	m2 := newManager(t, b, Config{})
	got, err := m2.Get("g1")
	require.NoError(t, err)
	flow, err := got.Flow()
	require.NoError(t, err)
	assert.Equal(t, 1, flow.ActionCount)
}
