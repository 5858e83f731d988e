// Package matchmaking fills games from FIFO queues. Players join a queue
// keyed by game type and table size; the moment a queue holds a full table,
// one game is created with the queued players seated in join order.
package matchmaking

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
	"github.com/meeplelab/parlor/game/store"
)

// DefaultTTL is how long an unmatched ticket waits before eviction.
const DefaultTTL = 5 * time.Minute

type queueKey struct {
	gameType    string
	playerCount int
}

type ticket struct {
	id       string
	key      queueKey
	playerID string
	name     string
	joinedAt time.Time
	matched  bool
	gameID   string
	seat     int
	players  []MatchPlayer
}

// MatchPlayer is one seat of a completed match.
type MatchPlayer struct {
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
}

// Status is the public state of one ticket. Matched tickets carry the full
// seating so clients can render opponents without a second fetch.
type Status struct {
	TicketID string        `json:"ticketId"`
	State    string        `json:"state"` // "waiting" or "matched"
	Position int           `json:"position,omitempty"`
	Waiting  int           `json:"waiting,omitempty"`
	Needed   int           `json:"needed,omitempty"`
	GameID   string        `json:"gameId,omitempty"`
	Seat     int           `json:"seat,omitempty"`
	Players  []MatchPlayer `json:"players,omitempty"`
}

// Matchmaker pairs queued players into games.
type Matchmaker struct {
	mu      sync.Mutex
	queues  map[queueKey][]*ticket
	tickets map[string]*ticket

	registry *registry.Registry
	manager  *store.Manager
	ttl      time.Duration
	log      *zap.Logger
}

// New creates a matchmaker over a registry and a game manager. A
// non-positive ttl falls back to the default.
func New(reg *registry.Registry, mgr *store.Manager, ttl time.Duration, log *zap.Logger) *Matchmaker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Matchmaker{
		queues:   make(map[queueKey][]*ticket),
		tickets:  make(map[string]*ticket),
		registry: reg,
		manager:  mgr,
		ttl:      ttl,
		log:      log,
	}
}

// Join enqueues a player. Filling the queue creates the game atomically with
// the enqueue, so two racing joins cannot both complete the same table. A
// player already waiting in the same queue gets their existing ticket back.
func (m *Matchmaker) Join(gameType string, playerCount int, playerID, name string) (*Status, error) {
	def, ok := m.registry.Get(gameType)
	if !ok {
		return nil, session.NewError(session.CodeNotFound, "unknown game type %q", gameType)
	}
	if playerCount < def.MinPlayers || playerCount > def.MaxPlayers {
		return nil, session.NewError(session.CodeInvalidArgs, "%s takes %d-%d players, got %d",
			gameType, def.MinPlayers, def.MaxPlayers, playerCount)
	}
	if playerID == "" {
		return nil, session.NewError(session.CodeInvalidArgs, "playerId is required")
	}
	key := queueKey{gameType: gameType, playerCount: playerCount}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.queues[key] {
		if t.playerID == playerID {
			return m.statusLocked(t), nil
		}
	}

	t := &ticket{
		id:       uuid.NewString(),
		key:      key,
		playerID: playerID,
		name:     name,
		joinedAt: time.Now(),
	}
	m.tickets[t.id] = t
	m.queues[key] = append(m.queues[key], t)

	if len(m.queues[key]) >= playerCount {
		if err := m.matchLocked(key); err != nil {
			// The enqueue stands; the table fires again on the next join.
			m.log.Error("match failed", zap.String("gameType", gameType), zap.Error(err))
		}
	}
	return m.statusLocked(t), nil
}

// matchLocked dequeues a full table and creates its game.
func (m *Matchmaker) matchLocked(key queueKey) error {
	q := m.queues[key]
	table := q[:key.playerCount]

	players := make([]session.PlayerConfig, len(table))
	for i, t := range table {
		players[i] = session.PlayerConfig{PlayerID: t.playerID, Name: t.name}
	}
	s, err := m.manager.Create(session.CreateOptions{
		GameType:    key.gameType,
		PlayerCount: key.playerCount,
		Players:     players,
	})
	if err != nil {
		return err
	}
	roster := make([]MatchPlayer, len(table))
	for i, t := range table {
		roster[i] = MatchPlayer{Seat: i + 1, PlayerID: t.playerID, Name: t.name}
	}
	for i, t := range table {
		t.matched = true
		t.gameID = s.ID()
		t.seat = i + 1
		t.players = roster
	}
	m.queues[key] = append([]*ticket(nil), q[key.playerCount:]...)
	m.log.Info("table matched",
		zap.String("gameType", key.gameType),
		zap.Int("players", key.playerCount),
		zap.String("gameId", s.ID()))
	return nil
}

// Status reports a ticket's state. Matched tickets are consumed by the read.
func (m *Matchmaker) Status(ticketID string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, session.NewError(session.CodeNotFound, "no ticket %q", ticketID)
	}
	st := m.statusLocked(t)
	if t.matched {
		delete(m.tickets, ticketID)
	}
	return st, nil
}

// StatusByPlayer reports the state of a player's ticket. Matched tickets are
// consumed by the read, like Status.
func (m *Matchmaker) StatusByPlayer(playerID string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tickets {
		if t.playerID != playerID {
			continue
		}
		st := m.statusLocked(t)
		if t.matched {
			delete(m.tickets, id)
		}
		return st, nil
	}
	return nil, session.NewError(session.CodeNotFound, "player %q is not queued", playerID)
}

// LeaveByPlayer withdraws a player's unmatched ticket.
func (m *Matchmaker) LeaveByPlayer(playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tickets {
		if t.playerID != playerID {
			continue
		}
		if t.matched {
			return session.NewError(session.CodeConflict, "ticket already matched")
		}
		delete(m.tickets, id)
		m.removeFromQueueLocked(t)
		return nil
	}
	return session.NewError(session.CodeNotFound, "player %q is not queued", playerID)
}

func (m *Matchmaker) statusLocked(t *ticket) *Status {
	if t.matched {
		return &Status{TicketID: t.id, State: "matched", GameID: t.gameID, Seat: t.seat, Players: t.players}
	}
	st := &Status{TicketID: t.id, State: "waiting", Needed: t.key.playerCount}
	for i, qt := range m.queues[t.key] {
		if qt == t {
			st.Position = i + 1
		}
	}
	st.Waiting = len(m.queues[t.key])
	return st
}

// Leave withdraws an unmatched ticket.
func (m *Matchmaker) Leave(ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return session.NewError(session.CodeNotFound, "no ticket %q", ticketID)
	}
	if t.matched {
		return session.NewError(session.CodeConflict, "ticket already matched")
	}
	delete(m.tickets, ticketID)
	m.removeFromQueueLocked(t)
	return nil
}

func (m *Matchmaker) removeFromQueueLocked(t *ticket) {
	q := m.queues[t.key]
	for i, qt := range q {
		if qt == t {
			m.queues[t.key] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// SweepExpired evicts tickets that waited past the TTL. Matched tickets
// never expire; their game already exists.
func (m *Matchmaker) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.ttl)
	evicted := 0
	for id, t := range m.tickets {
		if t.matched || t.joinedAt.After(cutoff) {
			continue
		}
		delete(m.tickets, id)
		m.removeFromQueueLocked(t)
		evicted++
	}
	if evicted > 0 {
		m.log.Info("matchmaking tickets expired", zap.Int("count", evicted))
	}
	return evicted
}

// Waiting returns the number of unmatched tickets across all queues.
func (m *Matchmaker) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}
