// Package store owns the set of hosted games: an in-memory session table in
// front of a durable backend holding each game's append-only action log.
// Sessions are created here, looked up here, lazily rehydrated from the
// backend after a restart, and expired here.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
)

// Backend durably stores session images keyed by game id.
type Backend interface {
	SaveRecord(rec *session.PersistRecord) error
	LoadRecord(id string) (*session.PersistRecord, error)
	DeleteRecord(id string) error
	ListIDs() ([]string, error)
	Close() error
}

// Config tunes sessions created by the manager.
type Config struct {
	CheckpointInterval int
	CheckpointWindow   int
	ThinkTimeout       time.Duration
	// GameTTL expires games with no committed mutation for this long.
	// Zero disables expiry.
	GameTTL time.Duration
}

// Manager is the concurrency-safe game table.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	registry *registry.Registry
	backend  Backend
	cfg      Config
	log      *zap.Logger
}

// NewManager creates a manager over a registry and a backend.
func NewManager(reg *registry.Registry, backend Backend, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*session.Session),
		registry: reg,
		backend:  backend,
		cfg:      cfg,
		log:      log,
	}
}

// Create hosts a new game under a fresh id.
func (m *Manager) Create(opts session.CreateOptions) (*session.Session, error) {
	return m.CreateWithID(uuid.NewString(), opts)
}

// CreateWithID hosts a new game under a caller-chosen id.
func (m *Manager) CreateWithID(id string, opts session.CreateOptions) (*session.Session, error) {
	def, ok := m.registry.Get(opts.GameType)
	if !ok {
		return nil, session.NewError(session.CodeNotFound, "unknown game type %q", opts.GameType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, session.NewError(session.CodeConflict, "game %q already exists", id)
	}

	s, err := session.New(m.params(id, def, opts))
	if err != nil {
		return nil, err
	}
	if err := m.backend.SaveRecord(s.Record()); err != nil {
		s.Close()
		return nil, session.NewError(session.CodeInternal, "save game %q: %v", id, err)
	}
	m.sessions[id] = s
	m.log.Info("game created",
		zap.String("gameId", id),
		zap.String("gameType", opts.GameType),
		zap.Int("players", opts.PlayerCount),
		zap.Bool("lobby", opts.UseLobby))
	return s, nil
}

func (m *Manager) params(id string, def *registry.Definition, opts session.CreateOptions) session.Params {
	return session.Params{
		ID:                 id,
		Definition:         def,
		Options:            opts,
		Logger:             m.log,
		Persist:            m.backend.SaveRecord,
		CheckpointInterval: m.cfg.CheckpointInterval,
		CheckpointWindow:   m.cfg.CheckpointWindow,
		ThinkTimeout:       m.cfg.ThinkTimeout,
	}
}

// Get returns a hosted game, rehydrating it from the backend when it is not
// resident.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	return m.rehydrate(id)
}

func (m *Manager) rehydrate(id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	rec, err := m.backend.LoadRecord(id)
	if err != nil {
		return nil, err
	}
	def, ok := m.registry.Get(rec.GameType)
	if !ok {
		return nil, session.NewError(session.CodeInternal, "game %q has unregistered type %q", id, rec.GameType)
	}
	s, err := session.Restore(m.params(id, def, rec.Options), rec)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	m.log.Info("game rehydrated", zap.String("gameId", id), zap.Int("actions", len(rec.History)))
	return s, nil
}

// Delete closes a game and removes it from memory and the backend.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	if err := m.backend.DeleteRecord(id); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.log.Info("game deleted", zap.String("gameId", id))
	return nil
}

// List returns all resident sessions.
func (m *Manager) List() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of resident sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// LoadAll rehydrates every game the backend knows about. Called at boot.
func (m *Manager) LoadAll() error {
	ids, err := m.backend.ListIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := m.Get(id); err != nil {
			// One corrupt game must not block the rest.
			m.log.Error("rehydrate failed", zap.String("gameId", id), zap.Error(err))
		}
	}
	return nil
}

// SweepExpired evicts games idle past the TTL. Finished games are deleted
// outright; unfinished ones leave memory but stay in the backend, so a
// later Get brings them back.
func (m *Manager) SweepExpired() int {
	if m.cfg.GameTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.cfg.GameTTL)

	m.mu.Lock()
	type victim struct {
		s        *session.Session
		finished bool
	}
	var victims []victim
	for id, s := range m.sessions {
		if s.LastActivity().After(cutoff) {
			continue
		}
		rec := s.Record()
		delete(m.sessions, id)
		victims = append(victims, victim{s: s, finished: rec.Complete})
	}
	m.mu.Unlock()

	for _, v := range victims {
		v.s.Close()
		if v.finished {
			if err := m.backend.DeleteRecord(v.s.ID()); err != nil {
				m.log.Warn("delete expired game", zap.String("gameId", v.s.ID()), zap.Error(err))
			}
		}
		m.log.Info("game expired", zap.String("gameId", v.s.ID()), zap.Bool("finished", v.finished))
	}
	return len(victims)
}

// CloseAll closes every resident session. The backend stays open.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}
