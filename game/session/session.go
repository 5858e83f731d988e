// Package session hosts live game instances: it serializes all mutation,
// runs the lobby lifecycle, composes multi-step actions, drives AI seats,
// supports undo and time travel over the append-only action log, and pushes
// per-seat filtered state to attached connections.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/serial"
	"github.com/meeplelab/parlor/game/snapshot"
)

// PersistFunc durably stores a session image. It is called under the
// session's mutation lane, after the in-memory mutation and before the
// result is broadcast; an error rolls the mutation back.
type PersistFunc func(rec *PersistRecord) error

// Params configures a new session.
type Params struct {
	ID                 string
	Definition         *registry.Definition
	Options            CreateOptions
	Logger             *zap.Logger
	Persist            PersistFunc
	CheckpointInterval int
	CheckpointWindow   int
	ThinkTimeout       time.Duration
}

// Session is one hosted game. A single mutex serializes every mutation;
// reads that touch game state take it too, so every observer sees a
// committed prefix of the action history.
type Session struct {
	id  string
	def *registry.Definition
	log *zap.Logger

	mu           sync.Mutex
	game         *engine.Game
	gameCfg      engine.Config
	history      []serial.Action
	lobby        *Lobby
	opts         CreateOptions
	gameOptions  map[string]any
	playerIDs    []string
	aiSeats      map[int]string
	conns        map[*Conn]struct{}
	pending      *pendingManager
	checkpoints  *snapshot.CheckpointManager
	persist      PersistFunc
	mutations    int
	createdAt    time.Time
	lastActivity time.Time
	closed       bool

	ai *aiController
}

// New creates a session. Without a lobby the game starts immediately; with
// one it waits for seats to fill.
func New(p Params) (*Session, error) {
	if p.Definition == nil {
		return nil, NewError(CodeInternal, "session requires a game definition")
	}
	def := p.Definition
	opts := p.Options
	opts.normalize()
	if opts.PlayerCount < def.MinPlayers || opts.PlayerCount > def.MaxPlayers {
		return nil, NewError(CodeInvalidArgs, "%s takes %d-%d players, got %d",
			def.GameType, def.MinPlayers, def.MaxPlayers, opts.PlayerCount)
	}
	if opts.Seed == "" {
		opts.Seed = uuid.NewString()
	}
	gameOptions := def.DefaultGameOptions()
	if err := def.ValidateGameOptions(opts.GameOptions); err != nil {
		return nil, NewError(CodeInvalidArgs, "%v", err)
	}
	for k, v := range opts.GameOptions {
		gameOptions[k] = v
	}

	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now()
	s := &Session{
		id:           p.ID,
		def:          def,
		log:          log.With(zap.String("gameId", p.ID), zap.String("gameType", def.GameType)),
		opts:         opts,
		gameOptions:  gameOptions,
		aiSeats:      map[int]string{},
		conns:        map[*Conn]struct{}{},
		pending:      newPendingManager(),
		checkpoints:  snapshot.NewCheckpointManager(p.CheckpointInterval, p.CheckpointWindow),
		persist:      p.Persist,
		createdAt:    now,
		lastActivity: now,
	}
	s.ai = newAIController(s, s.log, p.ThinkTimeout)

	if opts.UseLobby {
		s.lobby = newLobby(def, opts, gameOptions)
		return s, nil
	}
	if err := s.startImmediate(); err != nil {
		return nil, err
	}
	// An AI first seat should start thinking right away.
	s.ai.Evaluate()
	return s, nil
}

// Restore rebuilds a session from its persisted image: a waiting lobby, or
// a started game replayed from the action log.
func Restore(p Params, rec *PersistRecord) (*Session, error) {
	p.Options = rec.Options
	if !rec.Started {
		s, err := New(withLobby(p))
		if err != nil {
			return nil, err
		}
		if rec.Lobby != nil {
			s.lobby = lobbyFromRecord(s.def, rec.Lobby, s.gameOptions)
		}
		s.createdAt = time.UnixMilli(rec.CreatedAtMS)
		s.lastActivity = time.UnixMilli(rec.LastActiveMS)
		return s, nil
	}
	if rec.Game == nil {
		return nil, NewError(CodeInternal, "started game %q persisted without its config", rec.ID)
	}

	base := p
	base.Options.UseLobby = true // construct without starting; we start from the record
	s, err := New(withLobby(base))
	if err != nil {
		return nil, err
	}
	s.lobby = nil
	s.opts.UseLobby = rec.Options.UseLobby
	s.gameCfg = engine.Config{
		Seed:          rec.Game.Seed,
		PlayerCount:   rec.Game.PlayerCount,
		PlayerNames:   rec.Game.PlayerNames,
		PlayerOptions: rec.Game.PlayerOptions,
		Options:       rec.Game.GameOptions,
	}
	for seat, level := range rec.Game.AISeats {
		s.aiSeats[seat] = level
	}
	s.playerIDs = append([]string(nil), rec.PlayerIDs...)

	g, err := engine.NewGame(s.def.Game, s.gameCfg)
	if err != nil {
		return nil, NewError(CodeInternal, "rebuild %q: %v", rec.ID, err)
	}
	s.game = g
	for i, a := range rec.History {
		name, seat, args, err := serial.DeserializeAction(a, g)
		if err != nil {
			return nil, NewError(CodeInternal, "replay %q action %d: %v", rec.ID, i, err)
		}
		if err := g.PerformAction(name, seat, args); err != nil {
			return nil, NewError(CodeInternal, "replay %q action %d (%s): %v", rec.ID, i, name, err)
		}
		s.history = append(s.history, a)
		s.checkpoints.MaybeCapture(g, len(s.history))
	}
	s.createdAt = time.UnixMilli(rec.CreatedAtMS)
	s.lastActivity = time.UnixMilli(rec.LastActiveMS)
	s.ai.Evaluate()
	return s, nil
}

func withLobby(p Params) Params {
	p.Options.UseLobby = true
	return p
}

// startImmediate builds the engine game straight from the creation options.
func (s *Session) startImmediate() error {
	count := s.opts.PlayerCount
	names := make([]string, count)
	playerOptions := make([]map[string]any, count)
	s.playerIDs = make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(s.opts.Players) {
			cfg := s.opts.Players[i]
			names[i] = cfg.Name
			playerOptions[i] = cfg.PlayerOptions
			s.playerIDs[i] = cfg.PlayerID
			if cfg.IsAI {
				s.aiSeats[i+1] = firstNonEmpty(cfg.AILevel, s.opts.AILevel)
			}
		}
	}
	for _, seat := range s.opts.AIPlayers {
		if seat >= 1 && seat <= count {
			if _, ok := s.aiSeats[seat]; !ok {
				s.aiSeats[seat] = s.opts.AILevel
			}
		}
	}
	for i, po := range playerOptions {
		if err := s.validatePlayerOptions(po); err != nil {
			return NewError(CodeInvalidArgs, "seat %d: %v", i+1, err)
		}
	}
	return s.buildGame(engine.Config{
		Seed:          s.opts.Seed,
		PlayerCount:   count,
		PlayerNames:   names,
		PlayerOptions: playerOptions,
		Options:       s.gameOptions,
	})
}

func (s *Session) validatePlayerOptions(opts map[string]any) error {
	for name, v := range opts {
		def, ok := s.def.PlayerOptions[name]
		if !ok {
			return fmt.Errorf("unknown player option %q", name)
		}
		if err := def.Validate(v); err != nil {
			return fmt.Errorf("player option %q: %w", name, err)
		}
	}
	return nil
}

func (s *Session) buildGame(cfg engine.Config) error {
	g, err := engine.NewGame(s.def.Game, cfg)
	if err != nil {
		return NewError(CodeInternal, "setup failed: %v", err)
	}
	s.game = g
	s.gameCfg = cfg
	return nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// GameType returns the hosted game type.
func (s *Session) GameType() string { return s.def.GameType }

// Started reports whether play has begun (no lobby, or lobby resolved).
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game != nil
}

// LastActivity returns the time of the last committed mutation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetPersist installs the persistence hook.
func (s *Session) SetPersist(fn PersistFunc) {
	s.mu.Lock()
	s.persist = fn
	s.mu.Unlock()
}

// Close stops the AI controller and closes every connection.
func (s *Session) Close() {
	s.ai.Stop()
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.transport.Close()
		delete(s.conns, c)
	}
	s.mu.Unlock()
}

// Record captures the session's durable image.
func (s *Session) Record() *PersistRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() *PersistRecord {
	rec := &PersistRecord{
		ID:           s.id,
		GameType:     s.def.GameType,
		Options:      s.opts,
		Started:      s.game != nil,
		History:      append([]serial.Action(nil), s.history...),
		PlayerIDs:    append([]string(nil), s.playerIDs...),
		CreatedAtMS:  s.createdAt.UnixMilli(),
		LastActiveMS: s.lastActivity.UnixMilli(),
	}
	if s.game != nil {
		rec.Complete = s.game.IsComplete()
		rec.Game = &GameRecord{
			Seed:          s.gameCfg.Seed,
			PlayerCount:   s.gameCfg.PlayerCount,
			PlayerNames:   s.gameCfg.PlayerNames,
			PlayerOptions: s.gameCfg.PlayerOptions,
			GameOptions:   s.gameCfg.Options,
			AISeats:       s.aiSeats,
		}
	}
	if s.lobby != nil {
		rec.Lobby = s.lobby.record()
	}
	return rec
}

func (s *Session) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s.recordLocked()); err != nil {
		return NewError(CodeInternal, "persist failed: %v", err)
	}
	return nil
}

// commitLocked finalizes a mutation: persist, bump the mutation counter,
// refresh activity, and checkpoint on cadence.
func (s *Session) commitLocked() error {
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.mutations++
	s.lastActivity = time.Now()
	if s.game != nil {
		s.checkpoints.MaybeCapture(s.game, len(s.history))
	}
	return nil
}

// --- lobby lifecycle ---

// lobbyOp runs one lobby mutation under the lane, then persists and
// broadcasts. Readiness never starts the game by itself; the creator does
// that through Start.
func (s *Session) lobbyOp(fn func(l *Lobby) error) error {
	s.mu.Lock()
	err := s.lobbyOpLocked(fn)
	s.mu.Unlock()
	if err == nil {
		s.ai.Evaluate()
	}
	return err
}

func (s *Session) lobbyOpLocked(fn func(l *Lobby) error) error {
	if s.lobby == nil {
		return ErrNoLobby
	}
	if err := fn(s.lobby); err != nil {
		return err
	}
	if err := s.commitLocked(); err != nil {
		return err
	}
	s.broadcastLocked()
	return nil
}

// startFromLobbyLocked bakes the lobby's slots into an engine config and
// starts the game.
func (s *Session) startFromLobbyLocked() error {
	l := s.lobby
	count := len(l.slots)
	names := make([]string, count)
	playerOptions := make([]map[string]any, count)
	s.playerIDs = make([]string, count)
	for i, slot := range l.slots {
		names[i] = slot.Name
		if names[i] == "" {
			names[i] = fmt.Sprintf("Player %d", i+1)
		}
		playerOptions[i] = slot.PlayerOptions
		s.playerIDs[i] = slot.PlayerID
		if slot.Status == SlotAI {
			s.aiSeats[i+1] = firstNonEmpty(slot.AILevel, s.opts.AILevel)
		}
	}
	if err := s.buildGame(engine.Config{
		Seed:          s.opts.Seed,
		PlayerCount:   count,
		PlayerNames:   names,
		PlayerOptions: playerOptions,
		Options:       l.gameOptions,
	}); err != nil {
		return err
	}
	s.lobby = nil
	s.log.Info("game started from lobby", zap.Int("players", count), zap.Int("aiSeats", len(s.aiSeats)))
	return nil
}

// ClaimSeat seats a player in the lobby.
func (s *Session) ClaimSeat(seat int, playerID, name string) error {
	return s.lobbyOp(func(l *Lobby) error { return l.ClaimSeat(seat, playerID, name) })
}

// LeaveSeat releases a player's lobby seat.
func (s *Session) LeaveSeat(playerID string) error {
	return s.lobbyOp(func(l *Lobby) error { return l.LeaveSeat(playerID) })
}

// SetReady toggles a player's readiness.
func (s *Session) SetReady(playerID string, ready bool) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetReady(playerID, ready) })
}

// SetName renames a seated lobby player.
func (s *Session) SetName(playerID, name string) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetName(playerID, name) })
}

// AddSlot appends an open lobby slot (creator only).
func (s *Session) AddSlot(playerID string) error {
	return s.lobbyOp(func(l *Lobby) error { return l.AddSlot(playerID) })
}

// RemoveSlot removes an unclaimed lobby slot (creator only).
func (s *Session) RemoveSlot(playerID string, seat int) error {
	return s.lobbyOp(func(l *Lobby) error { return l.RemoveSlot(playerID, seat) })
}

// SetSlotAI switches a lobby slot between AI and open (creator only).
func (s *Session) SetSlotAI(playerID string, seat int, isAI bool, aiLevel string) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetSlotAI(playerID, seat, isAI, aiLevel) })
}

// Kick releases another player's seat (creator only) and closes their
// connections.
func (s *Session) Kick(playerID string, seat int) error {
	var kicked string
	err := s.lobbyOp(func(l *Lobby) error {
		var err error
		kicked, err = l.Kick(playerID, seat)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	for c := range s.conns {
		if c.playerID == kicked {
			c.transport.Close()
			delete(s.conns, c)
		}
	}
	s.mu.Unlock()
	return nil
}

// SetPlayerOptions updates the caller's own seat options.
func (s *Session) SetPlayerOptions(playerID string, opts map[string]any) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetPlayerOptions(playerID, opts) })
}

// SetSlotPlayerOptions updates a specific slot's options (creator only).
func (s *Session) SetSlotPlayerOptions(playerID string, seat int, opts map[string]any) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetSlotPlayerOptions(playerID, seat, opts) })
}

// SetGameOptions updates the lobby's game options (creator only).
func (s *Session) SetGameOptions(playerID string, opts map[string]any) error {
	return s.lobbyOp(func(l *Lobby) error { return l.SetGameOptions(playerID, opts) })
}

// Start begins play explicitly. Conflicts unless the lobby gate passes.
func (s *Session) Start(playerID string) error {
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lobby == nil {
			if s.game != nil {
				return NewError(CodeConflict, "game already started")
			}
			return ErrNoLobby
		}
		if !s.lobby.isCreator(playerID) {
			return NewError(CodeForbidden, "only the creator can start the game")
		}
		if !s.lobby.IsReady() {
			return NewError(CodeConflict, "lobby is not ready")
		}
		if err := s.startFromLobbyLocked(); err != nil {
			return err
		}
		if err := s.commitLocked(); err != nil {
			return err
		}
		s.broadcastLocked()
		return nil
	}()
	if err == nil {
		s.ai.Evaluate()
	}
	return err
}

// LobbyView returns the lobby's public form.
func (s *Session) LobbyView() (*LobbyView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lobby == nil {
		return nil, ErrNoLobby
	}
	return s.lobby.View(s.id), nil
}

// SeatOf maps a player id to a seat: lobby claim, or seat held at start.
func (s *Session) SeatOf(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seatOfLocked(playerID)
}

func (s *Session) seatOfLocked(playerID string) int {
	if playerID == "" {
		return 0
	}
	if s.lobby != nil {
		return s.lobby.seatOf(playerID)
	}
	for i, id := range s.playerIDs {
		if id != "" && id == playerID {
			return i + 1
		}
	}
	return 0
}

// --- actions ---

// PerformAction validates and commits one complete action for a seat,
// persisting it to the action log and broadcasting the new state.
func (s *Session) PerformAction(seat int, name string, wireArgs map[string]any) (*ActionResult, error) {
	s.mu.Lock()
	res, err := s.performLocked(seat, name, wireArgs)
	s.mu.Unlock()
	if err == nil {
		s.ai.Evaluate()
	}
	return res, err
}

func (s *Session) performLocked(seat int, name string, wireArgs map[string]any) (*ActionResult, error) {
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	var args map[string]any
	if wireArgs != nil {
		v, err := serial.DeserializeValue(map[string]any(wireArgs), s.game)
		if err != nil {
			return nil, fromSerial(err)
		}
		args = v.(map[string]any)
	}
	return s.performEngineLocked(seat, name, args)
}

// performEngineLocked is the single commit path: every action, human or AI,
// direct or composed step by step, lands here.
func (s *Session) performEngineLocked(seat int, name string, args map[string]any) (*ActionResult, error) {
	if err := s.game.PerformAction(name, seat, args); err != nil {
		return nil, fromEngine(err)
	}
	rec, err := serial.SerializeAction(name, seat, args, serial.Options{})
	if err != nil {
		// The action already ran; a non-serializable argument would have
		// been rejected at deserialization, so this is a rules bug.
		s.rollbackLocked(len(s.history))
		return nil, NewError(CodeInternal, "record action %q: %v", name, err)
	}
	s.history = append(s.history, rec)
	s.pending.Cancel(seat)

	if err := s.commitLocked(); err != nil {
		s.history = s.history[:len(s.history)-1]
		s.rollbackLocked(len(s.history))
		return nil, err
	}
	s.broadcastLocked()
	return &ActionResult{State: s.playerStateLocked(seat), FlowState: s.flowLocked()}, nil
}

// rollbackLocked rebuilds the game to match the first n history entries
// after an in-memory mutation could not be committed.
func (s *Session) rollbackLocked(n int) {
	s.checkpoints.DiscardAbove(n)
	if err := s.rebuildLocked(n); err != nil {
		s.log.Error("rollback rebuild failed", zap.Int("target", n), zap.Error(err))
	}
}

// rebuildLocked reconstructs the live game at history index n, replaying
// from the nearest checkpoint at or below it.
func (s *Session) rebuildLocked(n int) error {
	g, err := s.gameAtLocked(n)
	if err != nil {
		return err
	}
	s.game = g
	return nil
}

// gameAtLocked builds a throwaway game representing the state after the
// first n history entries.
func (s *Session) gameAtLocked(n int) (*engine.Game, error) {
	g, err := engine.NewGame(s.def.Game, s.gameCfg)
	if err != nil {
		return nil, NewError(CodeInternal, "rebuild setup: %v", err)
	}
	start := 0
	if cp := s.checkpoints.Nearest(n); cp != nil {
		if err := g.RestoreState(cp.State); err != nil {
			return nil, NewError(CodeInternal, "restore checkpoint %d: %v", cp.AtActionIndex, err)
		}
		start = cp.AtActionIndex
	}
	for i := start; i < n; i++ {
		name, seat, args, err := serial.DeserializeAction(s.history[i], g)
		if err != nil {
			return nil, NewError(CodeInternal, "replay action %d: %v", i, err)
		}
		if err := g.PerformAction(name, seat, args); err != nil {
			return nil, NewError(CodeInternal, "replay action %d (%s): %v", i, name, err)
		}
	}
	return g, nil
}

// --- multi-step actions ---

// Step advances a seat's multi-step action by one selection. A bare open
// (actionName with no selection) starts a fresh pending action seeded with
// initialArgs, replacing anything the seat had in flight, and returns the
// first prompt. A step with a selection advances the open action, starting
// one first when the seat has none.
func (s *Session) Step(seat int, actionName, selection string, value any, initialArgs map[string]any) (*StepResult, error) {
	s.mu.Lock()
	res, committed, err := s.stepLocked(seat, actionName, selection, value, initialArgs)
	s.mu.Unlock()
	if err == nil && committed {
		s.ai.Evaluate()
	}
	return res, err
}

func (s *Session) stepLocked(seat int, actionName, selection string, value any, initialArgs map[string]any) (*StepResult, bool, error) {
	if s.game == nil {
		return nil, false, ErrGameNotStarted
	}
	_, exists := s.pending.Get(seat)
	if actionName != "" && (!exists || selection == "") {
		// A start replaces whatever the seat had in flight; actionName on a
		// step call only names the action already open.
		var seed map[string]any
		if initialArgs != nil {
			v, err := serial.DeserializeValue(map[string]any(initialArgs), s.game)
			if err != nil {
				return nil, false, fromSerial(err)
			}
			seed = v.(map[string]any)
		}
		p, err := s.pending.Start(s.game, actionName, seat, seed)
		if err != nil {
			return nil, false, err
		}
		if p.next == nil {
			// Initial args already covered every selection.
			s.pending.Cancel(seat)
			result, err := s.performEngineLocked(seat, actionName, p.args)
			if err != nil {
				return nil, false, err
			}
			return &StepResult{Complete: true, Result: result}, true, nil
		}
		if selection == "" {
			view, err := s.pendingViewLocked(p)
			if err != nil {
				return nil, false, err
			}
			return &StepResult{Next: view.Next, Pending: view}, false, nil
		}
	} else if !exists {
		return nil, false, ErrNoPending
	}

	engValue, err := serial.DeserializeValue(value, s.game)
	if err != nil {
		return nil, false, fromSerial(err)
	}
	done, doneAction, args, err := s.pending.Step(s.game, seat, selection, engValue)
	if err != nil {
		return nil, false, err
	}
	if !done {
		p, _ := s.pending.Get(seat)
		view, err := s.pendingViewLocked(p)
		if err != nil {
			return nil, false, err
		}
		s.broadcastLocked()
		return &StepResult{Next: view.Next, Pending: view}, false, nil
	}

	result, err := s.performEngineLocked(seat, doneAction, args)
	if err != nil {
		return nil, false, err
	}
	return &StepResult{Complete: true, Result: result}, true, nil
}

// CancelPending abandons a seat's in-progress action.
func (s *Session) CancelPending(seat int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending.Cancel(seat) {
		return ErrNoPending
	}
	return nil
}

// Pending returns the seat's in-progress action, if any.
func (s *Session) Pending(seat int) (*PendingView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending.Get(seat)
	if !ok {
		return nil, ErrNoPending
	}
	return s.pendingViewLocked(p)
}

// SelectionChoices computes the legal values for one selection of an action,
// given the wire-form arguments chosen so far.
func (s *Session) SelectionChoices(seat int, action, selection string, wireArgs map[string]any) (*SelectionPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	args := map[string]any{}
	if wireArgs != nil {
		v, err := serial.DeserializeValue(map[string]any(wireArgs), s.game)
		if err != nil {
			return nil, fromSerial(err)
		}
		args = v.(map[string]any)
	}
	choices, err := s.game.SelectionChoices(action, selection, seat, args)
	if err != nil {
		return nil, fromEngine(err)
	}
	return promptFromChoices(choices)
}

func (s *Session) pendingViewLocked(p *pendingAction) (*PendingView, error) {
	wireArgs, err := serial.SerializeValue(p.args, serial.Options{})
	if err != nil {
		return nil, fromSerial(err)
	}
	view := &PendingView{ActionName: p.actionName, Seat: p.seat}
	if m, ok := wireArgs.(map[string]any); ok && len(m) > 0 {
		view.Args = m
	}
	if p.next != nil {
		prompt, err := promptFromChoices(p.next)
		if err != nil {
			return nil, err
		}
		view.Next = prompt
	}
	return view, nil
}

func promptFromChoices(c *engine.Choices) (*SelectionPrompt, error) {
	prompt := &SelectionPrompt{
		Name:  c.Selection,
		Kind:  c.Kind,
		Multi: c.Multi,
		Min:   c.Min,
		Max:   c.Max,
	}
	for _, v := range c.Values {
		wire, err := serial.SerializeValue(v, serial.Options{})
		if err != nil {
			return nil, fromSerial(err)
		}
		prompt.Choices = append(prompt.Choices, wire)
	}
	for _, el := range c.Elements {
		wire, err := serial.SerializeValue(el, serial.Options{})
		if err != nil {
			return nil, fromSerial(err)
		}
		prompt.Choices = append(prompt.Choices, wire)
	}
	return prompt, nil
}

// --- state reads ---

// State returns one seat's filtered view of the live game.
func (s *Session) State(seat int) (*PlayerGameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	if seat < 0 || seat > s.game.PlayerCount() {
		return nil, NewError(CodeNotFound, "no seat %d", seat)
	}
	return s.playerStateLocked(seat), nil
}

// Flow returns the turn-flow summary.
func (s *Session) Flow() (FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return FlowState{}, ErrGameNotStarted
	}
	return s.flowLocked(), nil
}

func (s *Session) flowLocked() FlowState {
	return FlowState{
		Phase:         s.game.Phase(),
		CurrentPlayer: s.game.CurrentSeat(),
		ActionCount:   len(s.history),
		Complete:      s.game.IsComplete(),
		Winners:       s.game.Winners(),
	}
}

func (s *Session) playerStateLocked(seat int) *PlayerGameState {
	return s.playerStateOfLocked(s.game, seat, true)
}

// playerStateOfLocked renders a seat's view of an arbitrary game instance.
// live controls whether session-level extras (pending, undo) are attached;
// historical views have neither.
func (s *Session) playerStateOfLocked(g *engine.Game, seat int, live bool) *PlayerGameState {
	st := &PlayerGameState{
		GameID:      s.id,
		GameType:    s.def.GameType,
		Seat:        seat,
		Phase:       g.Phase(),
		View:        snapshot.PlayerView(g, seat),
		Events:      g.Events(),
		LastEventID: g.LastEventID(),
		ActionCount: g.ActionCount(),
	}
	for _, p := range g.Players() {
		info := PlayerInfo{Seat: p.Seat(), Name: p.Name()}
		if opts := p.Options(); len(opts) > 0 {
			info.Options = opts
		}
		if live {
			_, info.IsAI = s.aiSeats[p.Seat()]
		}
		st.Players = append(st.Players, info)
	}
	if seat > 0 && !g.IsComplete() {
		for _, name := range g.AvailableActions(seat) {
			def, _ := g.ActionDef(name)
			st.Actions = append(st.Actions, actionSchema(def))
		}
	}
	if live {
		if p, ok := s.pending.Get(seat); ok {
			if view, err := s.pendingViewLocked(p); err == nil {
				st.Pending = view
			}
		}
		st.UndoAvailable = s.undoSpanLocked(seat) > 0
	}
	return st
}

func actionSchema(def *engine.ActionDef) ActionSchema {
	schema := ActionSchema{Name: def.Name, Repeating: def.Repeating()}
	for _, sel := range def.Selections {
		schema.Selections = append(schema.Selections, SelectionSchema{
			Name:  sel.Name,
			Kind:  sel.Kind,
			Multi: sel.Multi,
			Min:   sel.Min,
			Max:   sel.Max,
		})
	}
	return schema
}

// History returns the full action log.
func (s *Session) History() *HistoryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &HistoryResult{
		GameID:  s.id,
		Actions: append([]serial.Action(nil), s.history...),
	}
}

// StateAtAction renders a seat's view as it was after the first idx actions.
// Index 0 is the initial state; the live state is read via State.
func (s *Session) StateAtAction(idx, seat int) (*PlayerGameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	if idx < 0 || idx >= len(s.history) {
		return nil, NewError(CodeOutOfRange, "action index %d outside [0, %d)", idx, len(s.history))
	}
	g, err := s.gameAtLocked(idx)
	if err != nil {
		return nil, err
	}
	return s.playerStateOfLocked(g, seat, false), nil
}

// StateDiff compares a seat's views at two points of the history. Index
// len(history) means the current state.
func (s *Session) StateDiff(from, to, seat int) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	n := len(s.history)
	if from < 0 || from > n || to < 0 || to > n {
		return nil, NewError(CodeOutOfRange, "diff range [%d, %d] outside [0, %d]", from, to, n)
	}
	a, err := s.gameAtLocked(from)
	if err != nil {
		return nil, err
	}
	b, err := s.gameAtLocked(to)
	if err != nil {
		return nil, err
	}
	return snapshot.DiffViews(snapshot.PlayerView(a, seat), snapshot.PlayerView(b, seat)), nil
}

// --- undo, rewind, restart ---

// undoSpanLocked computes how many trailing actions an undo for the seat
// would discard: the seat's trailing run plus any AI moves after it.
func (s *Session) undoSpanLocked(seat int) int {
	if s.game == nil || s.game.IsComplete() {
		return 0
	}
	i := len(s.history) - 1
	for i >= 0 {
		if _, ai := s.aiSeats[s.history[i].Player]; !ai {
			break
		}
		i--
	}
	if i < 0 || s.history[i].Player != seat {
		return 0
	}
	for i >= 0 && s.history[i].Player == seat {
		i--
	}
	return len(s.history) - 1 - i
}

// UndoToTurnStart rewinds the game to the start of the seat's most recent
// turn, discarding that turn's actions and any AI responses after them.
func (s *Session) UndoToTurnStart(seat int) (*UndoResult, error) {
	s.mu.Lock()
	res, err := s.undoLocked(seat)
	s.mu.Unlock()
	if err == nil {
		s.ai.Evaluate()
	}
	return res, err
}

func (s *Session) undoLocked(seat int) (*UndoResult, error) {
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	if s.game.IsComplete() {
		return nil, NewError(CodeGameOver, "cannot undo a finished game")
	}
	span := s.undoSpanLocked(seat)
	if span == 0 {
		return nil, ErrNothingToUndo
	}
	return s.truncateLocked(len(s.history)-span, span, seat)
}

// RewindToAction truncates the history so that exactly idx actions remain.
func (s *Session) RewindToAction(idx int) (*RewindResult, error) {
	s.mu.Lock()
	res, err := s.rewindLocked(idx)
	s.mu.Unlock()
	if err == nil {
		s.ai.Evaluate()
	}
	return res, err
}

func (s *Session) rewindLocked(idx int) (*RewindResult, error) {
	if s.game == nil {
		return nil, ErrGameNotStarted
	}
	if idx < 0 || idx > len(s.history) {
		return nil, NewError(CodeOutOfRange, "action index %d outside [0, %d]", idx, len(s.history))
	}
	discarded := len(s.history) - idx
	if discarded == 0 {
		return &RewindResult{ActionsDiscarded: 0, State: s.playerStateLocked(0)}, nil
	}
	res, err := s.truncateLocked(idx, discarded, 0)
	if err != nil {
		return nil, err
	}
	return &RewindResult{ActionsDiscarded: discarded, State: res.State}, nil
}

// truncateLocked rewinds the committed state to history length target. The
// removed suffix is kept until the persist succeeds so a storage failure
// leaves the session where it was.
func (s *Session) truncateLocked(target, span, seat int) (*UndoResult, error) {
	removed := append([]serial.Action(nil), s.history[target:]...)
	s.history = s.history[:target]
	s.checkpoints.DiscardAbove(target)
	if err := s.rebuildLocked(target); err != nil {
		s.history = append(s.history, removed...)
		return nil, err
	}
	s.pending.CancelAll()
	if err := s.commitLocked(); err != nil {
		s.history = append(s.history, removed...)
		s.rollbackLocked(len(s.history))
		return nil, err
	}
	s.broadcastLocked()
	return &UndoResult{ActionsUndone: span, State: s.playerStateLocked(seat)}, nil
}

// Restart recreates a finished game under the same id with a fresh seed.
func (s *Session) Restart() error {
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.game == nil {
			return ErrGameNotStarted
		}
		if !s.game.IsComplete() {
			return NewError(CodeConflict, "game is still in progress")
		}
		seed := uuid.NewString()
		s.opts.Seed = seed
		cfg := s.gameCfg
		cfg.Seed = seed
		if err := s.buildGame(cfg); err != nil {
			return err
		}
		s.history = nil
		s.checkpoints.Reset()
		s.pending.CancelAll()
		if err := s.commitLocked(); err != nil {
			return err
		}
		s.broadcastTypedLocked("restart")
		s.broadcastLocked()
		return nil
	}()
	if err == nil {
		s.ai.Evaluate()
	}
	return err
}

// --- connections ---

// Connect attaches a transport as a seat or spectator. Passing seat 0 with
// a known playerID reattaches to the player's own seat; unknown players
// spectate. A newer connection for the same seated player supersedes older
// ones.
func (s *Session) Connect(t Transport, playerID string, seat int) (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewError(CodeConflict, "game is closed")
	}
	if seat == 0 {
		seat = s.seatOfLocked(playerID)
	}
	if seat > 0 {
		if s.game != nil && seat > s.game.PlayerCount() {
			return nil, NewError(CodeNotFound, "no seat %d", seat)
		}
		if s.game != nil && seat <= len(s.playerIDs) {
			if held := s.playerIDs[seat-1]; held != "" && held != playerID {
				return nil, NewError(CodeForbidden, "seat %d belongs to another player", seat)
			}
		}
		for c := range s.conns {
			if c.seat == seat && c.playerID == playerID {
				c.transport.Close()
				delete(s.conns, c)
			}
		}
	}
	conn := &Conn{transport: t, playerID: playerID, seat: seat, lastSeen: time.Now()}
	s.conns[conn] = struct{}{}
	if s.lobby != nil && s.lobby.setConnected(playerID, true) {
		s.broadcastLocked()
	} else {
		s.sendLocked(conn, s.messageForLocked(conn, time.Now().UnixMilli()))
	}
	return conn, nil
}

// Disconnect detaches a connection.
func (s *Session) Disconnect(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	conn.transport.Close()
	if s.lobby == nil || conn.playerID == "" {
		return
	}
	for c := range s.conns {
		if c.playerID == conn.playerID {
			return
		}
	}
	if s.lobby.setConnected(conn.playerID, false) {
		s.broadcastLocked()
	}
}

// Ping refreshes a connection's liveness and answers with a pong.
func (s *Session) Ping(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.lastSeen = time.Now()
	s.sendLocked(conn, &ServerMessage{Type: "pong", Timestamp: time.Now().UnixMilli()})
}

// SweepIdleConns closes connections silent for longer than maxIdle.
// Returns how many were dropped.
func (s *Session) SweepIdleConns(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	dropped := 0
	for c := range s.conns {
		if c.lastSeen.Before(cutoff) {
			c.transport.Close()
			delete(s.conns, c)
			dropped++
		}
	}
	return dropped
}

// ConnCount returns the number of attached connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// broadcastLocked pushes each connection its own filtered state. Enqueueing
// happens under the lane, so every client observes mutations in commit
// order.
func (s *Session) broadcastLocked() {
	ts := time.Now().UnixMilli()
	for c := range s.conns {
		s.sendLocked(c, s.messageForLocked(c, ts))
	}
}

func (s *Session) broadcastTypedLocked(msgType string) {
	ts := time.Now().UnixMilli()
	for c := range s.conns {
		s.sendLocked(c, &ServerMessage{Type: msgType, Timestamp: ts})
	}
}

func (s *Session) messageForLocked(c *Conn, ts int64) *ServerMessage {
	m := &ServerMessage{
		Type:           "state",
		Timestamp:      ts,
		PlayerPosition: c.seat,
		IsSpectator:    c.seat == 0,
	}
	if s.game != nil {
		m.State = s.playerStateLocked(c.seat)
		f := s.flowLocked()
		m.FlowState = &f
	}
	if s.lobby != nil {
		m.Lobby = s.lobby.View(s.id)
	}
	return m
}

func (s *Session) sendLocked(c *Conn, msg *ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal server message", zap.Error(err))
		return
	}
	if err := c.transport.Send(data); err != nil {
		// A dead or saturated transport forfeits the connection.
		c.transport.Close()
		delete(s.conns, c)
	}
}

// SendState re-sends the connection its current filtered state.
func (s *Session) SendState(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(conn, s.messageForLocked(conn, time.Now().UnixMilli()))
}

// SendError pushes a coded error to one connection.
func (s *Session) SendError(conn *Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(conn, &ServerMessage{
		Type:      "error",
		Error:     err.Error(),
		ErrorCode: CodeOf(err),
		Timestamp: time.Now().UnixMilli(),
	})
}

// --- AI hooks ---

// aiTurnSnapshot clones the game for deliberation when the current seat is
// AI-held. The mutation counter pins the premises: a commit is valid only
// while it is unchanged.
func (s *Session) aiTurnSnapshot() (clone *engine.Game, seat int, level string, mut int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.game == nil || s.game.IsComplete() {
		return nil, 0, "", 0, false
	}
	seat = s.game.CurrentSeat()
	level, isAI := s.aiSeats[seat]
	if !isAI {
		return nil, 0, "", 0, false
	}
	c, err := s.game.Clone()
	if err != nil {
		s.log.Error("clone for ai failed", zap.Error(err))
		return nil, 0, "", 0, false
	}
	return c, seat, level, s.mutations, true
}

// commitAI lands a finished deliberation through the normal action path,
// unless the game moved on while the AI was thinking.
func (s *Session) commitAI(mut int, thought *aiThought) error {
	s.mu.Lock()
	var err error
	if s.mutations != mut {
		err = NewError(CodeConflict, "state changed during deliberation")
	} else {
		_, err = s.performLocked(thought.seat, thought.action, thought.args)
	}
	s.mu.Unlock()
	if err == nil {
		s.ai.Evaluate()
	}
	return err
}
