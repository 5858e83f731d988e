package session

import (
	"github.com/meeplelab/parlor/game/registry"
)

// SlotStatus is the occupancy state of one lobby slot.
type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotAI      SlotStatus = "ai"
	SlotClaimed SlotStatus = "claimed"
)

// Slot is one seat-in-waiting. Slots are positional: slot i seats player i+1
// when the game starts.
type Slot struct {
	Status        SlotStatus
	Name          string
	PlayerID      string
	AILevel       string
	Ready         bool
	Connected     bool
	PlayerOptions map[string]any
}

// Lobby is an unstarted game's seat-claiming phase. It is not internally
// synchronized; the owning session serializes all access.
type Lobby struct {
	def         *registry.Definition
	creatorID   string
	slots       []*Slot
	gameOptions map[string]any
}

// newLobby builds a lobby from creation options. Seats named in the player
// configs come pre-filled; the rest open.
func newLobby(def *registry.Definition, opts CreateOptions, gameOptions map[string]any) *Lobby {
	l := &Lobby{
		def:         def,
		creatorID:   opts.CreatorID,
		gameOptions: gameOptions,
	}
	for seat := 1; seat <= opts.PlayerCount; seat++ {
		s := &Slot{Status: SlotOpen, PlayerOptions: map[string]any{}}
		if seat-1 < len(opts.Players) {
			cfg := opts.Players[seat-1]
			s.Name = cfg.Name
			for k, v := range cfg.PlayerOptions {
				s.PlayerOptions[k] = v
			}
			if cfg.IsAI {
				s.Status = SlotAI
				s.AILevel = firstNonEmpty(cfg.AILevel, opts.AILevel)
			} else if cfg.PlayerID != "" {
				s.Status = SlotClaimed
				s.PlayerID = cfg.PlayerID
			}
		}
		l.slots = append(l.slots, s)
	}
	for _, seat := range opts.AIPlayers {
		if seat >= 1 && seat <= len(l.slots) {
			s := l.slots[seat-1]
			s.Status = SlotAI
			s.PlayerID = ""
			if s.AILevel == "" {
				s.AILevel = opts.AILevel
			}
		}
	}
	return l
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (l *Lobby) isCreator(playerID string) bool {
	return playerID != "" && playerID == l.creatorID
}

// seatOf returns the 1-indexed seat claimed by a player, or 0.
func (l *Lobby) seatOf(playerID string) int {
	if playerID == "" {
		return 0
	}
	for i, s := range l.slots {
		if s.Status == SlotClaimed && s.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

func (l *Lobby) slot(seat int) (*Slot, error) {
	if seat < 1 || seat > len(l.slots) {
		return nil, NewError(CodeNotFound, "no slot for seat %d", seat)
	}
	return l.slots[seat-1], nil
}

// ClaimSeat seats a player in an open slot. A player holds at most one seat;
// claiming a new one releases the old. The first claimer of a creator-less
// lobby becomes its creator.
func (l *Lobby) ClaimSeat(seat int, playerID, name string) error {
	if playerID == "" {
		return NewError(CodeInvalidArgs, "playerId is required to claim a seat")
	}
	s, err := l.slot(seat)
	if err != nil {
		return err
	}
	if s.Status != SlotOpen {
		return NewError(CodeConflict, "seat %d is not open", seat)
	}
	if prev := l.seatOf(playerID); prev != 0 {
		l.release(l.slots[prev-1])
	}
	s.Status = SlotClaimed
	s.PlayerID = playerID
	if name != "" {
		s.Name = name
	}
	s.Ready = false
	if l.creatorID == "" {
		l.creatorID = playerID
	}
	return nil
}

func (l *Lobby) release(s *Slot) {
	s.Status = SlotOpen
	s.PlayerID = ""
	s.Ready = false
	s.Connected = false
}

// LeaveSeat releases the player's claimed slot.
func (l *Lobby) LeaveSeat(playerID string) error {
	seat := l.seatOf(playerID)
	if seat == 0 {
		return NewError(CodeNotFound, "player holds no seat")
	}
	l.release(l.slots[seat-1])
	return nil
}

// SetReady toggles the player's readiness.
func (l *Lobby) SetReady(playerID string, ready bool) error {
	seat := l.seatOf(playerID)
	if seat == 0 {
		return NewError(CodeNotFound, "player holds no seat")
	}
	l.slots[seat-1].Ready = ready
	return nil
}

// SetName updates the player's display name.
func (l *Lobby) SetName(playerID, name string) error {
	seat := l.seatOf(playerID)
	if seat == 0 {
		return NewError(CodeNotFound, "player holds no seat")
	}
	if name == "" {
		return NewError(CodeInvalidArgs, "name must not be empty")
	}
	l.slots[seat-1].Name = name
	return nil
}

// AddSlot appends an open slot, creator only, bounded by the game's max.
func (l *Lobby) AddSlot(playerID string) error {
	if !l.isCreator(playerID) {
		return NewError(CodeForbidden, "only the creator can add slots")
	}
	if len(l.slots) >= l.def.MaxPlayers {
		return NewError(CodeConflict, "lobby already at %d slots", l.def.MaxPlayers)
	}
	l.slots = append(l.slots, &Slot{Status: SlotOpen, PlayerOptions: map[string]any{}})
	return nil
}

// RemoveSlot deletes an unclaimed slot, creator only, bounded by the game's
// min. Later seats shift down.
func (l *Lobby) RemoveSlot(playerID string, seat int) error {
	if !l.isCreator(playerID) {
		return NewError(CodeForbidden, "only the creator can remove slots")
	}
	s, err := l.slot(seat)
	if err != nil {
		return err
	}
	if s.Status == SlotClaimed {
		return NewError(CodeConflict, "seat %d is claimed", seat)
	}
	if len(l.slots) <= l.def.MinPlayers {
		return NewError(CodeConflict, "lobby needs at least %d slots", l.def.MinPlayers)
	}
	l.slots = append(l.slots[:seat-1], l.slots[seat:]...)
	return nil
}

// SetSlotAI switches a slot between AI-driven and open, creator only.
func (l *Lobby) SetSlotAI(playerID string, seat int, isAI bool, aiLevel string) error {
	if !l.isCreator(playerID) {
		return NewError(CodeForbidden, "only the creator can configure AI seats")
	}
	s, err := l.slot(seat)
	if err != nil {
		return err
	}
	if s.Status == SlotClaimed {
		return NewError(CodeConflict, "seat %d is claimed", seat)
	}
	if isAI {
		s.Status = SlotAI
		s.AILevel = aiLevel
	} else {
		s.Status = SlotOpen
		s.AILevel = ""
	}
	return nil
}

// Kick releases another player's seat, creator only. Returns the kicked
// player's id so the session can close their connections.
func (l *Lobby) Kick(playerID string, seat int) (string, error) {
	if !l.isCreator(playerID) {
		return "", NewError(CodeForbidden, "only the creator can kick")
	}
	s, err := l.slot(seat)
	if err != nil {
		return "", err
	}
	if s.Status != SlotClaimed {
		return "", NewError(CodeConflict, "seat %d is not claimed", seat)
	}
	if s.PlayerID == playerID {
		return "", NewError(CodeForbidden, "cannot kick yourself")
	}
	kicked := s.PlayerID
	l.release(s)
	return kicked, nil
}

// SetPlayerOptions updates the calling player's own seat options, enforcing
// that exclusive options (currently: color) do not collide across seats.
func (l *Lobby) SetPlayerOptions(playerID string, opts map[string]any) error {
	seat := l.seatOf(playerID)
	if seat == 0 {
		return NewError(CodeNotFound, "player holds no seat")
	}
	return l.applyPlayerOptions(seat, opts)
}

// SetSlotPlayerOptions updates any slot's options, creator only. Used to
// configure AI seats.
func (l *Lobby) SetSlotPlayerOptions(playerID string, seat int, opts map[string]any) error {
	if !l.isCreator(playerID) && l.seatOf(playerID) != seat {
		return NewError(CodeForbidden, "only the creator can configure other seats")
	}
	if _, err := l.slot(seat); err != nil {
		return err
	}
	return l.applyPlayerOptions(seat, opts)
}

func (l *Lobby) applyPlayerOptions(seat int, opts map[string]any) error {
	for name, v := range opts {
		def, ok := l.def.PlayerOptions[name]
		if !ok {
			return NewError(CodeInvalidArgs, "unknown player option %q", name)
		}
		if err := def.Validate(v); err != nil {
			return NewError(CodeInvalidArgs, "player option %q: %v", name, err)
		}
		if name == "color" {
			for i, other := range l.slots {
				if i+1 != seat && other.PlayerOptions["color"] == v {
					return NewError(CodeConflict, "color %v is already taken by seat %d", v, i+1)
				}
			}
		}
	}
	s := l.slots[seat-1]
	for name, v := range opts {
		s.PlayerOptions[name] = v
	}
	return nil
}

// SetGameOptions updates the lobby's game options, creator only.
func (l *Lobby) SetGameOptions(playerID string, opts map[string]any) error {
	if !l.isCreator(playerID) {
		return NewError(CodeForbidden, "only the creator can change game options")
	}
	if err := l.def.ValidateGameOptions(opts); err != nil {
		return NewError(CodeInvalidArgs, "%v", err)
	}
	for k, v := range opts {
		l.gameOptions[k] = v
	}
	return nil
}

// setConnected flips a claimed player's connected flag; returns true when
// the flag actually changed.
func (l *Lobby) setConnected(playerID string, connected bool) bool {
	seat := l.seatOf(playerID)
	if seat == 0 {
		return false
	}
	s := l.slots[seat-1]
	if s.Connected == connected {
		return false
	}
	s.Connected = connected
	return true
}

// IsReady reports whether the game can start: no open slots and every
// claimed player ready.
func (l *Lobby) IsReady() bool {
	if len(l.slots) < l.def.MinPlayers {
		return false
	}
	for _, s := range l.slots {
		switch s.Status {
		case SlotOpen:
			return false
		case SlotClaimed:
			if !s.Ready {
				return false
			}
		}
	}
	return true
}

// View returns the public form of the lobby.
func (l *Lobby) View(gameID string) *LobbyView {
	v := &LobbyView{
		GameID:      gameID,
		GameType:    l.def.GameType,
		State:       "waiting",
		CreatorID:   l.creatorID,
		MinPlayers:  l.def.MinPlayers,
		MaxPlayers:  l.def.MaxPlayers,
		GameOptions: l.gameOptions,
		IsReady:     l.IsReady(),
	}
	for i, s := range l.slots {
		sv := SlotView{
			Seat:      i + 1,
			Status:    s.Status,
			Name:      s.Name,
			PlayerID:  s.PlayerID,
			AILevel:   s.AILevel,
			Ready:     s.Ready,
			Connected: s.Connected,
		}
		if len(s.PlayerOptions) > 0 {
			sv.PlayerOptions = s.PlayerOptions
		}
		v.Slots = append(v.Slots, sv)
	}
	return v
}

// record captures the lobby for persistence.
func (l *Lobby) record() *LobbyRecord {
	rec := &LobbyRecord{CreatorID: l.creatorID, GameOptions: l.gameOptions}
	for _, s := range l.slots {
		rec.Slots = append(rec.Slots, SlotRecord{
			Status:        s.Status,
			Name:          s.Name,
			PlayerID:      s.PlayerID,
			AILevel:       s.AILevel,
			Ready:         s.Ready,
			PlayerOptions: s.PlayerOptions,
		})
	}
	return rec
}

// lobbyFromRecord rebuilds a lobby from its persisted form. Connected flags
// reset; connections do not survive a restart.
func lobbyFromRecord(def *registry.Definition, rec *LobbyRecord, gameOptions map[string]any) *Lobby {
	l := &Lobby{def: def, creatorID: rec.CreatorID, gameOptions: gameOptions}
	if rec.GameOptions != nil {
		l.gameOptions = rec.GameOptions
	}
	for _, sr := range rec.Slots {
		s := &Slot{
			Status:        sr.Status,
			Name:          sr.Name,
			PlayerID:      sr.PlayerID,
			AILevel:       sr.AILevel,
			Ready:         sr.Ready,
			PlayerOptions: sr.PlayerOptions,
		}
		if s.PlayerOptions == nil {
			s.PlayerOptions = map[string]any{}
		}
		l.slots = append(l.slots, s)
	}
	return l
}
