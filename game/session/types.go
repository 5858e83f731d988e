package session

import (
	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/serial"
	"github.com/meeplelab/parlor/game/snapshot"
)

// PlayerConfig configures one seat at creation time. Seats left without a
// config become open lobby slots (when a lobby is used) or default-named
// human seats (when the game starts immediately).
type PlayerConfig struct {
	Name          string         `json:"name,omitempty"`
	PlayerID      string         `json:"playerId,omitempty"`
	IsAI          bool           `json:"isAI,omitempty"`
	AILevel       string         `json:"aiLevel,omitempty"`
	PlayerOptions map[string]any `json:"playerOptions,omitempty"`
}

// CreateOptions is everything a caller can say about a new game. It is stored
// verbatim alongside the action log so a game can be rebuilt from scratch.
type CreateOptions struct {
	GameType    string         `json:"gameType"`
	PlayerCount int            `json:"playerCount"`
	Seed        string         `json:"seed,omitempty"`
	GameOptions map[string]any `json:"gameOptions,omitempty"`
	Players     []PlayerConfig `json:"players,omitempty"`
	// PlayerNames, PlayerIDs and PlayerConfigs are wire aliases for Players;
	// normalize folds them in before the session reads them.
	PlayerNames   []string       `json:"playerNames,omitempty"`
	PlayerIDs     []string       `json:"playerIds,omitempty"`
	PlayerConfigs []PlayerConfig `json:"playerConfigs,omitempty"`
	// AIPlayers lists seats driven by the built-in bot; AILevel applies to
	// all of them unless a per-seat config overrides it.
	AIPlayers []int  `json:"aiPlayers,omitempty"`
	AILevel   string `json:"aiLevel,omitempty"`
	// UseLobby defers the start: the game opens in a lobby where players
	// claim seats, instead of starting immediately.
	UseLobby  bool   `json:"useLobby,omitempty"`
	CreatorID string `json:"creatorId,omitempty"`
}

// normalize merges the per-seat alias fields into Players. Explicit Players
// entries win over the aliases on a per-field basis.
func (o *CreateOptions) normalize() {
	if len(o.Players) == 0 && len(o.PlayerConfigs) > 0 {
		o.Players = append([]PlayerConfig(nil), o.PlayerConfigs...)
	}
	grow := func(n int) {
		for len(o.Players) < n {
			o.Players = append(o.Players, PlayerConfig{})
		}
	}
	if len(o.PlayerNames) > 0 {
		grow(len(o.PlayerNames))
		for i, name := range o.PlayerNames {
			if o.Players[i].Name == "" {
				o.Players[i].Name = name
			}
		}
	}
	if len(o.PlayerIDs) > 0 {
		grow(len(o.PlayerIDs))
		for i, id := range o.PlayerIDs {
			if o.Players[i].PlayerID == "" {
				o.Players[i].PlayerID = id
			}
		}
	}
}

// FlowState is the turn-flow summary attached to every state payload.
type FlowState struct {
	Phase         string `json:"phase"`
	CurrentPlayer int    `json:"currentPlayer"`
	ActionCount   int    `json:"actionCount"`
	Complete      bool   `json:"complete"`
	Winners       []int  `json:"winners,omitempty"`
}

// PlayerInfo is the public roster entry for one seat.
type PlayerInfo struct {
	Seat    int            `json:"seat"`
	Name    string         `json:"name"`
	IsAI    bool           `json:"isAI,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// SelectionSchema describes one step of an action for clients, without the
// live choice sets (those depend on game state and prior picks).
type SelectionSchema struct {
	Name  string               `json:"name"`
	Kind  engine.SelectionKind `json:"kind"`
	Multi bool                 `json:"multi,omitempty"`
	Min   int                  `json:"min,omitempty"`
	Max   int                  `json:"max,omitempty"`
}

// ActionSchema describes one action available to a seat right now.
type ActionSchema struct {
	Name       string            `json:"name"`
	Repeating  bool              `json:"repeating,omitempty"`
	Selections []SelectionSchema `json:"selections,omitempty"`
}

// SelectionPrompt is the live choice set for the next step of a pending
// action, with choices already in wire form.
type SelectionPrompt struct {
	Name    string               `json:"name"`
	Kind    engine.SelectionKind `json:"kind"`
	Multi   bool                 `json:"multi,omitempty"`
	Min     int                  `json:"min,omitempty"`
	Max     int                  `json:"max,omitempty"`
	Choices []any                `json:"choices,omitempty"`
}

// PendingView is the wire form of a seat's in-progress multi-step action.
type PendingView struct {
	ActionName string           `json:"actionName"`
	Seat       int              `json:"seat"`
	Args       map[string]any   `json:"args,omitempty"`
	Next       *SelectionPrompt `json:"next,omitempty"`
}

// PlayerGameState is one seat's full filtered view of the game, the payload
// of state broadcasts and state reads.
type PlayerGameState struct {
	GameID         string                  `json:"gameId"`
	GameType       string                  `json:"gameType"`
	Seat           int                     `json:"seat"`
	Phase          string                  `json:"phase"`
	View           *snapshot.ViewNode      `json:"view,omitempty"`
	Players        []PlayerInfo            `json:"players,omitempty"`
	Actions        []ActionSchema          `json:"actions,omitempty"`
	Pending        *PendingView            `json:"pending,omitempty"`
	Events         []engine.AnimationEvent `json:"events,omitempty"`
	LastEventID    int                     `json:"lastEventId,omitempty"`
	ActionCount    int                     `json:"actionCount"`
	UndoAvailable  bool                    `json:"undoAvailable,omitempty"`
}

// SlotView is the public form of one lobby slot.
type SlotView struct {
	Seat          int            `json:"seat"`
	Status        SlotStatus     `json:"status"`
	Name          string         `json:"name,omitempty"`
	PlayerID      string         `json:"playerId,omitempty"`
	AILevel       string         `json:"aiLevel,omitempty"`
	Ready         bool           `json:"ready,omitempty"`
	Connected     bool           `json:"connected,omitempty"`
	PlayerOptions map[string]any `json:"playerOptions,omitempty"`
}

// LobbyView is the public form of a game's lobby.
type LobbyView struct {
	GameID      string         `json:"gameId"`
	GameType    string         `json:"gameType"`
	State       string         `json:"state"`
	CreatorID   string         `json:"creatorId,omitempty"`
	MinPlayers  int            `json:"minPlayers"`
	MaxPlayers  int            `json:"maxPlayers"`
	Slots       []SlotView     `json:"slots"`
	GameOptions map[string]any `json:"gameOptions,omitempty"`
	IsReady     bool           `json:"isReady"`
}

// ActionResult is returned by PerformAction and ProcessStep commits.
type ActionResult struct {
	State     *PlayerGameState `json:"state"`
	FlowState FlowState        `json:"flowState"`
}

// StepResult is returned by ProcessStep. Either the action committed
// (Complete true, Result set) or another selection is due (Next set).
type StepResult struct {
	Complete bool             `json:"complete"`
	Next     *SelectionPrompt `json:"next,omitempty"`
	Pending  *PendingView     `json:"pending,omitempty"`
	Result   *ActionResult    `json:"result,omitempty"`
}

// UndoResult is returned by UndoToTurnStart.
type UndoResult struct {
	ActionsUndone int              `json:"actionsUndone"`
	State         *PlayerGameState `json:"state"`
}

// RewindResult is returned by RewindToAction.
type RewindResult struct {
	ActionsDiscarded int              `json:"actionsDiscarded"`
	State            *PlayerGameState `json:"state"`
}

// HistoryResult is the full action log of a game.
type HistoryResult struct {
	GameID  string          `json:"gameId"`
	Actions []serial.Action `json:"actions"`
}

// ServerMessage is the envelope for everything the session pushes to a
// connection.
type ServerMessage struct {
	Type           string           `json:"type"`
	State          *PlayerGameState `json:"state,omitempty"`
	FlowState      *FlowState       `json:"flowState,omitempty"`
	Lobby          *LobbyView       `json:"lobby,omitempty"`
	PlayerPosition int              `json:"playerPosition,omitempty"`
	IsSpectator    bool             `json:"isSpectator,omitempty"`
	Error          string           `json:"error,omitempty"`
	ErrorCode      Code             `json:"errorCode,omitempty"`
	Timestamp      int64            `json:"timestamp,omitempty"`
}

// PersistRecord is the session's durable image, handed to the persistence
// hook after every committed mutation. History is the source of truth; the
// rest is metadata needed to rebuild without replaying client traffic.
type PersistRecord struct {
	ID           string          `json:"id"`
	GameType     string          `json:"gameType"`
	Options      CreateOptions   `json:"options"`
	Started      bool            `json:"started"`
	Complete     bool            `json:"complete"`
	History      []serial.Action `json:"history"`
	Game         *GameRecord     `json:"game,omitempty"`
	Lobby        *LobbyRecord    `json:"lobby,omitempty"`
	PlayerIDs    []string        `json:"playerIds,omitempty"`
	CreatedAtMS  int64           `json:"createdAt"`
	LastActiveMS int64           `json:"lastActive"`
}

// GameRecord captures the construction config of a started game. A lobby
// start bakes claimed names and options into the config, so the original
// CreateOptions alone cannot rebuild it.
type GameRecord struct {
	Seed          string           `json:"seed"`
	PlayerCount   int              `json:"playerCount"`
	PlayerNames   []string         `json:"playerNames,omitempty"`
	PlayerOptions []map[string]any `json:"playerOptions,omitempty"`
	GameOptions   map[string]any   `json:"gameOptions,omitempty"`
	AISeats       map[int]string   `json:"aiSeats,omitempty"`
}

// LobbyRecord is the durable form of an unstarted game's lobby.
type LobbyRecord struct {
	CreatorID   string         `json:"creatorId,omitempty"`
	Slots       []SlotRecord   `json:"slots"`
	GameOptions map[string]any `json:"gameOptions,omitempty"`
}

// SlotRecord is the durable form of one lobby slot.
type SlotRecord struct {
	Status        SlotStatus     `json:"status"`
	Name          string         `json:"name,omitempty"`
	PlayerID      string         `json:"playerId,omitempty"`
	AILevel       string         `json:"aiLevel,omitempty"`
	Ready         bool           `json:"ready,omitempty"`
	PlayerOptions map[string]any `json:"playerOptions,omitempty"`
}
