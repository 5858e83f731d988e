package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/session"
	"github.com/meeplelab/parlor/transport/websocket"
)

var upgrader = gws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is everything a websocket peer may send.
type clientMessage struct {
	Type string `json:"type"`

	// Play
	Action      string         `json:"action,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	ActionName  string         `json:"actionName,omitempty"`
	Selection   string         `json:"selection,omitempty"`
	Value       any            `json:"value,omitempty"`
	InitialArgs map[string]any `json:"initialArgs,omitempty"`

	// Lobby
	Seat          int            `json:"seat,omitempty"`
	Name          string         `json:"name,omitempty"`
	Ready         bool           `json:"ready"`
	IsAI          bool           `json:"isAI,omitempty"`
	AILevel       string         `json:"aiLevel,omitempty"`
	PlayerOptions map[string]any `json:"playerOptions,omitempty"`
	GameOptions   map[string]any `json:"gameOptions,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	q := r.URL.Query()
	playerID := q.Get("playerId")
	seat := 0
	for _, key := range []string{"player", "seat"} {
		if raw := q.Get(key); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				seat = n
				break
			}
		}
	}
	if q.Get("spectator") == "true" {
		seat = 0
		playerID = ""
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client := websocket.NewClient(wsConn, s.log)

	conn, err := g.Connect(client, playerID, seat)
	if err != nil {
		data, _ := json.Marshal(session.ServerMessage{
			Type:      "error",
			Error:     err.Error(),
			ErrorCode: session.CodeOf(err),
		})
		client.Send(data)
		client.Close()
		go client.WritePump()
		return
	}

	go client.WritePump()
	go client.ReadPump(
		func(data []byte) { s.dispatch(g, conn, data) },
		func() { g.Disconnect(conn) },
	)
}

// dispatch routes one inbound websocket message. The acting seat is always
// the connection's own and lobby operations act as the connection's player;
// a spectator's mutating messages fail in validation.
func (s *Server) dispatch(g *session.Session, conn *session.Conn, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.SendError(conn, session.NewError(session.CodeInvalidArgs, "invalid message: %v", err))
		return
	}
	seat := conn.Seat()
	playerID := conn.PlayerID()
	var err error
	switch msg.Type {
	case "action":
		_, err = g.PerformAction(seat, msg.Action, msg.Args)
	case "step":
		_, err = g.Step(seat, msg.ActionName, msg.Selection, msg.Value, msg.InitialArgs)
	case "cancelPending":
		err = g.CancelPending(seat)
	case "undo":
		_, err = g.UndoToTurnStart(seat)
	case "ping":
		g.Ping(conn)
	case "getState", "getLobby":
		g.SendState(conn)
	case "claimSeat":
		err = g.ClaimSeat(msg.Seat, playerID, msg.Name)
	case "leaveSeat":
		err = g.LeaveSeat(playerID)
	case "setReady":
		err = g.SetReady(playerID, msg.Ready)
	case "updateName":
		err = g.SetName(playerID, msg.Name)
	case "addSlot":
		err = g.AddSlot(playerID)
	case "removeSlot":
		err = g.RemoveSlot(playerID, msg.Seat)
	case "setSlotAI":
		err = g.SetSlotAI(playerID, msg.Seat, msg.IsAI, msg.AILevel)
	case "kickPlayer":
		err = g.Kick(playerID, msg.Seat)
	case "updatePlayerOptions":
		err = g.SetPlayerOptions(playerID, msg.PlayerOptions)
	case "updateSlotPlayerOptions":
		err = g.SetSlotPlayerOptions(playerID, msg.Seat, msg.PlayerOptions)
	case "updateGameOptions":
		err = g.SetGameOptions(playerID, msg.GameOptions)
	default:
		err = session.NewError(session.CodeInvalidArgs, "unknown message type %q", msg.Type)
	}
	if err != nil {
		g.SendError(conn, err)
	}
}
