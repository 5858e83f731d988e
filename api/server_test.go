package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/matchmaking"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
	"github.com/meeplelab/parlor/game/store"
)

// auctionDef is a wire-friendly fixture: all selections are plain choices,
// so requests need no element references.
func auctionDef() *registry.Definition {
	return &registry.Definition{
		GameType:   "auction",
		MinPlayers: 2,
		MaxPlayers: 4,
		Game: &engine.Definition{
			Setup: func(g *engine.Game) error {
				g.NewElement(nil, "pot", "pot").SetAttr("total", 0)
				g.SetPhase("bidding")
				return nil
			},
			Actions: []*engine.ActionDef{
				{
					Name:     "bid",
					EndsTurn: true,
					Selections: []*engine.SelectionDef{
						{
							Name: "amount",
							Kind: engine.SelectionChoice,
							Choices: func(g *engine.Game, seat int, args map[string]any) []any {
								return []any{1, 2, 3}
							},
						},
					},
					Execute: func(g *engine.Game, seat int, args map[string]any) error {
						pot, _ := g.ElementByPath("pot")
						total, _ := pot.Attr("total")
						n := toInt(total) + toInt(args["amount"])
						pot.SetAttr("total", n)
						if n >= 10 {
							g.Finish(seat)
						}
						return nil
					},
				},
				{
					Name:     "trade",
					EndsTurn: true,
					Selections: []*engine.SelectionDef{
						{
							Name: "give",
							Kind: engine.SelectionChoice,
							Choices: func(g *engine.Game, seat int, args map[string]any) []any {
								return []any{"coal", "iron"}
							},
						},
						{
							Name: "get",
							Kind: engine.SelectionChoice,
							Choices: func(g *engine.Game, seat int, args map[string]any) []any {
								// Cannot trade a resource for itself.
								if args["give"] == "coal" {
									return []any{"iron"}
								}
								return []any{"coal"}
							},
						},
					},
					Execute: func(g *engine.Game, seat int, args map[string]any) error {
						g.Emit("traded", map[string]any{"give": args["give"], "get": args["get"]})
						return nil
					},
				},
				{Name: "pass", EndsTurn: true},
			},
		},
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(auctionDef()))
	mgr := store.NewManager(reg, store.NewMemoryBackend(), store.Config{}, nil)
	t.Cleanup(mgr.CloseAll)
	mm := matchmaking.New(reg, mgr, time.Minute, nil)
	return NewServer(reg, mgr, mm, nil, nil)
}

func do(t *testing.T, srv *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var envelope map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope), "path %s", path)
	return w.Code, envelope
}

// data asserts a success envelope; payload fields sit directly beside
// "success" in it.
func data(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	require.Equal(t, true, envelope["success"], "expected success envelope, got %v", envelope)
	return envelope
}

func createGame(t *testing.T, srv *Server, body map[string]any) string {
	t.Helper()
	if body == nil {
		body = map[string]any{"gameType": "auction", "playerCount": 2}
	}
	code, env := do(t, srv, "POST", "/api/games", body)
	require.Equal(t, http.StatusCreated, code)
	id, _ := data(t, env)["gameId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	code, env := do(t, srv, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", data(t, env)["status"])
}

func TestListGameTypes(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/game-types", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env struct {
		Success   bool            `json:"success"`
		GameTypes []registry.Info `json:"gameTypes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.True(t, env.Success)
	require.Len(t, env.GameTypes, 1)
	assert.Equal(t, "auction", env.GameTypes[0].GameType)
	assert.Equal(t, 2, env.GameTypes[0].MinPlayers)
}

func TestCreateAndGetGame(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	code, env := do(t, srv, "GET", "/api/games/"+id+"?player=1", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, env)
	state := d["state"].(map[string]any)
	assert.Equal(t, "bidding", state["phase"])
	flow := d["flowState"].(map[string]any)
	assert.EqualValues(t, 1, flow["currentPlayer"])
}

func TestCreateWithPlayerNames(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, map[string]any{
		"gameType": "auction", "playerCount": 2,
		"playerNames": []string{"A", "B"}, "playerIds": []string{"p1", "p2"},
	})

	code, env := do(t, srv, "GET", "/api/games/"+id+"?player=1", nil)
	require.Equal(t, http.StatusOK, code)
	players := data(t, env)["state"].(map[string]any)["players"].([]any)
	require.Len(t, players, 2)
	assert.Equal(t, "A", players[0].(map[string]any)["name"])
	assert.Equal(t, "B", players[1].(map[string]any)["name"])
}

func TestSuccessEnvelopeIsFlat(t *testing.T) {
	srv := newTestServer(t)
	code, env := do(t, srv, "POST", "/api/games", map[string]any{"gameType": "auction", "playerCount": 2})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, env["success"])
	assert.Contains(t, env, "gameId", "payload fields sit beside success")
	assert.NotContains(t, env, "data")
}

func TestCreateUnknownGameType(t *testing.T) {
	srv := newTestServer(t)
	code, env := do(t, srv, "POST", "/api/games", map[string]any{"gameType": "chess", "playerCount": 2})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "NOT_FOUND", env["errorCode"])
}

func TestGetMissingGame(t *testing.T) {
	srv := newTestServer(t)
	code, env := do(t, srv, "GET", "/api/games/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env["errorCode"])
}

func TestPerformAction(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	code, env := do(t, srv, "POST", "/api/games/"+id+"/action", map[string]any{
		"player": 1, "action": "bid", "args": map[string]any{"amount": 2},
	})
	require.Equal(t, http.StatusOK, code)
	flow := data(t, env)["flowState"].(map[string]any)
	assert.EqualValues(t, 2, flow["currentPlayer"])
	assert.EqualValues(t, 1, flow["actionCount"])

	// Out of turn.
	code, env = do(t, srv, "POST", "/api/games/"+id+"/action", map[string]any{
		"player": 1, "action": "bid", "args": map[string]any{"amount": 1},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ILLEGAL_ACTION", env["errorCode"])

	// Amount outside the choice set.
	code, env = do(t, srv, "POST", "/api/games/"+id+"/action", map[string]any{
		"player": 2, "action": "bid", "args": map[string]any{"amount": 7},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ARGS", env["errorCode"])
}

func TestProcessStep(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)
	start := "/api/games/" + id + "/start-action"
	step := "/api/games/" + id + "/selection-step"

	code, env := do(t, srv, "POST", start, map[string]any{"player": 1, "actionName": "trade"})
	require.Equal(t, http.StatusOK, code)
	d := data(t, env)
	assert.Equal(t, false, d["complete"])
	next := d["next"].(map[string]any)
	assert.Equal(t, "give", next["name"])

	code, env = do(t, srv, "POST", step, map[string]any{"player": 1, "selection": "give", "value": "coal"})
	require.Equal(t, http.StatusOK, code)
	next = data(t, env)["next"].(map[string]any)
	assert.Equal(t, "get", next["name"])
	choices := next["choices"].([]any)
	assert.Equal(t, []any{"iron"}, choices, "dependent choice set excludes the given resource")

	code, env = do(t, srv, "POST", step, map[string]any{"player": 1, "selection": "get", "value": "iron"})
	require.Equal(t, http.StatusOK, code)
	d = data(t, env)
	assert.Equal(t, true, d["complete"])

	// Wrong step order on a fresh pending.
	do(t, srv, "POST", start, map[string]any{"player": 2, "actionName": "trade"})
	code, env = do(t, srv, "POST", step, map[string]any{"player": 2, "selection": "get", "value": "coal"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_STEP", env["errorCode"])
}

func TestUndoAndHistory(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)
	bid := func(player, amount int) {
		code, _ := do(t, srv, "POST", "/api/games/"+id+"/action", map[string]any{
			"player": player, "action": "bid", "args": map[string]any{"amount": amount},
		})
		require.Equal(t, http.StatusOK, code)
	}
	bid(1, 2)
	bid(2, 3)

	code, env := do(t, srv, "POST", "/api/games/"+id+"/undo", map[string]any{"player": 2})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(t, env)["actionsUndone"])

	code, env = do(t, srv, "GET", "/api/games/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, code)
	actions := data(t, env)["actions"].([]any)
	require.Len(t, actions, 1)
	first := actions[0].(map[string]any)
	assert.Equal(t, "bid", first["name"])
	assert.EqualValues(t, 1, first["player"])
}

func TestTimeTravelEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)
	for i, player := range []int{1, 2, 1} {
		_ = i
		code, _ := do(t, srv, "POST", "/api/games/"+id+"/action", map[string]any{
			"player": player, "action": "bid", "args": map[string]any{"amount": 1},
		})
		require.Equal(t, http.StatusOK, code)
	}

	code, env := do(t, srv, "GET", "/api/games/"+id+"/state-at/0?player=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, data(t, env)["actionCount"])

	code, env = do(t, srv, "GET", "/api/games/"+id+"/state-at/9?player=1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "OUT_OF_RANGE", env["errorCode"])

	code, env = do(t, srv, "GET", "/api/games/"+id+"/diff?from=0&to=3&player=1", nil)
	require.Equal(t, http.StatusOK, code)
	diff := data(t, env)
	assert.NotEmpty(t, diff["changed"])

	code, env = do(t, srv, "POST", "/api/games/"+id+"/rewind", map[string]any{"actionIndex": 1})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, data(t, env)["actionsDiscarded"])
}

func TestLobbyFlow(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, map[string]any{
		"gameType": "auction", "playerCount": 2, "useLobby": true, "creatorId": "host",
	})

	code, env := do(t, srv, "GET", "/api/games/"+id+"/lobby", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(t, env)["isReady"])

	code, _ = do(t, srv, "POST", "/api/games/"+id+"/claim-position", map[string]any{
		"seat": 1, "playerId": "host", "name": "Ada",
	})
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, srv, "POST", "/api/games/"+id+"/claim-position", map[string]any{
		"seat": 2, "playerId": "guest", "name": "Ben",
	})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, "POST", "/api/games/"+id+"/set-ready", map[string]any{
		"playerId": "host", "ready": true,
	})
	require.Equal(t, http.StatusOK, code)
	code, env = do(t, srv, "POST", "/api/games/"+id+"/set-ready", map[string]any{
		"playerId": "guest", "ready": true,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, env)["isReady"], "all seats claimed and ready")

	code, env = do(t, srv, "POST", "/api/games/"+id+"/start", map[string]any{"playerId": "host"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(t, env)["started"])

	code, env = do(t, srv, "GET", "/api/games/"+id+"/lobby", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env["errorCode"])
}

func TestExplicitStartConflict(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, map[string]any{
		"gameType": "auction", "playerCount": 2, "useLobby": true, "creatorId": "host",
	})
	code, env := do(t, srv, "POST", "/api/games/"+id+"/start", map[string]any{"playerId": "host"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env["errorCode"])
}

func TestMatchmaking(t *testing.T) {
	srv := newTestServer(t)

	code, env := do(t, srv, "POST", "/api/matchmaking/join", map[string]any{
		"gameType": "auction", "playerCount": 2, "playerId": "p1", "name": "Ada",
	})
	require.Equal(t, http.StatusOK, code)
	d := data(t, env)
	assert.Equal(t, "waiting", d["state"])
	ticket := d["ticketId"].(string)

	code, env = do(t, srv, "POST", "/api/matchmaking/join", map[string]any{
		"gameType": "auction", "playerCount": 2, "playerId": "p2", "name": "Ben",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "matched", data(t, env)["state"])

	code, env = do(t, srv, "GET", "/api/matchmaking/status?ticket="+ticket, nil)
	require.Equal(t, http.StatusOK, code)
	d = data(t, env)
	assert.Equal(t, "matched", d["state"])
	gameID := d["gameId"].(string)

	code, _ = do(t, srv, "GET", "/api/games/"+gameID+"?player=1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPendingActionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	code, env := do(t, srv, "GET", "/api/games/"+id+"/pending-action?player=1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env["errorCode"])

	code, _ = do(t, srv, "POST", "/api/games/"+id+"/start-action", map[string]any{
		"player": 1, "actionName": "trade",
	})
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, srv, "GET", "/api/games/"+id+"/pending-action?player=1", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, env)
	assert.Equal(t, "trade", d["actionName"])
	assert.Equal(t, "give", d["next"].(map[string]any)["name"])

	code, _ = do(t, srv, "POST", "/api/games/"+id+"/cancel-action", map[string]any{"player": 1})
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, "GET", "/api/games/"+id+"/pending-action?player=1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSelectionChoices(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	code, env := do(t, srv, "GET",
		"/api/games/"+id+"/selection-choices?player=1&action=trade&selection=give", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, env)
	assert.Equal(t, "give", d["name"])
	assert.ElementsMatch(t, []any{"coal", "iron"}, d["choices"].([]any))

	// With the first step chosen, the dependent set narrows.
	args := url.QueryEscape(`{"give":"coal"}`)
	code, env = do(t, srv, "GET",
		"/api/games/"+id+"/selection-choices?player=1&action=trade&selection=get&args="+args, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"iron"}, data(t, env)["choices"].([]any))

	code, env = do(t, srv, "GET", "/api/games/"+id+"/selection-choices?player=1&action=trade", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ARGS", env["errorCode"])
}

func TestMatchmakingByPlayer(t *testing.T) {
	srv := newTestServer(t)

	code, _ := do(t, srv, "POST", "/api/matchmaking/join", map[string]any{
		"gameType": "auction", "playerCount": 2, "playerId": "solo", "name": "Ada",
	})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, "GET", "/api/matchmaking/status?playerId=solo", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "waiting", data(t, env)["state"])

	code, _ = do(t, srv, "POST", "/api/matchmaking/leave", map[string]any{"playerId": "solo"})
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, srv, "GET", "/api/matchmaking/status?playerId=solo", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env["errorCode"])
}

func TestDeleteGame(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	code, _ := do(t, srv, "DELETE", "/api/games/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, srv, "GET", "/api/games/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebSocketPlay(t *testing.T) {
	srv := newTestServer(t)
	id := createGame(t, srv, nil)

	ts := httptest.NewServer(srv)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + id + "?seat=1"

	c, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer c.Close()

	read := func() session.ServerMessage {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg session.ServerMessage
		require.NoError(t, c.ReadJSON(&msg))
		return msg
	}

	msg := read()
	assert.Equal(t, "state", msg.Type)
	assert.Equal(t, 1, msg.PlayerPosition)
	require.NotNil(t, msg.State)

	require.NoError(t, c.WriteJSON(map[string]any{
		"type": "action", "action": "bid", "args": map[string]any{"amount": 2},
	}))
	msg = read()
	assert.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.FlowState)
	assert.Equal(t, 2, msg.FlowState.CurrentPlayer)

	// An out-of-turn action comes back as a coded error.
	require.NoError(t, c.WriteJSON(map[string]any{
		"type": "action", "action": "bid", "args": map[string]any{"amount": 1},
	}))
	msg = read()
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, session.CodeIllegalAction, msg.ErrorCode)

	require.NoError(t, c.WriteJSON(map[string]any{"type": "ping"}))
	msg = read()
	assert.Equal(t, "pong", msg.Type)
}
