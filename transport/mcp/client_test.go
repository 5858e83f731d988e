package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meeplelab/parlor/game/session"
)

// envelope spreads a payload's fields flat beside "success", the shape the
// API emits.
func envelope(data any) map[string]any {
	out := map[string]any{"success": true}
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		panic(err)
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func callReq(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080")
	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.NotNil(t, c.httpClient)
	assert.NotNil(t, c.mcpServer)
	assert.NotNil(t, c.GetMCPServer())
}

func TestAPICallUnwrapsEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope(map[string]any{"gameId": "g1"}))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	var out map[string]any
	require.NoError(t, c.apiCall("GET", "/api/games/g1", nil, &out))
	assert.Equal(t, "g1", out["gameId"])
}

func TestAPICallSurfacesErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"success":   false,
			"error":     "not your turn",
			"errorCode": "ILLEGAL_ACTION",
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	err := c.apiCall("POST", "/api/games/g1/action", map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, "not your turn", err.Error())
}

func TestAPICallUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	err := c.apiCall("GET", "/api/game-types", nil, nil)
	assert.Error(t, err)
}

func TestHandleCreateGame(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/games", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "outpost", body["gameType"])
		assert.EqualValues(t, 2, body["playerCount"])
		assert.Equal(t, []any{float64(2)}, body["aiPlayers"])
		assert.Equal(t, "hard", body["aiLevel"])

		json.NewEncoder(w).Encode(envelope(map[string]any{
			"gameId":   "game-42",
			"gameType": "outpost",
			"flowState": session.FlowState{
				Phase:         "main",
				CurrentPlayer: 1,
			},
		}))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	result, err := c.handleCreateGame(context.Background(), callReq("create_game", map[string]interface{}{
		"game_type":    "outpost",
		"player_count": float64(2),
		"ai_seats":     []interface{}{float64(2)},
		"ai_level":     "hard",
	}))
	require.NoError(t, err)

	text := toolText(t, result)
	assert.Contains(t, text, "game-42")
	assert.Contains(t, text, "Current seat: 1")
}

func TestHandleGameState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/games/game-42", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("player"))

		json.NewEncoder(w).Encode(envelope(map[string]any{
			"state": session.PlayerGameState{
				GameID:   "game-42",
				GameType: "outpost",
				Seat:     2,
				Phase:    "main",
				Players: []session.PlayerInfo{
					{Seat: 1, Name: "Ada"},
					{Seat: 2, Name: "Bot", IsAI: true},
				},
				Actions: []session.ActionSchema{
					{Name: "pass"},
					{Name: "place", Selections: []session.SelectionSchema{
						{Name: "piece", Kind: "element"},
						{Name: "target", Kind: "element"},
					}},
				},
				ActionCount: 3,
			},
			"flowState": session.FlowState{Phase: "main", CurrentPlayer: 2, ActionCount: 3},
		}))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	result, err := c.handleGameState(context.Background(), callReq("game_state", map[string]interface{}{
		"game_id": "game-42",
		"seat":    float64(2),
	}))
	require.NoError(t, err)

	text := toolText(t, result)
	assert.Contains(t, text, "Viewing as seat 2")
	assert.Contains(t, text, "Bot (bot)")
	assert.Contains(t, text, "place(piece:element, target:element)")
	assert.Contains(t, text, "- pass")
}

func TestHandleProcessStepPrompts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope(session.StepResult{
			Complete: false,
			Next: &session.SelectionPrompt{
				Name:    "target",
				Kind:    "element",
				Choices: []any{map[string]any{"__elementId": 7}},
			},
		}))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	result, err := c.handleProcessStep(context.Background(), callReq("process_step", map[string]interface{}{
		"game_id":     "game-42",
		"seat":        float64(1),
		"action_name": "place",
	}))
	require.NoError(t, err)

	text := toolText(t, result)
	assert.Contains(t, text, `Next selection: "target"`)
	assert.Contains(t, text, "__elementId")
}

func TestHandleToolError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false, "error": `no game "nope"`, "errorCode": "NOT_FOUND",
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	result, err := c.handleGameState(context.Background(), callReq("game_state", map[string]interface{}{
		"game_id": "nope",
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestHTTPHandlerRejectsGet(t *testing.T) {
	c := NewClient("http://localhost:8080")
	h := c.HTTPHandler()

	req := httptest.NewRequest("GET", "/mcp", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHTTPHandlerListsTools(t *testing.T) {
	c := NewClient("http://localhost:8080")
	h := c.HTTPHandler()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest("POST", "/mcp", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	names := make(map[string]bool)
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"list_game_types", "create_game", "game_state", "perform_action", "process_step", "undo", "game_history"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestFormatFlow(t *testing.T) {
	text := formatFlow(&session.FlowState{Phase: "main", CurrentPlayer: 3, ActionCount: 12})
	assert.Contains(t, text, "Phase: main")
	assert.Contains(t, text, "Current seat: 3")

	text = formatFlow(&session.FlowState{Phase: "main", Complete: true, Winners: []int{2}})
	assert.Contains(t, text, "Game over")
	assert.Contains(t, text, "[2]")
}

func TestFormatPrompt(t *testing.T) {
	text := formatPrompt(&session.SelectionPrompt{
		Name:    "amount",
		Kind:    "choice",
		Multi:   true,
		Choices: []any{1, 2, 3},
	})
	assert.Contains(t, text, `"amount"`)
	assert.Contains(t, text, "multiple values allowed")
	assert.Contains(t, text, "- 1")

	assert.Equal(t, "No outstanding selection", formatPrompt(nil))
}
