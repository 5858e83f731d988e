// Package mcp exposes the game server to MCP agents. It is a thin client:
// every tool call proxies to the REST API, so agents and humans always see
// the same state.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
)

// Client proxies MCP tool calls to the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates an MCP client over the REST API at baseURL.
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Parlor Game Server",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Parlor - board game hosting over MCP

This is a thin client that proxies all requests to the REST API server.

AVAILABLE TOOLS:
- list_game_types: Game types hosted here, with player counts and options
- create_game: Start a new game (optionally against built-in bots)
- game_state: One seat's filtered view plus the actions available to it
- perform_action: Submit a complete action with all arguments at once
- process_step: Build an action one selection at a time; the response lists
  the legal values for the next selection
- undo: Roll the acting seat back to the start of its turn
- game_history: The game's full action log

Seats are numbered from 1. Use process_step when you do not know an
action's argument shape: start it with just the action name and follow
the prompts.`),
	)
	c.registerTools()
}

func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_game_types",
		Description: "List hosted game types with their player count bounds and configurable options",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListGameTypes)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_game",
		Description: "Create and start a new game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_type": map[string]interface{}{
					"type":        "string",
					"description": "One of the hosted game types",
				},
				"player_count": map[string]interface{}{
					"type":        "integer",
					"description": "Number of seats",
				},
				"ai_seats": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "integer"},
					"description": "Seats played by the built-in bot (1-based)",
				},
				"ai_level": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"easy", "medium", "hard", "expert"},
					"description": "Bot strength for all ai_seats",
				},
				"seed": map[string]interface{}{
					"type":        "string",
					"description": "Deterministic setup seed (optional)",
				},
			},
			Required: []string{"game_type", "player_count"},
		},
	}, c.handleCreateGame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_state",
		Description: "Get one seat's filtered view of a game, including the actions currently available to it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
				"seat": map[string]interface{}{
					"type":        "integer",
					"description": "Seat to view as (0 = spectator)",
				},
			},
			Required: []string{"game_id"},
		},
	}, c.handleGameState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "perform_action",
		Description: "Perform a complete action with all arguments supplied at once",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
				"seat": map[string]interface{}{
					"type":        "integer",
					"description": "Acting seat (1-based)",
				},
				"action": map[string]interface{}{
					"type":        "string",
					"description": "Action name, as listed in game_state",
				},
				"args": map[string]interface{}{
					"type":        "object",
					"description": "Action arguments keyed by selection name. Reference a board element as {\"__elementId\": n} using ids from the view",
				},
			},
			Required: []string{"game_id", "seat", "action"},
		},
	}, c.handlePerformAction)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "process_step",
		Description: "Advance an action one selection at a time. Call with action_name to begin; the response lists the legal values for the next selection. Call again with selection and value until the action commits",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
				"seat": map[string]interface{}{
					"type":        "integer",
					"description": "Acting seat (1-based)",
				},
				"action_name": map[string]interface{}{
					"type":        "string",
					"description": "Action to begin (first call only)",
				},
				"selection": map[string]interface{}{
					"type":        "string",
					"description": "Name of the selection being answered",
				},
				"value": map[string]interface{}{
					"description": "Chosen value for the selection",
				},
			},
			Required: []string{"game_id", "seat"},
		},
	}, c.handleProcessStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "undo",
		Description: "Roll a seat back to the start of its current turn",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
				"seat": map[string]interface{}{
					"type":        "integer",
					"description": "Seat requesting the undo",
				},
			},
			Required: []string{"game_id", "seat"},
		},
	}, c.handleUndo)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_history",
		Description: "Get a game's full action log",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game_id": map[string]interface{}{
					"type":        "string",
					"description": "Game ID",
				},
			},
			Required: []string{"game_id"},
		},
	}, c.handleHistory)
}

// GetMCPServer returns the underlying MCP server for serving.
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves the MCP protocol over plain HTTP POST.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)
		w.Header().Set("Content-Type", "application/json")
		data, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(data)
	})
}

// apiCall issues one REST request and unwraps the response envelope.
func (c *Client) apiCall(method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}
	// Payload fields are spread flat beside "success".
	var envelope struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("%s", envelope.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}
	if result != nil {
		return json.Unmarshal(raw, result)
	}
	return nil
}

// Tool handlers

func (c *Client) handleListGameTypes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var listing struct {
		GameTypes []registry.Info `json:"gameTypes"`
	}
	if err := c.apiCall("GET", "/api/game-types", nil, &listing); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	infos := listing.GameTypes

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Hosted game types (%d):\n\n", len(infos)))
	for _, info := range infos {
		b.WriteString(fmt.Sprintf("- %s (%d-%d players)\n", info.GameType, info.MinPlayers, info.MaxPlayers))
		for _, line := range formatOptions("game option", info.GameOptions) {
			b.WriteString("  " + line + "\n")
		}
		for _, line := range formatOptions("player option", info.PlayerOptions) {
			b.WriteString("  " + line + "\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleCreateGame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameType, _ := args["game_type"].(string)
	playerCount, _ := args["player_count"].(float64)

	body := map[string]interface{}{
		"gameType":    gameType,
		"playerCount": int(playerCount),
	}
	if seed, ok := args["seed"].(string); ok && seed != "" {
		body["seed"] = seed
	}
	if raw, ok := args["ai_seats"].([]interface{}); ok && len(raw) > 0 {
		seats := make([]int, 0, len(raw))
		for _, v := range raw {
			if n, ok := v.(float64); ok {
				seats = append(seats, int(n))
			}
		}
		body["aiPlayers"] = seats
	}
	if level, ok := args["ai_level"].(string); ok && level != "" {
		body["aiLevel"] = level
	}

	var created struct {
		GameID    string                   `json:"gameId"`
		GameType  string                   `json:"gameType"`
		State     *session.PlayerGameState `json:"state"`
		FlowState *session.FlowState       `json:"flowState"`
	}
	if err := c.apiCall("POST", "/api/games", body, &created); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created game: %s\nType: %s\n", created.GameID, created.GameType)
	if created.FlowState != nil {
		result += "\n" + formatFlow(created.FlowState)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameID, _ := args["game_id"].(string)
	seat := 0
	if n, ok := args["seat"].(float64); ok {
		seat = int(n)
	}

	var payload struct {
		State     *session.PlayerGameState `json:"state"`
		FlowState *session.FlowState       `json:"flowState"`
	}
	err := c.apiCall("GET", fmt.Sprintf("/api/games/%s?player=%d", gameID, seat), nil, &payload)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatState(payload.State, payload.FlowState)), nil
}

func (c *Client) handlePerformAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameID, _ := args["game_id"].(string)
	seat, _ := args["seat"].(float64)
	action, _ := args["action"].(string)
	actionArgs, _ := args["args"].(map[string]interface{})

	body := map[string]interface{}{
		"player": int(seat),
		"action": action,
		"args":   actionArgs,
	}

	var result session.ActionResult
	err := c.apiCall("POST", fmt.Sprintf("/api/games/%s/action", gameID), body, &result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	response := fmt.Sprintf("Performed %q\n\n", action)
	response += formatState(result.State, &result.FlowState)
	return mcp.NewToolResultText(response), nil
}

func (c *Client) handleProcessStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameID, _ := args["game_id"].(string)
	seat, _ := args["seat"].(float64)

	body := map[string]interface{}{"player": int(seat)}
	path := fmt.Sprintf("/api/games/%s/start-action", gameID)
	if name, ok := args["action_name"].(string); ok && name != "" {
		body["actionName"] = name
	}
	if sel, ok := args["selection"].(string); ok && sel != "" {
		body["selection"] = sel
		body["value"] = args["value"]
		path = fmt.Sprintf("/api/games/%s/selection-step", gameID)
	}

	var result session.StepResult
	err := c.apiCall("POST", path, body, &result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if result.Complete {
		response := "Action committed.\n\n"
		if result.Result != nil {
			response += formatState(result.Result.State, &result.Result.FlowState)
		}
		return mcp.NewToolResultText(response), nil
	}
	return mcp.NewToolResultText(formatPrompt(result.Next)), nil
}

func (c *Client) handleUndo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameID, _ := args["game_id"].(string)
	seat, _ := args["seat"].(float64)

	var result session.UndoResult
	err := c.apiCall("POST", fmt.Sprintf("/api/games/%s/undo", gameID), map[string]interface{}{
		"player": int(seat),
	}, &result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	response := fmt.Sprintf("Undid %d action(s)\n\n", result.ActionsUndone)
	response += formatState(result.State, nil)
	return mcp.NewToolResultText(response), nil
}

func (c *Client) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	gameID, _ := args["game_id"].(string)

	var history session.HistoryResult
	err := c.apiCall("GET", fmt.Sprintf("/api/games/%s/history", gameID), nil, &history)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Action log for %s (%d actions):\n\n", history.GameID, len(history.Actions)))
	for i, a := range history.Actions {
		argsJSON := ""
		if len(a.Args) > 0 {
			if data, err := json.Marshal(a.Args); err == nil {
				argsJSON = " " + string(data)
			}
		}
		b.WriteString(fmt.Sprintf("%d. seat %d: %s%s\n", i, a.Player, a.Name, argsJSON))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Formatting helpers

func formatOptions(label string, opts map[string]registry.OptionDef) []string {
	if len(opts) == 0 {
		return nil
	}
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		def := opts[name]
		switch def.Kind {
		case registry.OptionNumber:
			out = append(out, fmt.Sprintf("%s %q: number in [%d, %d], default %v", label, name, def.Min, def.Max, def.Default))
		case registry.OptionSelect:
			out = append(out, fmt.Sprintf("%s %q: one of %v, default %v", label, name, def.Choices, def.Default))
		default:
			out = append(out, fmt.Sprintf("%s %q: %s, default %v", label, name, def.Kind, def.Default))
		}
	}
	return out
}

func formatFlow(flow *session.FlowState) string {
	if flow == nil {
		return ""
	}
	if flow.Complete {
		return fmt.Sprintf("Phase: %s | Game over, winners: %v", flow.Phase, flow.Winners)
	}
	return fmt.Sprintf("Phase: %s | Current seat: %d | Actions played: %d",
		flow.Phase, flow.CurrentPlayer, flow.ActionCount)
}

func formatState(state *session.PlayerGameState, flow *session.FlowState) string {
	if state == nil {
		return "No game state available"
	}
	var b strings.Builder
	if flow != nil {
		b.WriteString(formatFlow(flow) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("Phase: %s | Actions played: %d\n", state.Phase, state.ActionCount))
	}
	b.WriteString(fmt.Sprintf("Viewing as seat %d\n", state.Seat))

	if len(state.Players) > 0 {
		b.WriteString("\nPlayers:\n")
		for _, p := range state.Players {
			tag := ""
			if p.IsAI {
				tag = " (bot)"
			}
			b.WriteString(fmt.Sprintf("- seat %d: %s%s\n", p.Seat, p.Name, tag))
		}
	}

	if len(state.Actions) > 0 {
		b.WriteString("\nAvailable actions:\n")
		for _, a := range state.Actions {
			if len(a.Selections) == 0 {
				b.WriteString(fmt.Sprintf("- %s\n", a.Name))
				continue
			}
			parts := make([]string, len(a.Selections))
			for i, sel := range a.Selections {
				parts[i] = fmt.Sprintf("%s:%s", sel.Name, sel.Kind)
			}
			b.WriteString(fmt.Sprintf("- %s(%s)\n", a.Name, strings.Join(parts, ", ")))
		}
	}

	if state.Pending != nil {
		b.WriteString(fmt.Sprintf("\nPending action: %s\n", state.Pending.ActionName))
		if state.Pending.Next != nil {
			b.WriteString(formatPrompt(state.Pending.Next))
		}
	}

	if state.View != nil {
		b.WriteString("\nBoard:\n")
		if data, err := json.MarshalIndent(state.View, "", "  "); err == nil {
			b.Write(data)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatPrompt(next *session.SelectionPrompt) string {
	if next == nil {
		return "No outstanding selection"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Next selection: %q (%s)", next.Name, next.Kind))
	if next.Multi {
		b.WriteString(" [multiple values allowed]")
	}
	b.WriteString("\n")
	if len(next.Choices) > 0 {
		b.WriteString("Legal values:\n")
		for _, v := range next.Choices {
			if data, err := json.Marshal(v); err == nil {
				b.WriteString("- " + string(data) + "\n")
			} else {
				b.WriteString(fmt.Sprintf("- %v\n", v))
			}
		}
	}
	return b.String()
}
