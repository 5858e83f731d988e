// Package api exposes the game server over HTTP: REST endpoints for game
// lifecycle, actions, history and matchmaking, plus the websocket upgrade
// for live play.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/matchmaking"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/session"
	"github.com/meeplelab/parlor/game/store"
)

// Server is the REST and websocket surface.
type Server struct {
	registry   *registry.Registry
	manager    *store.Manager
	matchmaker *matchmaking.Matchmaker
	router     *mux.Router
	log        *zap.Logger
	mcp        http.Handler
	started    time.Time
}

// NewServer creates the API server. mcpHandler is optional; when non-nil it
// is mounted at /mcp.
func NewServer(reg *registry.Registry, mgr *store.Manager, mm *matchmaking.Matchmaker, mcpHandler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		registry:   reg,
		manager:    mgr,
		matchmaker: mm,
		router:     mux.NewRouter(),
		log:        log,
		mcp:        mcpHandler,
		started:    time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Catalog
	api.HandleFunc("/game-types", s.handleListGameTypes).Methods("GET")

	// Game lifecycle
	api.HandleFunc("/games", s.handleCreateGame).Methods("POST")
	api.HandleFunc("/games", s.handleListGames).Methods("GET")
	api.HandleFunc("/games/{id}", s.handleGetGame).Methods("GET")
	api.HandleFunc("/games/{id}", s.handleDeleteGame).Methods("DELETE")
	api.HandleFunc("/games/{id}/start", s.handleStartGame).Methods("POST")
	api.HandleFunc("/games/{id}/restart", s.handleRestartGame).Methods("POST")

	// Play
	api.HandleFunc("/games/{id}/action", s.handlePerformAction).Methods("POST")
	api.HandleFunc("/games/{id}/undo", s.handleUndo).Methods("POST")

	// Multi-step actions
	api.HandleFunc("/games/{id}/start-action", s.handleStartAction).Methods("POST")
	api.HandleFunc("/games/{id}/selection-step", s.handleSelectionStep).Methods("POST")
	api.HandleFunc("/games/{id}/cancel-action", s.handleCancelAction).Methods("POST")
	api.HandleFunc("/games/{id}/pending-action", s.handleGetPendingAction).Methods("GET")
	api.HandleFunc("/games/{id}/selection-choices", s.handleSelectionChoices).Methods("GET")

	// History and time travel
	api.HandleFunc("/games/{id}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/games/{id}/state-at/{index}", s.handleStateAt).Methods("GET")
	api.HandleFunc("/games/{id}/diff", s.handleStateDiff).Methods("GET")
	api.HandleFunc("/games/{id}/rewind", s.handleRewind).Methods("POST")

	// Lobby
	api.HandleFunc("/games/{id}/lobby", s.handleGetLobby).Methods("GET")
	api.HandleFunc("/games/{id}/claim-position", s.handleClaimSeat).Methods("POST")
	api.HandleFunc("/games/{id}/leave-position", s.handleLeaveSeat).Methods("POST")
	api.HandleFunc("/games/{id}/set-ready", s.handleSetReady).Methods("POST")
	api.HandleFunc("/games/{id}/update-name", s.handleSetName).Methods("POST")
	api.HandleFunc("/games/{id}/add-slot", s.handleAddSlot).Methods("POST")
	api.HandleFunc("/games/{id}/remove-slot", s.handleRemoveSlot).Methods("POST")
	api.HandleFunc("/games/{id}/set-slot-ai", s.handleSetSlotAI).Methods("POST")
	api.HandleFunc("/games/{id}/kick-player", s.handleKick).Methods("POST")
	api.HandleFunc("/games/{id}/game-options", s.handleSetGameOptions).Methods("POST")
	api.HandleFunc("/games/{id}/player-options", s.handleSetPlayerOptions).Methods("POST")
	api.HandleFunc("/games/{id}/slot-player-options", s.handleSetSlotPlayerOptions).Methods("POST")

	// Matchmaking
	api.HandleFunc("/matchmaking/join", s.handleMatchJoin).Methods("POST")
	api.HandleFunc("/matchmaking/leave", s.handleMatchLeave).Methods("POST")
	api.HandleFunc("/matchmaking/status", s.handleMatchStatus).Methods("GET")

	// Live play
	s.router.HandleFunc("/ws/{id}", s.handleWebSocket)

	if s.mcp != nil {
		s.router.Handle("/mcp", s.mcp).Methods("POST")
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers

// respondJSON spreads the payload's fields into the success envelope, so
// clients read them at the top level next to "success".
func respondJSON(w http.ResponseWriter, status int, data any) {
	body := map[string]any{"success": true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			respondError(w, session.NewError(session.CodeInternal, "encode response: %v", err))
			return
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			respondError(w, session.NewError(session.CodeInternal, "response payload is not an object"))
			return
		}
		for k, v := range fields {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	code := session.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(map[string]any{
		"success":   false,
		"error":     err.Error(),
		"errorCode": code,
	})
}

func statusFor(code session.Code) int {
	switch code {
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeConflict, session.CodeGameOver, session.CodeIllegalAction:
		return http.StatusConflict
	case session.CodeForbidden:
		return http.StatusForbidden
	case session.CodeInvalidArgs, session.CodeInvalidStep, session.CodeOutOfRange:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, into any) error {
	if r.Body == nil {
		return session.NewError(session.CodeInvalidArgs, "request body required")
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return session.NewError(session.CodeInvalidArgs, "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) game(r *http.Request) (*session.Session, error) {
	return s.manager.Get(mux.Vars(r)["id"])
}

// seatFromQuery resolves the acting seat: an explicit player query
// parameter wins, otherwise the playerId is looked up.
func seatFromQuery(r *http.Request, g *session.Session) int {
	if raw := r.URL.Query().Get("player"); raw != "" {
		if seat, err := strconv.Atoi(raw); err == nil {
			return seat
		}
	}
	return g.SeatOf(r.URL.Query().Get("playerId"))
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"games":    s.manager.Count(),
		"uptimeMs": time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) handleListGameTypes(w http.ResponseWriter, r *http.Request) {
	out := []registry.Info{}
	for _, def := range s.registry.List() {
		out = append(out, def.Info())
	}
	respondJSON(w, http.StatusOK, map[string]any{"gameTypes": out})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var opts session.CreateOptions
	if err := decode(r, &opts); err != nil {
		respondError(w, err)
		return
	}
	g, err := s.manager.Create(opts)
	if err != nil {
		respondError(w, err)
		return
	}
	out := map[string]any{"gameId": g.ID(), "gameType": g.GameType()}
	if g.Started() {
		seat := g.SeatOf(opts.CreatorID)
		if st, err := g.State(seat); err == nil {
			out["state"] = st
		}
		if flow, err := g.Flow(); err == nil {
			out["flowState"] = flow
		}
	} else if lobby, err := g.LobbyView(); err == nil {
		out["lobby"] = lobby
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	type summary struct {
		GameID   string `json:"gameId"`
		GameType string `json:"gameType"`
		Started  bool   `json:"started"`
		Conns    int    `json:"connections"`
	}
	out := []summary{}
	for _, g := range s.manager.List() {
		out = append(out, summary{
			GameID:   g.ID(),
			GameType: g.GameType(),
			Started:  g.Started(),
			Conns:    g.ConnCount(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"games": out})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if !g.Started() {
		lobby, err := g.LobbyView()
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"lobby": lobby})
		return
	}
	st, err := g.State(seatFromQuery(r, g))
	if err != nil {
		respondError(w, err)
		return
	}
	flow, _ := g.Flow()
	respondJSON(w, http.StatusOK, map[string]any{"state": st, "flowState": flow})
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := g.Start(req.PlayerID); err != nil {
		respondError(w, err)
		return
	}
	flow, _ := g.Flow()
	respondJSON(w, http.StatusOK, map[string]any{"started": true, "flowState": flow})
}

func (s *Server) handleRestartGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := g.Restart(); err != nil {
		respondError(w, err)
		return
	}
	flow, _ := g.Flow()
	respondJSON(w, http.StatusOK, map[string]any{"restarted": true, "flowState": flow})
}

func (s *Server) handlePerformAction(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Player int            `json:"player"`
		Action string         `json:"action"`
		Args   map[string]any `json:"args"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := g.PerformAction(req.Player, req.Action, req.Args)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStartAction(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Player      int            `json:"player"`
		ActionName  string         `json:"actionName"`
		InitialArgs map[string]any `json:"initialArgs"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := g.Step(req.Player, req.ActionName, "", nil, req.InitialArgs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSelectionStep(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Player      int            `json:"player"`
		ActionName  string         `json:"actionName"`
		Selection   string         `json:"selection"`
		Value       any            `json:"value"`
		InitialArgs map[string]any `json:"initialArgs"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := g.Step(req.Player, req.ActionName, req.Selection, req.Value, req.InitialArgs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Player int `json:"player"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := g.CancelPending(req.Player); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleGetPendingAction(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	view, err := g.Pending(seatFromQuery(r, g))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleSelectionChoices answers what values a selection currently accepts.
// Partial arguments arrive JSON-encoded in the args query parameter.
func (s *Server) handleSelectionChoices(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	q := r.URL.Query()
	action := q.Get("action")
	selection := q.Get("selection")
	if action == "" || selection == "" {
		respondError(w, session.NewError(session.CodeInvalidArgs, "action and selection query parameters are required"))
		return
	}
	var args map[string]any
	if raw := q.Get("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			respondError(w, session.NewError(session.CodeInvalidArgs, "invalid args: %v", err))
			return
		}
	}
	prompt, err := g.SelectionChoices(seatFromQuery(r, g), action, selection, args)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		Player int `json:"player"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := g.UndoToTurnStart(req.Player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, g.History())
}

func (s *Server) handleStateAt(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, session.NewError(session.CodeInvalidArgs, "invalid action index"))
		return
	}
	st, err := g.StateAtAction(idx, seatFromQuery(r, g))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStateDiff(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	q := r.URL.Query()
	from, err1 := strconv.Atoi(q.Get("from"))
	to, err2 := strconv.Atoi(q.Get("to"))
	if err1 != nil || err2 != nil {
		respondError(w, session.NewError(session.CodeInvalidArgs, "from and to query parameters are required"))
		return
	}
	diff, err := g.StateDiff(from, to, seatFromQuery(r, g))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, diff)
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req struct {
		ActionIndex int `json:"actionIndex"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := g.RewindToAction(req.ActionIndex)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
