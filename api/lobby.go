package api

import (
	"net/http"

	"github.com/meeplelab/parlor/game/matchmaking"
	"github.com/meeplelab/parlor/game/session"
)

func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	view, err := g.LobbyView()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// lobbyHandler wraps the shared decode-act-respond shape of lobby mutations.
func (s *Server) lobbyHandler(w http.ResponseWriter, r *http.Request, req any, act func(g *session.Session) error) {
	g, err := s.game(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if req != nil {
		if err := decode(r, req); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := act(g); err != nil {
		respondError(w, err)
		return
	}
	view, err := g.LobbyView()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleClaimSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seat     int    `json:"seat"`
		PlayerID string `json:"playerId"`
		Name     string `json:"name"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.ClaimSeat(req.Seat, req.PlayerID, req.Name)
	})
}

func (s *Server) handleLeaveSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.LeaveSeat(req.PlayerID)
	})
}

func (s *Server) handleSetReady(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Ready    bool   `json:"ready"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetReady(req.PlayerID, req.Ready)
	})
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Name     string `json:"name"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetName(req.PlayerID, req.Name)
	})
}

func (s *Server) handleAddSlot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.AddSlot(req.PlayerID)
	})
}

func (s *Server) handleRemoveSlot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Seat     int    `json:"seat"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.RemoveSlot(req.PlayerID, req.Seat)
	})
}

func (s *Server) handleSetSlotAI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Seat     int    `json:"seat"`
		IsAI     bool   `json:"isAI"`
		AILevel  string `json:"aiLevel"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetSlotAI(req.PlayerID, req.Seat, req.IsAI, req.AILevel)
	})
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Seat     int    `json:"seat"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.Kick(req.PlayerID, req.Seat)
	})
}

func (s *Server) handleSetGameOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string         `json:"playerId"`
		Options  map[string]any `json:"options"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetGameOptions(req.PlayerID, req.Options)
	})
}

func (s *Server) handleSetPlayerOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string         `json:"playerId"`
		Options  map[string]any `json:"options"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetPlayerOptions(req.PlayerID, req.Options)
	})
}

func (s *Server) handleSetSlotPlayerOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string         `json:"playerId"`
		Seat     int            `json:"seat"`
		Options  map[string]any `json:"options"`
	}
	s.lobbyHandler(w, r, &req, func(g *session.Session) error {
		return g.SetSlotPlayerOptions(req.PlayerID, req.Seat, req.Options)
	})
}

func (s *Server) handleMatchJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameType    string `json:"gameType"`
		PlayerCount int    `json:"playerCount"`
		PlayerID    string `json:"playerId"`
		Name        string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	st, err := s.matchmaker.Join(req.GameType, req.PlayerCount, req.PlayerID, req.Name)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleMatchStatus looks up a ticket by id or, failing that, by player.
func (s *Server) handleMatchStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var st *matchmaking.Status
	var err error
	if ticket := q.Get("ticket"); ticket != "" {
		st, err = s.matchmaker.Status(ticket)
	} else {
		st, err = s.matchmaker.StatusByPlayer(q.Get("playerId"))
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleMatchLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticket   string `json:"ticket"`
		PlayerID string `json:"playerId"`
	}
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	var err error
	if req.Ticket != "" {
		err = s.matchmaker.Leave(req.Ticket)
	} else {
		err = s.matchmaker.LeaveByPlayer(req.PlayerID)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"left": true})
}
