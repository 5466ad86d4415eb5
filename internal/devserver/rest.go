package devserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/engine/internal/api"
)

// game is one in-memory game record backing the REST surface.
type game struct {
	id            string
	roomID        string
	status        string // waiting, active, finished
	questionID    string
	questionIndex int
	startedAt     *time.Time
	endedAt       *time.Time
	paused        bool

	players map[string]*player          // by player id
	devices map[string]string           // device id -> player id
	answers map[string]map[string]value // question id -> player id -> answer
}

type player struct {
	id          string
	displayName string
	score       int
}

type value struct {
	option *string
	ms     int64
}

func (s *Server) registerREST(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("GET /api/games/{id}", s.handleGameState)
	mux.HandleFunc("POST /api/games/{id}/players", s.handleJoinGame)
	mux.HandleFunc("POST /api/games/{id}/players/init", s.handleInitPlayer)
	mux.HandleFunc("POST /api/games/{id}/questions/start", s.handleStartQuestion)
	mux.HandleFunc("POST /api/games/{id}/questions/next", s.handleStartQuestion)
	mux.HandleFunc("POST /api/games/{id}/questions/reveal", s.handleReveal)
	mux.HandleFunc("POST /api/games/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/games/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/games/{id}/end", s.handleEnd)
	mux.HandleFunc("POST /api/games/{id}/answers", s.handleSubmitAnswer)
	mux.HandleFunc("GET /api/games/{id}/leaderboard", s.handleLeaderboard)
}

// CreateGame seeds a game directly, for tests that want a known id.
func (s *Server) CreateGame(gameID, roomID string) {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()
	s.games[gameID] = newGame(gameID, roomID)
}

func newGame(id, roomID string) *game {
	return &game{
		id:      id,
		roomID:  roomID,
		status:  "waiting",
		players: make(map[string]*player),
		devices: make(map[string]string),
		answers: make(map[string]map[string]value),
	}
}

func (s *Server) withGame(w http.ResponseWriter, r *http.Request, fn func(g *game) (int, any)) {
	id := r.PathValue("id")

	s.gamesMu.Lock()
	g, ok := s.games[id]
	if !ok {
		s.gamesMu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "game not found"})
		return
	}
	status, body := fn(g)
	s.gamesMu.Unlock()

	writeJSON(w, status, body)
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	g := newGame(uuid.NewString(), req.RoomID)

	s.gamesMu.Lock()
	s.games[g.id] = g
	s.gamesMu.Unlock()

	log.Info().Str("game_id", g.id).Str("room_id", g.roomID).Msg("game created")
	writeJSON(w, http.StatusCreated, map[string]string{"game_id": g.id, "room_id": g.roomID})
}

func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		return http.StatusOK, api.GameSnapshot{
			GameID:               g.id,
			RoomID:               g.roomID,
			Status:               g.status,
			CurrentQuestionID:    g.questionID,
			CurrentQuestionIndex: g.questionIndex,
			QuestionStartedAt:    g.startedAt,
			QuestionEndedAt:      g.endedAt,
			Paused:               g.paused,
		}
	})
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string `json:"device_id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	s.withGame(w, r, func(g *game) (int, any) {
		// Rejoining the same device hands back the prior player.
		if pid, ok := g.devices[req.DeviceID]; ok {
			p := g.players[pid]
			return http.StatusOK, api.PlayerInfo{PlayerID: p.id, DisplayName: p.displayName}
		}
		p := &player{id: uuid.NewString(), displayName: req.DisplayName}
		g.players[p.id] = p
		if req.DeviceID != "" {
			g.devices[req.DeviceID] = p.id
		}
		return http.StatusCreated, api.PlayerInfo{PlayerID: p.id, DisplayName: p.displayName}
	})
}

func (s *Server) handleInitPlayer(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		return http.StatusOK, map[string]string{"status": "ok"}
	})
}

func (s *Server) handleStartQuestion(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		if g.status == "finished" {
			return http.StatusConflict, map[string]string{"message": "game already finished"}
		}
		g.status = "active"
		g.questionID = uuid.NewString()
		g.questionIndex++
		now := time.Now()
		end := now.Add(s.config.QuestionDuration)
		g.startedAt = &now
		g.endedAt = nil
		g.paused = false

		return http.StatusOK, api.QuestionStart{
			QuestionID:    g.questionID,
			QuestionIndex: g.questionIndex,
			StartsAt:      now,
			EndsAt:        end,
		}
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string `json:"question_id"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.withGame(w, r, func(g *game) (int, any) {
		if g.questionID == "" {
			return http.StatusConflict, map[string]string{"message": "no active question"}
		}
		if req.QuestionID != "" && req.QuestionID != g.questionID {
			return http.StatusConflict, map[string]string{"message": "question already advanced"}
		}
		now := time.Now()
		g.endedAt = &now
		return http.StatusOK, map[string]string{"status": "revealed"}
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		g.paused = true
		return http.StatusOK, map[string]string{"status": "paused"}
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		g.paused = false
		return http.StatusOK, map[string]string{"status": "resumed"}
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		g.status = "finished"
		return http.StatusOK, map[string]string{"status": "finished"}
	})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req api.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	s.withGame(w, r, func(g *game) (int, any) {
		if req.QuestionID == "" || req.PlayerID == "" {
			return http.StatusBadRequest, map[string]string{"message": "question_id and player_id required"}
		}
		byPlayer := g.answers[req.QuestionID]
		if byPlayer == nil {
			byPlayer = make(map[string]value)
			g.answers[req.QuestionID] = byPlayer
		}
		// At most one submission per (player, question).
		if _, dup := byPlayer[req.PlayerID]; dup {
			return http.StatusConflict, map[string]string{"message": "already answered"}
		}
		byPlayer[req.PlayerID] = value{option: req.SelectedOption, ms: req.ResponseTimeMs}
		if p, ok := g.players[req.PlayerID]; ok && req.SelectedOption != nil {
			p.score += 100
		}
		return http.StatusAccepted, map[string]string{"status": "accepted"}
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	s.withGame(w, r, func(g *game) (int, any) {
		rows := make([]api.LeaderboardRow, 0, len(g.players))
		for _, p := range g.players {
			rows = append(rows, api.LeaderboardRow{
				PlayerID:    p.id,
				DisplayName: p.displayName,
				Score:       p.score,
			})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Score != rows[j].Score {
				return rows[i].Score > rows[j].Score
			}
			return rows[i].PlayerID < rows[j].PlayerID
		})
		for i := range rows {
			rows[i].Rank = i + 1
		}
		return http.StatusOK, rows
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
