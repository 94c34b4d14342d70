package scores

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Service exposes the leaderboard over plain HTTP, matching the JSON shapes
// the web client consumes.
type Service struct {
	app *App
}

// NewService creates a new scores Service.
func NewService(app *App) *Service {
	return &Service{
		app: app,
	}
}

// HandleLeaderboard serves GET /api/leaderboard.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	top, err := s.app.TopScores(r.Context(), n)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch leaderboard")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, top)
}

// HandleCreateScore serves POST /api/scores.
func (s *Service) HandleCreateScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	score, err := s.app.RecordScore(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("username", score.Username).
		Float64("wpm", score.WPM).
		Msg("score recorded")

	writeJSON(w, http.StatusCreated, score)
}

// RegisterRoutes registers the leaderboard routes with an HTTP mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/leaderboard", s.HandleLeaderboard)
	mux.HandleFunc("/api/scores", s.HandleCreateScore)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
