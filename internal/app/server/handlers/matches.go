package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"stranger/internal/core/domain"
	"stranger/pkg/logging"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type matchView struct {
	ID        string `json:"match_id"`
	Partner   string `json:"partner"`
	GameType  string `json:"game_type"`
	CreatedAt int64  `json:"created_at"`
}

// MatchHandler serves a client's recent pairings from the match store.
type MatchHandler struct {
	repo     domain.MatchRepository
	keyParam string
}

func NewMatchHandler(repo domain.MatchRepository, keyParam string) *MatchHandler {
	return &MatchHandler{repo: repo, keyParam: keyParam}
}

func (h *MatchHandler) Recent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	clientID := r.URL.Query().Get(h.keyParam)
	if clientID == "" {
		http.Error(w, "missing "+h.keyParam+" query parameter", http.StatusBadRequest)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	matches, err := h.repo.RecentMatches(r.Context(), clientID, limit)
	if err != nil {
		log.ErrorContext(r.Context(), "match handler - recent matches failed", logging.Client(clientID), logging.Err(err))
		http.Error(w, "failed to load matches", http.StatusInternalServerError)
		return
	}
	views := make([]matchView, 0, len(matches))
	for _, m := range matches {
		partner := m.UserA
		if partner == clientID {
			partner = m.UserB
		}
		views = append(views, matchView{
			ID:        m.ID.String(),
			Partner:   partner,
			GameType:  m.GameType,
			CreatedAt: m.CreatedAt.Unix(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"client_id": clientID,
		"matches":   views,
	})
	log.InfoContext(r.Context(), "match handler - recent matches served", logging.Client(clientID), "count", len(views))
}
