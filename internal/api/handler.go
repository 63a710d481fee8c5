// Package api provides HTTP handlers for the anamnesis interview API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/anamnesis/internal/config"
	"github.com/ashureev/anamnesis/internal/session"
	"github.com/ashureev/anamnesis/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	orch *session.Orchestrator
	cfg  *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, orch *session.Orchestrator, cfg *config.Config) *Handler {
	return &Handler{repo: repo, orch: orch, cfg: cfg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// isDevelopment returns true if running in development mode.
func (h *Handler) isDevelopment() bool {
	if h.cfg == nil {
		return true
	}
	return h.cfg.IsDevelopment()
}

// answerWait bounds how long start/answer requests block for the next
// interviewer question.
func (h *Handler) answerWait() time.Duration {
	if h.cfg == nil {
		return 300 * time.Second
	}
	return h.cfg.Timeout.AnswerWait
}
