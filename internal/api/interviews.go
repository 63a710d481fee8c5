package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/anamnesis/internal/identity"
	"github.com/ashureev/anamnesis/internal/session"
	"github.com/go-chi/chi/v5"
)

// maxAnswerBodySize caps answer payloads; interview answers are short free
// text, not documents.
const maxAnswerBodySize = 64 << 10

// InterviewHandler handles interview lifecycle endpoints.
type InterviewHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewInterviewHandler creates interview endpoints backed by the orchestrator.
func NewInterviewHandler(base *Handler) *InterviewHandler {
	limit := 20
	window := time.Minute
	if base.cfg != nil {
		limit = base.cfg.RateLimit.RequestsPerWindow
		window = base.cfg.RateLimit.WindowDuration
	}
	return &InterviewHandler{
		Handler: base,
		limiter: NewRateLimiter(limit, window),
	}
}

// Close releases handler resources.
func (h *InterviewHandler) Close() {
	h.limiter.Close()
}

// RegisterRoutes registers interview routes.
func (h *InterviewHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/interviews/{sessionID}", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/answer", h.Answer)
		r.Get("/", h.Status)
		r.Delete("/", h.Abandon)
		r.Get("/watch", h.Watch)
	})
}

type answerRequest struct {
	Message string `json:"message"`
}

// requestIdentity pulls the patient and validated session ID from the
// request, writing the error response when either is missing.
func (h *InterviewHandler) requestIdentity(w http.ResponseWriter, r *http.Request) (patientID, sessionID string, ok bool) {
	patientID = identity.PatientIDFromContext(r.Context())
	if patientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	sessionID = chi.URLParam(r, "sessionID")
	if !identity.ValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return "", "", false
	}
	return patientID, sessionID, true
}

// ownedSession fetches a live session belonging to this patient. Unknown and
// foreign sessions both read as not found so IDs cannot be probed.
func (h *InterviewHandler) ownedSession(w http.ResponseWriter, patientID, sessionID string) (*session.Session, bool) {
	sess, ok := h.orch.Registry().Get(sessionID)
	if !ok || sess.PatientID != patientID {
		Error(w, http.StatusNotFound, "interview not found")
		return nil, false
	}
	return sess, true
}

// Start gets or creates the interview session, starts its worker exactly
// once, and blocks until the interviewer's current question is available.
func (h *InterviewHandler) Start(w http.ResponseWriter, r *http.Request) {
	patientID, sessionID, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	if existing, found := h.orch.Registry().Get(sessionID); found && existing.PatientID != patientID {
		Error(w, http.StatusNotFound, "interview not found")
		return
	}

	sess, started := h.orch.Start(sessionID, patientID)
	if sess.PatientID != patientID {
		// Lost a creation race to another patient claiming the same ID.
		Error(w, http.StatusNotFound, "interview not found")
		return
	}
	if started {
		slog.Info("Interview started", "session_id", sessionID, "patient_id", patientID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.answerWait())
	defer cancel()

	question, _, err := sess.Broker.AwaitQuestion(ctx, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		Error(w, http.StatusGatewayTimeout, "timed out waiting for question")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"status":     sess.Status(),
		"question":   question,
	})
}

// Answer delivers the patient's message to the interview worker and blocks
// until the next question or the closing notice.
func (h *InterviewHandler) Answer(w http.ResponseWriter, r *http.Request) {
	patientID, sessionID, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}
	sess, ok := h.ownedSession(w, patientID, sessionID)
	if !ok {
		return
	}

	if !sess.Started() {
		Error(w, http.StatusConflict, "interview not started")
		return
	}

	// Rate-limit by patient ID alone so rotating session IDs cannot bypass
	// throttling.
	if !h.limiter.Allow(patientID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAnswerBodySize)
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	// Capture the current question sequence before delivering so the wait
	// below wakes only for the question that follows this answer.
	_, since := sess.Broker.Question()
	sess.Deliver(message)
	slog.Info("Answer delivered",
		"session_id", sessionID,
		"patient_id", patientID,
		"message_length", len(message),
	)

	ctx, cancel := context.WithTimeout(r.Context(), h.answerWait())
	defer cancel()

	question, _, err := sess.Broker.AwaitQuestion(ctx, since)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// The worker is left intact; the client can poll status or retry.
		Error(w, http.StatusGatewayTimeout, "timed out waiting for question")
		return
	}

	status := sess.Status()
	resp := map[string]interface{}{
		"status":   status,
		"question": question,
	}
	if status == session.StatusCompleted {
		if loc := sess.ReportLocation(); loc != "" {
			resp["report_location"] = loc
		}
	}
	JSON(w, http.StatusOK, resp)
}

// Status returns a point-in-time snapshot of the interview.
func (h *InterviewHandler) Status(w http.ResponseWriter, r *http.Request) {
	patientID, sessionID, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}
	sess, ok := h.ownedSession(w, patientID, sessionID)
	if !ok {
		return
	}

	question, _ := sess.Broker.Question()
	status := sess.Status()
	resp := map[string]interface{}{
		"session_id": sessionID,
		"status":     status,
		"question":   question,
		"turns":      sess.Turns(),
		"started":    sess.Started(),
	}
	if status == session.StatusCompleted {
		if loc := sess.ReportLocation(); loc != "" {
			resp["report_location"] = loc
		}
	}
	JSON(w, http.StatusOK, resp)
}

// Abandon cancels the interview worker and cleans the session up. Abandoning
// an unknown interview is a no-op.
func (h *InterviewHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	patientID, sessionID, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}

	sess, found := h.orch.Registry().Get(sessionID)
	if !found || sess.PatientID != patientID {
		JSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
		return
	}

	h.orch.Abandon(sess, "patient request")
	slog.Info("Interview abandoned by patient", "session_id", sessionID, "patient_id", patientID)
	JSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}
