package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/anamnesis/internal/identity"
	"github.com/go-chi/chi/v5"
)

// recentReportLimit caps how many archived reports /api/me returns.
const recentReportLimit = 10

// PatientHandler handles patient-facing metadata endpoints.
type PatientHandler struct {
	*Handler
}

// NewPatientHandler creates a new patient handler.
func NewPatientHandler(base *Handler) *PatientHandler {
	return &PatientHandler{Handler: base}
}

// RegisterRoutes registers patient metadata routes.
func (h *PatientHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current patient's identity and archived reports.
func (h *PatientHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	patientID := identity.PatientIDFromContext(r.Context())
	if patientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	patient, err := h.repo.GetPatient(r.Context(), patientID)
	if err != nil || patient == nil {
		Error(w, http.StatusUnauthorized, "patient not found")
		return
	}

	records, err := h.repo.ListReportsForPatient(r.Context(), patientID, recentReportLimit)
	if err != nil {
		slog.Error("Failed to list reports", "error", err, "patient_id", patientID)
		Error(w, http.StatusInternalServerError, "failed to load report history")
		return
	}

	reports := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		reports = append(reports, map[string]interface{}{
			"session_id":      rec.SessionID,
			"chief_complaint": rec.ChiefComplaint,
			"location":        rec.StoredLocation,
			"created_at":      rec.CreatedAt,
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"patient_id":   patient.PatientID,
		"display_name": patient.DisplayName,
		"returning":    patient.IsReturning(),
		"report_count": len(records),
		"reports":      reports,
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *PatientHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	reasonerEnabled := false
	retrievalEnabled := false
	if h.cfg != nil {
		reasonerEnabled = h.cfg.ReasonerEnabled()
		retrievalEnabled = h.cfg.RetrievalEnabled()
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"reasoner_enabled":  reasonerEnabled,
		"retrieval_enabled": retrievalEnabled,
	})
}
