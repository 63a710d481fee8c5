package domain

import (
	"time"
)

// ReportRecord is one row in the report archive ledger.
type ReportRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	PatientID      string    `json:"patient_id"`
	ChiefComplaint string    `json:"chief_complaint,omitempty"`
	ArtifactPath   string    `json:"artifact_path"`
	StoredLocation string    `json:"stored_location"`
	CreatedAt      time.Time `json:"created_at"`
}
