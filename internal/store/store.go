// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/anamnesis/internal/domain"
)

// Repository defines the interface for persisting patient, interview and
// report data.
type Repository interface {
	// GetPatient retrieves a patient by their patient ID.
	GetPatient(ctx context.Context, patientID string) (*domain.Patient, error)

	// UpsertPatient creates or updates a patient record.
	UpsertPatient(ctx context.Context, patient *domain.Patient) error

	// UpdateLastSeen updates the last_seen_at timestamp for a patient.
	UpdateLastSeen(ctx context.Context, patientID string, lastSeen time.Time) error

	// GetInterview retrieves the audit row for an interview session.
	GetInterview(ctx context.Context, sessionID string) (*domain.InterviewRun, error)

	// UpsertInterview creates or updates an interview audit row.
	UpsertInterview(ctx context.Context, run *domain.InterviewRun) error

	// PruneInterviews removes ended interview rows whose last update is older
	// than the retention window. Returns the number of rows removed.
	PruneInterviews(ctx context.Context, retention time.Duration) (int64, error)

	// MarkInterrupted closes out interview rows left unended by a previous
	// process. Returns the number of rows updated.
	MarkInterrupted(ctx context.Context) (int64, error)

	// SaveReport appends a row to the report archive ledger and fills in the
	// generated row ID.
	SaveReport(ctx context.Context, rec *domain.ReportRecord) error

	// ListReportsForPatient retrieves ledger rows for a patient, newest first.
	ListReportsForPatient(ctx context.Context, patientID string, limit int) ([]*domain.ReportRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
