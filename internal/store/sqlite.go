package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/anamnesis/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	interviewMu sync.Mutex // Mutex for interview writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS patients (
		patient_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patients_last_seen ON patients(last_seen_at);

	CREATE TABLE IF NOT EXISTS interviews (
		session_id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		status TEXT NOT NULL,
		chief_complaint TEXT,
		turns INTEGER DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interviews_patient ON interviews(patient_id);
	CREATE INDEX IF NOT EXISTS idx_interviews_updated ON interviews(updated_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		chief_complaint TEXT,
		artifact_path TEXT NOT NULL,
		stored_location TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_patient ON reports(patient_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetPatient retrieves a patient by their patient ID.
func (s *SQLiteStore) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	query := `
		SELECT patient_id, display_name, last_seen_at, created_at, updated_at
		FROM patients WHERE patient_id = ?`

	row := s.db.QueryRowContext(ctx, query, patientID)

	var patient domain.Patient
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&patient.PatientID, &patient.DisplayName, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient row: %w", err)
	}

	patient.LastSeenAt = time.Unix(lastSeen, 0)
	patient.CreatedAt = time.Unix(createdAt, 0)
	patient.UpdatedAt = time.Unix(updatedAt, 0)

	return &patient, nil
}

// UpsertPatient creates or updates a patient record.
func (s *SQLiteStore) UpsertPatient(ctx context.Context, patient *domain.Patient) error {
	query := `
	INSERT INTO patients (patient_id, display_name, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(patient_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		patient.PatientID, patient.DisplayName,
		patient.LastSeenAt.Unix(), patient.CreatedAt.Unix(), patient.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert patient: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a patient.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, patientID string, lastSeen time.Time) error {
	query := `UPDATE patients SET last_seen_at = ?, updated_at = ? WHERE patient_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), patientID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "patient_id", patientID)
	}

	return nil
}

// GetInterview retrieves the audit row for an interview session.
func (s *SQLiteStore) GetInterview(ctx context.Context, sessionID string) (*domain.InterviewRun, error) {
	query := `
		SELECT session_id, patient_id, status, chief_complaint, turns,
		       started_at, ended_at, updated_at
		FROM interviews WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var run domain.InterviewRun
	var chiefComplaint sql.NullString
	var endedAt sql.NullInt64
	var startedAt, updatedAt int64

	err := row.Scan(
		&run.SessionID, &run.PatientID, &run.Status, &chiefComplaint,
		&run.Turns, &startedAt, &endedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan interview row: %w", err)
	}

	run.ChiefComplaint = chiefComplaint.String
	run.StartedAt = time.Unix(startedAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		run.EndedAt = &ts
	}

	return &run, nil
}

// UpsertInterview creates or updates an interview audit row.
func (s *SQLiteStore) UpsertInterview(ctx context.Context, run *domain.InterviewRun) error {
	s.interviewMu.Lock()
	defer s.interviewMu.Unlock()

	query := `
		INSERT INTO interviews (
			session_id, patient_id, status, chief_complaint, turns,
			started_at, ended_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			chief_complaint = COALESCE(excluded.chief_complaint, interviews.chief_complaint),
			turns = excluded.turns,
			ended_at = COALESCE(excluded.ended_at, interviews.ended_at),
			updated_at = excluded.updated_at`

	var chiefComplaint interface{}
	if run.ChiefComplaint != "" {
		chiefComplaint = run.ChiefComplaint
	}

	var endedAt interface{}
	if run.EndedAt != nil {
		endedAt = run.EndedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		run.SessionID, run.PatientID, run.Status, chiefComplaint,
		run.Turns, run.StartedAt.Unix(), endedAt, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert interview: %w", err)
	}
	return nil
}

// PruneInterviews removes ended interview rows older than the retention window.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) PruneInterviews(ctx context.Context, retention time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		removed, err := s.pruneInterviewsOnce(ctx, retention)
		if err == nil {
			return removed, nil
		}
		lastErr = err

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("PruneInterviews hit a busy database, retrying",
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}

	return 0, fmt.Errorf("failed to prune interviews after retries: %w", lastErr)
}

func (s *SQLiteStore) pruneInterviewsOnce(ctx context.Context, retention time.Duration) (int64, error) {
	s.interviewMu.Lock()
	defer s.interviewMu.Unlock()

	threshold := time.Now().Add(-retention).Unix()
	query := `DELETE FROM interviews WHERE ended_at IS NOT NULL AND updated_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune interviews: %w", err)
	}
	return result.RowsAffected()
}

// MarkInterrupted closes out interview rows left unended by a previous
// process. Live sessions exist only in memory, so after a restart any row
// without an end timestamp belongs to a worker that no longer exists.
func (s *SQLiteStore) MarkInterrupted(ctx context.Context) (int64, error) {
	s.interviewMu.Lock()
	defer s.interviewMu.Unlock()

	now := time.Now().Unix()
	query := `UPDATE interviews SET status = 'failed', ended_at = ?, updated_at = ? WHERE ended_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, now, now)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted interviews: %w", err)
	}
	return result.RowsAffected()
}

// SaveReport appends a row to the report archive ledger.
func (s *SQLiteStore) SaveReport(ctx context.Context, rec *domain.ReportRecord) error {
	query := `
		INSERT INTO reports (session_id, patient_id, chief_complaint, artifact_path, stored_location, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	var chiefComplaint interface{}
	if rec.ChiefComplaint != "" {
		chiefComplaint = rec.ChiefComplaint
	}

	result, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.PatientID, chiefComplaint,
		rec.ArtifactPath, rec.StoredLocation, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("report row id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListReportsForPatient retrieves ledger rows for a patient, newest first.
func (s *SQLiteStore) ListReportsForPatient(ctx context.Context, patientID string, limit int) ([]*domain.ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, session_id, patient_id, chief_complaint, artifact_path, stored_location, created_at
		FROM reports WHERE patient_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close report rows", "error", closeErr)
		}
	}()

	var records []*domain.ReportRecord
	for rows.Next() {
		var rec domain.ReportRecord
		var chiefComplaint sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.PatientID, &chiefComplaint,
			&rec.ArtifactPath, &rec.StoredLocation, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}

		rec.ChiefComplaint = chiefComplaint.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isSQLiteConflict reports whether err is a transient SQLITE_BUSY or
// SQLITE_LOCKED condition worth retrying. modernc.org/sqlite does not
// export typed errors for these, so we match on the message.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database table is locked")
}
