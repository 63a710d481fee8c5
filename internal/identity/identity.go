// Package identity provides anonymous per-patient identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/anamnesis/internal/domain"
	"github.com/ashureev/anamnesis/internal/store"
)

const (
	PatientCookieName = "anamnesis_patient_id"
	patientCookieAge  = 180 * 24 * time.Hour

	// lastSeenRefresh bounds how often a returning patient's last_seen_at
	// is rewritten; within the window repeat requests leave it alone.
	lastSeenRefresh = time.Hour
)

type contextKey int

const (
	patientIDKey contextKey = iota
	displayNameKey
)

var (
	patientIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// PatientIDFromContext extracts the patient ID from the request context.
func PatientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(patientIDKey).(string); ok {
		return v
	}
	return ""
}

// DisplayNameFromContext extracts the derived display name from the request context.
func DisplayNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(displayNameKey).(string); ok {
		return v
	}
	return ""
}

// ValidSessionID reports whether id is acceptable as an interview session ID
// taken from a request path.
func ValidSessionID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && sessionIDPattern.MatchString(id)
}

func generatePatientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate patient id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidPatientID(id string) bool {
	return patientIDPattern.MatchString(id)
}

func deriveDisplayName(patientID string) string {
	if len(patientID) > 13 {
		return "Patient " + patientID[len(patientID)-8:]
	}
	return "Patient"
}

func ensurePatient(ctx context.Context, repo store.Repository, patientID string) error {
	patient, err := repo.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if patient == nil {
		now := time.Now()
		return repo.UpsertPatient(ctx, &domain.Patient{
			PatientID:   patientID,
			DisplayName: deriveDisplayName(patientID),
			LastSeenAt:  now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if time.Since(patient.LastSeenAt) > lastSeenRefresh {
		return repo.UpdateLastSeen(ctx, patientID, time.Now())
	}
	return nil
}

func getOrCreatePatientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(PatientCookieName); err == nil && isValidPatientID(c.Value) {
		setPatientCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generatePatientID()
	if err != nil {
		return "", err
	}
	setPatientCookie(w, id, isDev)
	return id, nil
}

func setPatientCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     PatientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(patientCookieAge.Seconds()),
		Expires:  time.Now().Add(patientCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects anonymous per-device patient identity into the request
// context, creating the patient record on first contact.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			patientID, err := getOrCreatePatientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish patient identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensurePatient(r.Context(), repo, patientID); err != nil {
				http.Error(w, `{"error":"failed to initialize patient record"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), patientIDKey, patientID)
			ctx = context.WithValue(ctx, displayNameKey, deriveDisplayName(patientID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
