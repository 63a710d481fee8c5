// Package domain contains core domain types for the anamnesis application.
package domain

import (
	"time"
)

// Patient represents an anonymous patient identity and its activity state.
type Patient struct {
	PatientID   string    `json:"patient_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsReturning reports whether the patient has been seen after their first
// visit.
func (p *Patient) IsReturning() bool {
	return p.LastSeenAt.After(p.CreatedAt)
}
