package domain

import (
	"time"
)

// Exchange is a single question/answer turn in an interview.
type Exchange struct {
	Stage    string    `json:"stage"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// InterviewRun is the persisted audit record of one interview session.
// In-flight orchestration state lives in memory; this row tracks what
// happened, not how to resume it.
type InterviewRun struct {
	SessionID      string     `json:"session_id"`
	PatientID      string     `json:"patient_id"`
	Status         string     `json:"status"`
	ChiefComplaint string     `json:"chief_complaint,omitempty"`
	Turns          int        `json:"turns"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MarkEnded records a terminal status and stamps the end time.
func (r *InterviewRun) MarkEnded(status string, at time.Time) {
	r.Status = status
	r.EndedAt = &at
	r.UpdatedAt = at
}

// Duration returns how long the interview ran, or the elapsed time so far
// for a run that has not ended.
func (r *InterviewRun) Duration(now time.Time) time.Duration {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	d := end.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
