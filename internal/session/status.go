// Package session manages live interview sessions: their registry, worker
// lifecycle and watch feeds.
package session

// Status describes where an interview is in its lifecycle.
type Status string

const (
	// StatusPending means the session exists but no worker has started.
	StatusPending Status = "pending"
	// StatusRunning means the worker is generating or processing.
	StatusRunning Status = "running"
	// StatusAwaitingInput means the worker posted a question and is blocked
	// on the patient's answer.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusCompleted means the interview finished and the report was produced.
	StatusCompleted Status = "completed"
	// StatusFailed means the worker gave up after an unrecoverable error.
	StatusFailed Status = "failed"
	// StatusAbandoned means the session was closed before completion, either
	// by the patient or by the idle reaper.
	StatusAbandoned Status = "abandoned"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// never overwritten.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAbandoned:
		return true
	}
	return false
}
