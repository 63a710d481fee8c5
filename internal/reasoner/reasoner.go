// Package reasoner provides the client for the external reasoning service
// that generates interview questions, clinical assessments, and report
// prose. The service is consumed as an opaque text-in/text-out collaborator;
// retry and fallback policy live with the caller.
package reasoner

import (
	"context"
	"fmt"
)

// Request is one completion request for a pipeline stage.
type Request struct {
	// Role names the collaborator persona the stage runs under.
	Role string
	// System is the persona's standing instructions.
	System string
	// Prompt carries the stage input: dependency outputs plus the stage's
	// own instruction payload.
	Prompt string
}

// Reasoner produces text for a stage request or fails.
type Reasoner interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError is a non-2xx answer from the reasoning service. It keeps the
// upstream status so retry classification can recognize overload responses.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("reasoner api error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("reasoner api error %d: %s", e.Status, e.Message)
}

// StatusCode returns the upstream HTTP status.
func (e *APIError) StatusCode() int { return e.Status }
