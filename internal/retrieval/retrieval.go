// Package retrieval provides the web-search collaborator used by the
// research stage. Queries are restricted to a fixed allowlist of trusted
// medical sources; results come back as titled snippets ready for prompt
// context.
package retrieval

import (
	"context"
	"fmt"
)

// trustedSites is the fixed allowlist appended to every query.
var trustedSites = []string{
	"mayoclinic.org",
	"heart.org",
	"cdc.gov",
	"medlineplus.gov",
	"nhs.uk",
}

// Searcher answers a free-text query with formatted findings or fails.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// APIError is a non-2xx answer from the search service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search api error %d: %s", e.Status, e.Message)
}

// StatusCode returns the upstream HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// Disabled is a Searcher for deployments without a search API key. Its error
// flows into the invoker's degraded-section fallback, so the pipeline still
// completes.
type Disabled struct{}

// Search always reports that retrieval is not configured.
func (Disabled) Search(context.Context, string) (string, error) {
	return "", fmt.Errorf("retrieval disabled: no search API key configured")
}
