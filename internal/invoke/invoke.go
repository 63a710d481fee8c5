// Package invoke wraps collaborator calls with bounded retry, exponential
// backoff, and role-specific fallbacks. Transient upstream trouble
// (overload, rate limiting) is retried; everything else degrades to a
// defined fallback string so the pipeline keeps a usable output for every
// stage.
package invoke

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Collaborator roles. A stage runs its call under one of these; the
// interviewer is the only patient-facing role and gets a distinct fallback.
const (
	RoleInterviewer = "interviewer"
	RoleResearcher  = "researcher"
	RoleClinician   = "clinician"
	RoleWriter      = "writer"
)

const interviewerFallback = "I'm having trouble responding right now. " +
	"Please bear with me for a moment and tell me that once more."

const sectionFallback = "[section unavailable] The reasoning service could not complete this part of the analysis."

var errEmptyResult = errors.New("collaborator returned an empty result")

// CallFunc is a single attempt against an external collaborator.
type CallFunc func(ctx context.Context) (string, error)

// Policy bounds the retry behavior. It is stateless and shared across all
// calls; per-session state never leaks into it.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultPolicy returns the retry policy used when configuration does not
// override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// statusCoder is satisfied by collaborator error types that carry an HTTP
// status code.
type statusCoder interface {
	StatusCode() int
}

// Transient reports whether err carries a known overload or rate-limit
// signature: a 429/503-equivalent status, or an overload marker in the
// message. Anything else is fatal and not worth retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"overloaded", "rate limit", "too many requests"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// FallbackFor returns the degraded-state output for a role when all attempts
// are spent or the failure is fatal.
func FallbackFor(role string) string {
	if role == RoleInterviewer {
		return interviewerFallback
	}
	return sectionFallback
}

// Invoker applies a Policy to collaborator calls. It is safe for concurrent
// use and owned by no session.
type Invoker struct {
	policy   Policy
	classify func(error) bool
}

// New creates an Invoker. A nil classifier uses Transient.
func New(policy Policy, classify func(error) bool) *Invoker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if classify == nil {
		classify = Transient
	}
	return &Invoker{policy: policy, classify: classify}
}

// Do runs call under the retry policy and returns its trimmed result.
// An empty result is treated like a failure. Fatal failures and exhausted
// retries yield the role's fallback string with a nil error; the only
// non-nil error Do returns is ctx's, so callers can distinguish a cancelled
// worker from a degraded collaborator.
func (iv *Invoker) Do(ctx context.Context, role string, call CallFunc) (string, error) {
	var lastErr error

	for attempt := 0; attempt < iv.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		result, err := call(ctx)
		if err == nil {
			if trimmed := strings.TrimSpace(result); trimmed != "" {
				return trimmed, nil
			}
			err = errEmptyResult
		}
		lastErr = err

		if !iv.classify(err) {
			slog.Warn("collaborator call failed, using fallback",
				"role", role,
				"attempt", attempt+1,
				"error", err)
			return FallbackFor(role), nil
		}

		if attempt < iv.policy.MaxAttempts-1 {
			wait := iv.backoff(attempt)
			slog.Debug("transient collaborator failure, retrying",
				"role", role,
				"attempt", attempt+1,
				"delay", wait,
				"error", err)
			if err := sleepContext(ctx, wait); err != nil {
				return "", err
			}
		}
	}

	slog.Warn("collaborator retries exhausted, using fallback",
		"role", role,
		"attempts", iv.policy.MaxAttempts,
		"error", lastErr)
	return FallbackFor(role), nil
}

// backoff computes min(base * 2^attempt * (1 ± jitter), max).
func (iv *Invoker) backoff(attempt int) time.Duration {
	delay := iv.policy.BaseDelay * time.Duration(1<<attempt)

	if iv.policy.Jitter > 0 {
		factor := 1 + iv.policy.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	if iv.policy.MaxDelay > 0 && delay > iv.policy.MaxDelay {
		delay = iv.policy.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
