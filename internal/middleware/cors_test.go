package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()

	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(method, "/api/interviews/s1", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsExplicitOriginWithCredentials(t *testing.T) {
	t.Parallel()

	rec := serveCORS(t, []string{"https://intake.example.com"}, http.MethodGet, "https://intake.example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://intake.example.com" {
		t.Errorf("Allow-Origin = %q, want explicit origin echoed", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true for explicit origin", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSWildcardEchoesOriginWithoutCredentials(t *testing.T) {
	t.Parallel()

	rec := serveCORS(t, []string{"*"}, http.MethodGet, "https://anywhere.example.net")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.net" {
		t.Errorf("Allow-Origin = %q, want origin echoed under wildcard", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want unset under wildcard", got)
	}
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	t.Parallel()

	rec := serveCORS(t, []string{"https://intake.example.com"}, http.MethodGet, "https://evil.example.org")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want no CORS headers for unknown origin", got)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want request still served", rec.Code)
	}
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	t.Parallel()

	rec := serveCORS(t, []string{"https://intake.example.com"}, http.MethodOptions, "https://intake.example.com")

	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
}
