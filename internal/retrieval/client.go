package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config holds configuration for the search client.
type Config struct {
	BaseURL        string
	APIKey         string
	MaxResults     int
	RequestTimeout time.Duration
}

// DefaultConfig returns default configuration, reading overrides from the
// environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:        getEnv("SEARCH_URL", "https://google.serper.dev"),
		APIKey:         os.Getenv("SEARCH_API_KEY"),
		MaxResults:     5,
		RequestTimeout: 15 * time.Second,
	}
}

// Client queries a serper.dev-style Google search API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a search client. Zero-valued cfg fields fall back to
// DefaultConfig.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaults.MaxResults
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("retrieval: API key is required")
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}, nil
}

type searchRequest struct {
	Query string `json:"q"`
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

// Search runs the query against the trusted medical sites and returns the
// top results formatted as numbered findings.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(searchRequest{Query: restrictToTrustedSites(query)})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close search response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	return formatResults(parsed.Organic, c.cfg.MaxResults), nil
}

// restrictToTrustedSites appends the site allowlist to the query the same
// way a "site:a OR site:b" Google filter does.
func restrictToTrustedSites(query string) string {
	filters := make([]string, len(trustedSites))
	for i, site := range trustedSites {
		filters[i] = "site:" + site
	}
	return query + " " + strings.Join(filters, " OR ")
}

func formatResults(results []organicResult, limit int) string {
	if len(results) == 0 {
		return ""
	}
	if len(results) > limit {
		results = results[:limit]
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.Link != "" {
			fmt.Fprintf(&b, "   Source: %s\n", r.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
