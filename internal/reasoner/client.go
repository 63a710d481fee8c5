package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"
)

// Config holds configuration for the HTTP reasoning client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration
}

// DefaultConfig returns default configuration, reading overrides from the
// environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:        getEnv("REASONER_URL", "https://api.anthropic.com"),
		APIKey:         os.Getenv("REASONER_API_KEY"),
		Model:          getEnv("REASONER_MODEL", "claude-3-7-sonnet-latest"),
		MaxTokens:      1024,
		RequestTimeout: 60 * time.Second,
	}
}

// Client talks to an Anthropic-style messages endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a reasoning client. Zero-valued cfg fields fall back to
// DefaultConfig.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoner: API key is required")
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}, nil
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []messageParam `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completionResponse struct {
	Content []contentBlock `json:"content"`
}

type apiErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one stage request and returns the generated text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    req.System,
		Messages:  []messageParam{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("reasoner request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close reasoner response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read reasoner response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope apiErrorEnvelope
		if err := json.Unmarshal(respBody, &envelope); err == nil && envelope.Error.Message != "" {
			return "", &APIError{
				Status:  resp.StatusCode,
				Type:    envelope.Error.Type,
				Message: envelope.Error.Message,
			}
		}
		return "", &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var completion completionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", fmt.Errorf("decode reasoner response: %w", err)
	}

	var text string
	for _, block := range completion.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
