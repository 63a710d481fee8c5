// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// AbandonTTL is how long a session may sit without patient activity
	// before the reaper abandons it.
	AbandonTTL time.Duration

	Timeout       TimeoutConfig
	Retry         RetryConfig
	RateLimit     RateLimitConfig
	TranscriptLog TranscriptLogConfig
	Reasoner      ReasonerConfig
	Retrieval     RetrievalConfig
	Report        ReportConfig
}

// TimeoutConfig groups request-scoped deadlines.
type TimeoutConfig struct {
	// AnswerWait bounds how long a start/answer request blocks waiting for
	// the interviewer's next question.
	AnswerWait  time.Duration
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// RetryConfig bounds retry behavior for the reasoning collaborator.
type RetryConfig struct {
	ReasonerMaxAttempts int
	ReasonerBaseDelay   time.Duration
	ReasonerMaxDelay    time.Duration
	ReasonerJitter      float64
}

// RateLimitConfig controls the per-patient sliding-window limiter on
// message delivery.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ReasonerConfig configures the HTTP reasoning collaborator. An empty APIKey
// switches the server to the deterministic scripted reasoner.
type ReasonerConfig struct {
	URL            string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration
}

// RetrievalConfig configures the medical-literature search collaborator. An
// empty APIKey disables retrieval.
type RetrievalConfig struct {
	URL            string
	APIKey         string
	MaxResults     int
	RequestTimeout time.Duration
}

// ReportConfig controls where report artifacts are rendered and archived.
type ReportConfig struct {
	WorkDir     string
	ArchiveRoot string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/anamnesis.db"),
		AbandonTTL:  getEnvDuration("ABANDON_TTL", 30*time.Minute),
		Timeout: TimeoutConfig{
			AnswerWait:  getEnvDuration("ANSWER_WAIT_TIMEOUT", 300*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Retry: RetryConfig{
			ReasonerMaxAttempts: getEnvInt("REASONER_MAX_ATTEMPTS", 3),
			ReasonerBaseDelay:   getEnvDuration("REASONER_RETRY_BASE_DELAY", 2*time.Second),
			ReasonerMaxDelay:    getEnvDuration("REASONER_RETRY_MAX_DELAY", 30*time.Second),
			ReasonerJitter:      getEnvFloat("REASONER_RETRY_JITTER", 0.25),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/transcripts"),
			QueueSize: queueSize,
		},
		Reasoner: ReasonerConfig{
			URL:            getEnv("REASONER_URL", "https://api.anthropic.com"),
			APIKey:         os.Getenv("REASONER_API_KEY"),
			Model:          getEnv("REASONER_MODEL", "claude-3-7-sonnet-latest"),
			MaxTokens:      getEnvInt("REASONER_MAX_TOKENS", 1024),
			RequestTimeout: getEnvDuration("REASONER_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			URL:            getEnv("SEARCH_URL", "https://google.serper.dev"),
			APIKey:         os.Getenv("SEARCH_API_KEY"),
			MaxResults:     getEnvInt("SEARCH_MAX_RESULTS", 3),
			RequestTimeout: getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),
		},
		Report: ReportConfig{
			WorkDir:     getEnv("REPORT_WORK_DIR", "./data/reports"),
			ArchiveRoot: getEnv("REPORT_ARCHIVE_ROOT", "./data/archive"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AbandonTTL < 0 {
		return fmt.Errorf("ABANDON_TTL cannot be negative")
	}
	if c.Timeout.AnswerWait <= 0 {
		return fmt.Errorf("ANSWER_WAIT_TIMEOUT must be > 0")
	}
	if c.Retry.ReasonerMaxAttempts < 1 {
		return fmt.Errorf("REASONER_MAX_ATTEMPTS must be >= 1")
	}
	if c.Retry.ReasonerJitter < 0 || c.Retry.ReasonerJitter > 1 {
		return fmt.Errorf("REASONER_RETRY_JITTER must be within [0, 1]")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty when transcript logging is enabled")
	}
	if c.TranscriptLog.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Report.WorkDir == "" {
		return fmt.Errorf("REPORT_WORK_DIR cannot be empty")
	}
	if c.Report.ArchiveRoot == "" {
		return fmt.Errorf("REPORT_ARCHIVE_ROOT cannot be empty")
	}
	return nil
}

// ReasonerEnabled reports whether the live reasoning collaborator is
// configured; without a key the server falls back to the scripted reasoner.
func (c *Config) ReasonerEnabled() bool {
	return c.Reasoner.APIKey != ""
}

// RetrievalEnabled reports whether medical-literature retrieval is configured.
func (c *Config) RetrievalEnabled() bool {
	return c.Retrieval.APIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
