package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Timeout.AnswerWait != 300*time.Second {
		t.Errorf("AnswerWait = %v, want 300s", cfg.Timeout.AnswerWait)
	}
	if cfg.AbandonTTL != 30*time.Minute {
		t.Errorf("AbandonTTL = %v, want 30m", cfg.AbandonTTL)
	}
	if cfg.Retry.ReasonerMaxAttempts != 3 {
		t.Errorf("ReasonerMaxAttempts = %d, want 3", cfg.Retry.ReasonerMaxAttempts)
	}
	if !cfg.TranscriptLog.Enabled {
		t.Error("transcript logging should default to enabled")
	}
	if cfg.ReasonerEnabled() {
		t.Error("reasoner should be disabled without an API key")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ANSWER_WAIT_TIMEOUT", "45s")
	t.Setenv("ABANDON_TTL", "5m")
	t.Setenv("TRANSCRIPT_LOG_ENABLED", "off")
	t.Setenv("REASONER_RETRY_JITTER", "0.5")
	t.Setenv("REASONER_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.Timeout.AnswerWait != 45*time.Second {
		t.Errorf("AnswerWait = %v, want 45s", cfg.Timeout.AnswerWait)
	}
	if cfg.AbandonTTL != 5*time.Minute {
		t.Errorf("AbandonTTL = %v, want 5m", cfg.AbandonTTL)
	}
	if cfg.TranscriptLog.Enabled {
		t.Error("TRANSCRIPT_LOG_ENABLED=off should disable transcript logging")
	}
	if cfg.Retry.ReasonerJitter != 0.5 {
		t.Errorf("ReasonerJitter = %v, want 0.5", cfg.Retry.ReasonerJitter)
	}
	if !cfg.ReasonerEnabled() {
		t.Error("reasoner should be enabled with an API key")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ANSWER_WAIT_TIMEOUT", "not-a-duration")
	t.Setenv("REASONER_MAX_ATTEMPTS", "lots")
	t.Setenv("REASONER_RETRY_JITTER", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout.AnswerWait != 300*time.Second {
		t.Errorf("malformed duration should fall back, got %v", cfg.Timeout.AnswerWait)
	}
	if cfg.Retry.ReasonerMaxAttempts != 3 {
		t.Errorf("malformed int should fall back, got %d", cfg.Retry.ReasonerMaxAttempts)
	}
	if cfg.Retry.ReasonerJitter != 0.25 {
		t.Errorf("malformed float should fall back, got %v", cfg.Retry.ReasonerJitter)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"zero answer wait", func(c *Config) { c.Timeout.AnswerWait = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.ReasonerMaxAttempts = 0 }},
		{"jitter above one", func(c *Config) { c.Retry.ReasonerJitter = 1.5 }},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }},
		{"transcript dir missing", func(c *Config) { c.TranscriptLog.Dir = "" }},
		{"archive root missing", func(c *Config) { c.Report.ArchiveRoot = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid configuration")
			}
		})
	}
}
