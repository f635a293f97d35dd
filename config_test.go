package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Neutralize ambient environment so defaults are actually exercised.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INPUT_GLOB", "OUTPUT_DIR", "DB_PATH",
		"LLM_PROVIDER", "LLM_MODEL", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"REQUESTS_PER_MINUTE", "MAX_WORKERS", "REQUEST_TIMEOUT_SECONDS",
		"MAX_ATTEMPTS", "MAX_TRANSCRIPT_CHARS",
		"SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID",
		"SCHEDULE", "TIMEZONE", "TEAM_NAME",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfig()
	if cfg.InputGlob != "data/*.csv" {
		t.Fatalf("input glob = %q", cfg.InputGlob)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Fatalf("provider = %q", cfg.LLMProvider)
	}
	if cfg.RequestsPerMinute != 300 || cfg.MaxWorkers != 10 || cfg.MaxAttempts != 4 {
		t.Fatalf("throughput defaults = %d/%d/%d", cfg.RequestsPerMinute, cfg.MaxWorkers, cfg.MaxAttempts)
	}
	if cfg.MaxTranscriptChars != 12000 {
		t.Fatalf("max transcript chars = %d", cfg.MaxTranscriptChars)
	}
	if cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("request timeout = %v", cfg.RequestTimeout())
	}
	if cfg.Timezone != "UTC" || cfg.Location != time.UTC {
		t.Fatalf("timezone = %q / %v", cfg.Timezone, cfg.Location)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	clearConfigEnv(t)

	yamlContent := `
input_glob: "exports/*.xlsx"
llm_provider: openai
openai_api_key: from-yaml
requests_per_minute: 60
max_workers: 3
team_name: Support Bot
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	// Env wins over YAML.
	t.Setenv("REQUESTS_PER_MINUTE", "25")
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg := LoadConfig()
	if cfg.InputGlob != "exports/*.xlsx" {
		t.Fatalf("input glob = %q", cfg.InputGlob)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("provider = %q", cfg.LLMProvider)
	}
	if cfg.RequestsPerMinute != 25 {
		t.Fatalf("rpm = %d, want env override 25", cfg.RequestsPerMinute)
	}
	if cfg.OpenAIAPIKey != "from-env" {
		t.Fatalf("api key = %q, want env override", cfg.OpenAIAPIKey)
	}
	if cfg.MaxWorkers != 3 {
		t.Fatalf("workers = %d, want yaml value", cfg.MaxWorkers)
	}
	if cfg.TeamName != "Support Bot" {
		t.Fatalf("team = %q", cfg.TeamName)
	}
}

func validTestConfig() Config {
	return Config{
		InputGlob:         "data/*.csv",
		LLMProvider:       "anthropic",
		AnthropicAPIKey:   "key",
		RequestsPerMinute: 300,
		MaxWorkers:        10,
		MaxAttempts:       4,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty input glob", func(c *Config) { c.InputGlob = " " }, true},
		{"zero rate limit", func(c *Config) { c.RequestsPerMinute = 0 }, true},
		{"negative workers", func(c *Config) { c.MaxWorkers = -1 }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"anthropic without key", func(c *Config) { c.AnthropicAPIKey = "" }, true},
		{"openai without key", func(c *Config) { c.LLMProvider = "openai"; c.OpenAIAPIKey = "" }, true},
		{"openai with key", func(c *Config) { c.LLMProvider = "openai"; c.OpenAIAPIKey = "k" }, false},
		{"unknown provider", func(c *Config) { c.LLMProvider = "oracle" }, true},
		{"dry run skips credential check", func(c *Config) { c.AnthropicAPIKey = ""; c.DryRun = true }, false},
		{"dry run still checks rate limit", func(c *Config) { c.DryRun = true; c.RequestsPerMinute = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Fatalf("Validate() = %v, want *ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(): %v", err)
			}
		})
	}
}
