package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	InputGlob string `yaml:"input_glob"`
	OutputDir string `yaml:"output_dir"`
	DBPath    string `yaml:"db_path"`

	LLMProvider      string `yaml:"llm_provider"` // "anthropic" or "openai"
	LLMModel         string `yaml:"llm_model"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`

	RequestsPerMinute     int `yaml:"requests_per_minute"`
	MaxWorkers            int `yaml:"max_workers"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	MaxAttempts           int `yaml:"max_attempts"`
	MaxTranscriptChars    int `yaml:"max_transcript_chars"`
	ExampleIDsPerBucket   int `yaml:"example_ids_per_bucket"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	Schedule string `yaml:"schedule"` // cron spec; empty = single run
	Timezone string `yaml:"timezone"`
	TeamName string `yaml:"team_name"`

	Location *time.Location `yaml:"-"`

	// Run-level controls owned by the CLI, never read from YAML.
	DryRun      bool   `yaml:"-"`
	SampleLimit int    `yaml:"-"`
	RunID       string `yaml:"-"`
}

const (
	defaultRequestsPerMinute  = 300
	defaultMaxWorkers         = 10
	defaultRequestTimeout     = 120 // seconds
	defaultMaxAttempts        = 4
	defaultMaxTranscriptChars = 12000
	defaultExamplesPerBucket  = 5
)

// LoadConfig reads config.yaml (or CONFIG_PATH) if present, then applies
// env-var overrides on top, then fills defaults. Nothing here is fatal;
// Validate decides whether the result is usable.
func LoadConfig() Config {
	// Optional .env for local runs.
	_ = godotenv.Load()

	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			logger.Fatalf("parsing %s: %v", configPath, err)
		}
		logger.Infof("loaded config from %s", configPath)
	}

	envOverride(&cfg.InputGlob, "INPUT_GLOB")
	envOverride(&cfg.OutputDir, "OUTPUT_DIR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverrideInt(&cfg.RequestsPerMinute, "REQUESTS_PER_MINUTE")
	envOverrideInt(&cfg.MaxWorkers, "MAX_WORKERS")
	envOverrideInt(&cfg.RequestTimeoutSeconds, "REQUEST_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	envOverrideInt(&cfg.MaxTranscriptChars, "MAX_TRANSCRIPT_CHARS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.Schedule, "SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.TeamName, "TEAM_NAME")

	// Defaults
	if cfg.InputGlob == "" {
		cfg.InputGlob = "data/*.csv"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./analysis_out"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./seachat.db"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxTranscriptChars == 0 {
		cfg.MaxTranscriptChars = defaultMaxTranscriptChars
	}
	if cfg.ExampleIDsPerBucket == 0 {
		cfg.ExampleIDsPerBucket = defaultExamplesPerBucket
	}
	if cfg.TeamName == "" {
		cfg.TeamName = "Ad Assistant"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warnf("unknown timezone %q, using UTC", cfg.Timezone)
		loc = time.UTC
	}
	cfg.Location = loc

	return cfg
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ConfigError aborts the whole run before any classification work begins.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Validate checks for the conditions that make a run impossible. Credential
// checks are skipped in dry-run mode because no service calls happen.
func (c Config) Validate() error {
	if strings.TrimSpace(c.InputGlob) == "" {
		return &ConfigError{Reason: "input glob is empty"}
	}
	if c.RequestsPerMinute < 1 {
		return &ConfigError{Reason: fmt.Sprintf("requests_per_minute must be positive, got %d", c.RequestsPerMinute)}
	}
	if c.MaxWorkers < 1 {
		return &ConfigError{Reason: fmt.Sprintf("max_workers must be positive, got %d", c.MaxWorkers)}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Reason: fmt.Sprintf("max_attempts must be positive, got %d", c.MaxAttempts)}
	}
	if c.DryRun {
		return nil
	}
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return &ConfigError{Reason: "llm_provider is anthropic but anthropic_api_key is not set"}
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return &ConfigError{Reason: "llm_provider is openai but openai_api_key is not set"}
		}
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown llm_provider %q", c.LLMProvider)}
	}
	return nil
}

func envOverride(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
