package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	SourcePath      string `yaml:"source_path"`
	DBPath          string `yaml:"db_path"`
	ReportOutputDir string `yaml:"report_output_dir"`

	ChunkSize              int    `yaml:"chunk_size"`
	PacingMillis           int    `yaml:"pacing_millis"`
	LLMMaxRetries          int    `yaml:"llm_max_retries"`
	RetryBackoffSeconds    int    `yaml:"retry_backoff_seconds"`
	RetryBackoffCapSeconds int    `yaml:"retry_backoff_cap_seconds"`
	MaxTranscriptChars     int    `yaml:"max_transcript_chars"`
	LockWaitSeconds        int    `yaml:"lock_wait_seconds"`
	ResumeIntervalSeconds  int    `yaml:"resume_interval_seconds"`
	WatchSchedule          string `yaml:"watch_schedule"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`
}

func LoadConfig() Config {
	var cfg Config

	// Local .env first, so it can supply the env overrides below.
	_ = godotenv.Load()

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.SourcePath, "SOURCE_PATH")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverrideInt(&cfg.ChunkSize, "CHUNK_SIZE")
	envOverrideInt(&cfg.PacingMillis, "PACING_MILLIS")
	envOverrideInt(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES")
	envOverrideInt(&cfg.RetryBackoffSeconds, "RETRY_BACKOFF_SECONDS")
	envOverrideInt(&cfg.RetryBackoffCapSeconds, "RETRY_BACKOFF_CAP_SECONDS")
	envOverrideInt(&cfg.MaxTranscriptChars, "MAX_TRANSCRIPT_CHARS")
	envOverrideInt(&cfg.LockWaitSeconds, "LOCK_WAIT_SECONDS")
	envOverrideInt(&cfg.ResumeIntervalSeconds, "RESUME_INTERVAL_SECONDS")
	envOverride(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./triagebot.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 10
	}
	if cfg.PacingMillis == 0 {
		cfg.PacingMillis = 1500
	}
	if cfg.LLMMaxRetries == 0 {
		cfg.LLMMaxRetries = 3
	}
	if cfg.RetryBackoffSeconds == 0 {
		cfg.RetryBackoffSeconds = 5
	}
	if cfg.RetryBackoffCapSeconds == 0 {
		cfg.RetryBackoffCapSeconds = 30
	}
	if cfg.MaxTranscriptChars == 0 {
		cfg.MaxTranscriptChars = 12000
	}
	if cfg.LockWaitSeconds == 0 {
		cfg.LockWaitSeconds = 10
	}
	if cfg.ResumeIntervalSeconds == 0 {
		cfg.ResumeIntervalSeconds = 30
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = 30
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// The API credential is checked before any batch work starts: its
	// absence is a configuration error, not a per-key failure.
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.ChunkSize < 1 {
		log.Fatalf("invalid chunk_size '%d': must be >= 1", cfg.ChunkSize)
	}
	if cfg.LLMMaxRetries < 1 {
		log.Fatalf("invalid llm_max_retries '%d': must be >= 1", cfg.LLMMaxRetries)
	}
	if cfg.PacingMillis < 0 {
		log.Fatalf("invalid pacing_millis '%d': must be >= 0", cfg.PacingMillis)
	}
	if cfg.MaxTranscriptChars < 100 {
		log.Fatalf("invalid max_transcript_chars '%d': must be >= 100", cfg.MaxTranscriptChars)
	}

	if !strings.EqualFold(cfg.Timezone, "Local") {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		time.Local = loc
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
