package main

import (
	"os"
	"path/filepath"
	"testing"
)

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TIMEZONE", "Local")
}

func TestLoadConfigDefaults(t *testing.T) {
	setMinimalValidConfigEnv(t)

	cfg := LoadConfig()

	if cfg.LLMProvider != "openai" {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if cfg.DBPath != "./triagebot.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.ReportOutputDir != "./reports" {
		t.Fatalf("unexpected report dir default: %q", cfg.ReportOutputDir)
	}
	if cfg.ChunkSize != 10 {
		t.Fatalf("unexpected chunk size default: %d", cfg.ChunkSize)
	}
	if cfg.PacingMillis != 1500 {
		t.Fatalf("unexpected pacing default: %d", cfg.PacingMillis)
	}
	if cfg.LLMMaxRetries != 3 {
		t.Fatalf("unexpected retry default: %d", cfg.LLMMaxRetries)
	}
	if cfg.RetryBackoffSeconds != 5 || cfg.RetryBackoffCapSeconds != 30 {
		t.Fatalf("unexpected backoff defaults: %d/%d", cfg.RetryBackoffSeconds, cfg.RetryBackoffCapSeconds)
	}
	if cfg.MaxTranscriptChars != 12000 {
		t.Fatalf("unexpected transcript cap default: %d", cfg.MaxTranscriptChars)
	}
	if cfg.LockWaitSeconds != 10 {
		t.Fatalf("unexpected lock wait default: %d", cfg.LockWaitSeconds)
	}
	if cfg.ResumeIntervalSeconds != 30 {
		t.Fatalf("unexpected resume interval default: %d", cfg.ResumeIntervalSeconds)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
source_path: "/tmp/yaml-conversations.csv"
db_path: "/tmp/yaml.db"
chunk_size: 25
pacing_millis: 500
watch_schedule: "0 2 * * *"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("CHUNK_SIZE", "7")
	t.Setenv("TIMEZONE", "Local")

	cfg := LoadConfig()

	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected env to override provider, got %q", cfg.LLMProvider)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected env to override db path, got %q", cfg.DBPath)
	}
	if cfg.ChunkSize != 7 {
		t.Fatalf("expected env to override chunk size, got %d", cfg.ChunkSize)
	}
	if cfg.SourcePath != "/tmp/yaml-conversations.csv" {
		t.Fatalf("expected yaml source path kept, got %q", cfg.SourcePath)
	}
	if cfg.PacingMillis != 500 {
		t.Fatalf("expected yaml pacing kept, got %d", cfg.PacingMillis)
	}
	if cfg.WatchSchedule != "0 2 * * *" {
		t.Fatalf("expected yaml watch schedule kept, got %q", cfg.WatchSchedule)
	}
}
