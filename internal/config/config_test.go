package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
engine:
  max_rounds: 5
  extra: true
providers:
  default: anthropic
  anthropic:
    enabled: true
    api_key: k
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
providers:
  default: openai
  anthropic:
    enabled: true
    api_key: k
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "providers.default") {
		t.Fatalf("expected default provider error, got %v", err)
	}
}

func TestLoadRequiresAPIKeyForEnabledProvider(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
providers:
  default: anthropic
  anthropic:
    enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
providers:
  default: ollama
  ollama:
    enabled: true
    default_model: llama3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxRounds != 10 {
		t.Errorf("MaxRounds = %d, want 10", cfg.Engine.MaxRounds)
	}
	if cfg.Engine.MaxWallTime.Std() != 10*time.Minute {
		t.Errorf("MaxWallTime = %v", cfg.Engine.MaxWallTime.Std())
	}
	if cfg.Tools.SearchAttempts != 3 {
		t.Errorf("SearchAttempts = %d", cfg.Tools.SearchAttempts)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("SamplingRate = %v", cfg.Tracing.SamplingRate)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
engine:
  max_wall_time: 90s
tools:
  external_timeout: 2m
providers:
  default: ollama
  ollama:
    enabled: true
    timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxWallTime.Std() != 90*time.Second {
		t.Errorf("MaxWallTime = %v", cfg.Engine.MaxWallTime.Std())
	}
	if cfg.Tools.ExternalTimeout.Std() != 2*time.Minute {
		t.Errorf("ExternalTimeout = %v", cfg.Tools.ExternalTimeout.Std())
	}
	if cfg.Providers.Ollama.Timeout.Std() != 45*time.Second {
		t.Errorf("ollama timeout = %v", cfg.Providers.Ollama.Timeout.Std())
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
engine:
  max_wall_time: soonish
providers:
  default: ollama
  ollama:
    enabled: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("QUILL_TEST_KEY", "sk-from-env")
	path := writeConfig(t, "quill.yaml", `
providers:
  default: anthropic
  anthropic:
    enabled: true
    api_key: ${QUILL_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "providers.yaml", `
providers:
  default: anthropic
  anthropic:
    enabled: true
    api_key: base-key
`)
	main := writeFile(t, dir, "quill.yaml", `
$include: providers.yaml
logging:
  level: debug
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "base-key" {
		t.Errorf("included key lost: %+v", cfg.Providers.Anthropic)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `$include: b.yaml`)
	b := writeFile(t, dir, "b.yaml", `$include: a.yaml`)

	_, err := Load(b)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadValidatesDriveOAuth(t *testing.T) {
	path := writeConfig(t, "quill.yaml", `
providers:
  default: ollama
  ollama:
    enabled: true
capabilities:
  drive:
    base_url: https://drive.example.com
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "oauth") {
		t.Fatalf("expected oauth error, got %v", err)
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), name, contents)
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
