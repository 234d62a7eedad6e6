package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		CredentialEnvVar, "GROQ_API_BASE", "GROQ_MODEL", "GROQ_TEMPERATURE", "GROQ_MAX_TOKENS",
		"GROQ_HTTP_TIMEOUT", "DOCUMENTS_DIR", "SERVER_ADDR", "SESSION_SECRET", "SESSION_TTL", "WATCH_DOCUMENTS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("APP_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	return dir
}

func TestBuildDefaults(t *testing.T) {
	isolate(t)
	t.Setenv(CredentialEnvVar, "gsk_test")

	cfg, err := build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GroqModel != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected model %q", cfg.GroqModel)
	}
	if cfg.Temperature != 0.7 || cfg.MaxTokens != 1024 {
		t.Fatalf("unexpected sampling settings: %v / %d", cfg.Temperature, cfg.MaxTokens)
	}
	if cfg.DocumentsDir != "documents" {
		t.Fatalf("unexpected documents dir %q", cfg.DocumentsDir)
	}
	if cfg.GroqAPIBaseURL != "https://api.groq.com/openai/v1" {
		t.Fatalf("unexpected api base %q", cfg.GroqAPIBaseURL)
	}
	if cfg.SessionSecret == "" {
		t.Fatalf("expected a generated session secret")
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if !cfg.WatchDocuments {
		t.Fatalf("expected watcher enabled by default")
	}
}

func TestBuildMissingCredential(t *testing.T) {
	isolate(t)

	cfg, err := build()
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
	if cfg == nil || cfg.HasCredential() {
		t.Fatalf("expected config without credential")
	}
}

func TestBuildYAMLOverlayAndEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "app.yaml")
	overlay := "model: overlay-model\ntemperature: 0.2\nmax_tokens: 256\ndocuments_dir: kb\n"
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv(CredentialEnvVar, "gsk_test")
	t.Setenv("GROQ_MODEL", "env-model")
	t.Setenv("GROQ_API_BASE", "http://localhost:9999/v1/")

	cfg, err := build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GroqModel != "env-model" {
		t.Fatalf("environment should win over file, got %q", cfg.GroqModel)
	}
	if cfg.Temperature != 0.2 || cfg.MaxTokens != 256 {
		t.Fatalf("overlay sampling settings not applied: %v / %d", cfg.Temperature, cfg.MaxTokens)
	}
	if cfg.DocumentsDir != "kb" {
		t.Fatalf("overlay documents dir not applied: %q", cfg.DocumentsDir)
	}
	if cfg.GroqAPIBaseURL != "http://localhost:9999/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.GroqAPIBaseURL)
	}
}

func TestBuildRejectsMalformedOverlay(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte("model: [unterminated"), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv(CredentialEnvVar, "gsk_test")

	if _, err := build(); err == nil {
		t.Fatalf("expected parse error for malformed overlay")
	}
}
