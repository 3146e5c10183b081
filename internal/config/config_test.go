package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"HOST", "PORT", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "UPSTREAM_TIMEOUT",
		"MAX_IMAGE_WIDTH", "MAX_IMAGE_HEIGHT", "JPEG_QUALITY", "PROMPT_TEMPLATE_FILE", "CORS_ALLOWED_ORIGINS",
		"NORMALIZE_WORKERS", "MAX_IMAGE_PIXELS", "IMAGE_URL_ALLOW_PRIVATE", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("Expected address 0.0.0.0:8080, got %s", cfg.ServerAddress())
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("Expected upstream timeout 30s, got %s", cfg.UpstreamTimeout)
	}
	if cfg.MaxImageWidth != 2000 || cfg.MaxImageHeight != 2000 {
		t.Errorf("Expected 2000x2000 bounds, got %dx%d", cfg.MaxImageWidth, cfg.MaxImageHeight)
	}
	if cfg.JPEGQuality != 95 {
		t.Errorf("Expected JPEG quality 95, got %d", cfg.JPEGQuality)
	}
	if cfg.MaxImagePixels != 50_000_000 {
		t.Errorf("Expected 50MP pixel cap, got %d", cfg.MaxImagePixels)
	}
	if cfg.ImageURLAllowPrivate {
		t.Error("Expected private image URLs to be refused by default")
	}
	if cfg.Model != "gemini-2.0-flash" {
		t.Errorf("Expected default model gemini-2.0-flash, got %s", cfg.Model)
	}
	if cfg.HasCredential() {
		t.Error("Expected no credential when GEMINI_API_KEY is unset")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard CORS origin, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.NormalizeWorkers != 0 {
		t.Errorf("Expected NumCPU worker default (0), got %d", cfg.NormalizeWorkers)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("Expected info/json logging, got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "  secret  ")
	t.Setenv("GEMINI_BASE_URL", "http://localhost:1234/")
	t.Setenv("MAX_IMAGE_WIDTH", "1024")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_IMAGE_PIXELS", "1000000")
	t.Setenv("IMAGE_URL_ALLOW_PRIVATE", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("Expected trimmed API key, got %q", cfg.APIKey)
	}
	if cfg.BaseURL != "http://localhost:1234" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.BaseURL)
	}
	if cfg.MaxImageWidth != 1024 {
		t.Errorf("Expected width 1024, got %d", cfg.MaxImageWidth)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected CORS origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxImagePixels != 1_000_000 {
		t.Errorf("Expected pixel cap 1000000, got %d", cfg.MaxImagePixels)
	}
	if !cfg.ImageURLAllowPrivate {
		t.Error("Expected IMAGE_URL_ALLOW_PRIVATE=true to be honoured")
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non-numeric port", key: "PORT", value: "http"},
		{name: "port out of range", key: "PORT", value: "70000"},
		{name: "jpeg quality too high", key: "JPEG_QUALITY", value: "101"},
		{name: "zero width", key: "MAX_IMAGE_WIDTH", value: "0"},
		{name: "negative payload cap", key: "MAX_PAYLOAD_BYTES", value: "-1"},
		{name: "negative worker count", key: "NORMALIZE_WORKERS", value: "-2"},
		{name: "zero pixel cap", key: "MAX_IMAGE_PIXELS", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_PromptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.yaml")
	content := "model: gemini-2.5-flash\nprompt: |\n  Where was this taken? Hint: {{.Hint}}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROMPT_TEMPLATE_FILE", path)
	t.Setenv("GEMINI_MODEL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(cfg.PromptTemplate, "{{.Hint}}") {
		t.Errorf("Expected prompt template from file, got %q", cfg.PromptTemplate)
	}
	if cfg.Model != "gemini-2.5-flash" {
		t.Errorf("Expected model override from file, got %s", cfg.Model)
	}
}

func TestLoadPromptFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("model: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPromptFile(path); err == nil {
		t.Error("Expected error for prompt file without prompt")
	}
}
