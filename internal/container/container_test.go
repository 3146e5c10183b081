package container

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anime-shed/photo-locator-go/internal/config"
	"github.com/anime-shed/photo-locator-go/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Host:               "127.0.0.1",
		Port:               "8080",
		RequestTimeout:     5 * time.Second,
		UpstreamTimeout:    time.Second,
		ImageFetchTimeout:  time.Second,
		MaxRequestBodySize: 1 << 20,
		MaxPayloadBytes:    1 << 20,
		Model:              "gemini-test",
		BaseURL:            "http://127.0.0.1:1",
		MaxImageWidth:      100,
		MaxImageHeight:     100,
		JPEGQuality:        90,
		ResampleFilter:     "linear",
		MaxImagePixels:     1_000_000,
		NormalizeWorkers:   2,
		CORSAllowedOrigins: []string{"*"},
		RateLimitRPS:       10,
		RateLimitBurst:     10,
	}
}

func TestNewContainer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, err := NewContainer(testConfig())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer c.Close()

	if c.Handler() == nil || c.LocationService() == nil {
		t.Fatal("Expected handler and service to be wired")
	}
	if c.pool.Workers() != 2 {
		t.Errorf("Expected 2 normalize workers, got %d", c.pool.Workers())
	}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected /health 200, got %d", w.Code)
	}
}

func TestNewContainer_DoesNotLogAPIKey(t *testing.T) {
	var buf bytes.Buffer
	logger.Configure(&buf, "debug", "json")
	defer logger.Configure(os.Stdout, "info", "json")

	cfg := testConfig()
	cfg.APIKey = "AIzaSyExampleKey123"
	c, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	c.Close()

	out := buf.String()
	if !strings.Contains(out, "Container initialized") {
		t.Fatalf("Expected startup log line, got %s", out)
	}
	if strings.Contains(out, "AIza") || strings.Contains(out, "api_key") {
		t.Errorf("Expected no trace of the API key in logs, got %s", out)
	}
	if !strings.Contains(out, `"gateway_configured":true`) {
		t.Errorf("Expected gateway_configured=true, got %s", out)
	}
}

func TestNewContainer_InvalidFilter(t *testing.T) {
	cfg := testConfig()
	cfg.ResampleFilter = "nearest"

	if _, err := NewContainer(cfg); err == nil {
		t.Error("Expected error for unsupported resample filter")
	}
}
