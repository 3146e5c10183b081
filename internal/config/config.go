package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	UpstreamTimeout    time.Duration
	ImageFetchTimeout  time.Duration
	MaxRequestBodySize int64
	MaxPayloadBytes    int64

	// Upstream inference service. APIKey may be empty; the gateway reports
	// that per request instead of refusing to start.
	APIKey         string
	Model          string
	BaseURL        string
	PromptTemplate string

	// Image normalization
	MaxImageWidth  int
	MaxImageHeight int
	JPEGQuality    int
	ResampleFilter string
	// MaxImagePixels caps width*height read from the image header.
	MaxImagePixels int64
	// NormalizeWorkers bounds concurrent decode/resize jobs. Zero means NumCPU.
	NormalizeWorkers int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Remote image sources for /analyze-url. Empty allows any public host;
	// loopback, private and link-local addresses are refused unless
	// ImageURLAllowPrivate is set.
	ImageURLAllowedHosts []string
	ImageURLAllowPrivate bool
	AzureStorageAccount  string
	AzureStorageKey      string

	LogLevel  string
	LogFormat string
}

// PromptFile is the YAML document read from PROMPT_TEMPLATE_FILE.
type PromptFile struct {
	Model  string `yaml:"model"`
	Prompt string `yaml:"prompt"`
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// HasCredential reports whether an upstream API key is configured.
func (c *Config) HasCredential() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		UpstreamTimeout:    parseDurationOrDefault("UPSTREAM_TIMEOUT", 30*time.Second),
		ImageFetchTimeout:  parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 32*1024*1024), // 32MB
		MaxPayloadBytes:    parseIntOrDefault("MAX_PAYLOAD_BYTES", 20*1024*1024),     // 20MB

		APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:   getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		BaseURL: strings.TrimRight(getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),

		MaxImageWidth:  int(parseIntOrDefault("MAX_IMAGE_WIDTH", 2000)),
		MaxImageHeight: int(parseIntOrDefault("MAX_IMAGE_HEIGHT", 2000)),
		JPEGQuality:    int(parseIntOrDefault("JPEG_QUALITY", 95)),
		ResampleFilter: strings.ToLower(getEnvOrDefault("RESAMPLE_FILTER", "lanczos")),
		MaxImagePixels: parseIntOrDefault("MAX_IMAGE_PIXELS", 50_000_000),

		NormalizeWorkers: int(parseIntOrDefault("NORMALIZE_WORKERS", 0)),

		CORSAllowedOrigins: parseListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       parseFloatOrDefault("RATE_LIMIT_RPS", 1),
		RateLimitBurst:     int(parseIntOrDefault("RATE_LIMIT_BURST", 5)),

		ImageURLAllowedHosts: parseListOrDefault("IMAGE_URL_ALLOWED_HOSTS", nil),
		ImageURLAllowPrivate: parseBoolOrDefault("IMAGE_URL_ALLOW_PRIVATE", false),
		AzureStorageAccount:  os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:      os.Getenv("AZURE_STORAGE_KEY"),

		LogLevel:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}

	if path := strings.TrimSpace(os.Getenv("PROMPT_TEMPLATE_FILE")); path != "" {
		pf, err := LoadPromptFile(path)
		if err != nil {
			return nil, err
		}
		cfg.PromptTemplate = pf.Prompt
		if pf.Model != "" {
			cfg.Model = pf.Model
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 || c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE and MAX_PAYLOAD_BYTES must be > 0 (got %d, %d)",
			c.MaxRequestBodySize, c.MaxPayloadBytes)
	}
	if c.RequestTimeout <= 0 || c.UpstreamTimeout <= 0 || c.ImageFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, upstream=%s, fetch=%s)",
			c.RequestTimeout, c.UpstreamTimeout, c.ImageFetchTimeout)
	}
	if c.MaxImageWidth <= 0 || c.MaxImageHeight <= 0 {
		return fmt.Errorf("MAX_IMAGE_WIDTH and MAX_IMAGE_HEIGHT must be > 0 (got %dx%d)",
			c.MaxImageWidth, c.MaxImageHeight)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be > 0 (got %d)", c.MaxImagePixels)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100 (got %d)", c.JPEGQuality)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0 (got %v, %d)",
			c.RateLimitRPS, c.RateLimitBurst)
	}
	if c.NormalizeWorkers < 0 {
		return fmt.Errorf("NORMALIZE_WORKERS must be >= 0 (got %d)", c.NormalizeWorkers)
	}
	if c.Model == "" || c.BaseURL == "" {
		return fmt.Errorf("GEMINI_MODEL and GEMINI_BASE_URL must not be empty")
	}
	return nil
}

// LoadPromptFile reads a YAML prompt overlay.
func LoadPromptFile(path string) (*PromptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	var pf PromptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	if strings.TrimSpace(pf.Prompt) == "" {
		return nil, fmt.Errorf("prompt file %s has an empty prompt", path)
	}
	return &pf, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
