package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
)

// Valid minimal PNG data for a 1x1 transparent pixel
var pngData = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, // 1x1 dimensions
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, // bit depth, color type, etc.
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41, // IDAT chunk start
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00, // compressed data
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00, // compressed data end
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, // IEND chunk
	0x42, 0x60, 0x82,
}

// newTestFetcher allows private networks since httptest listens on loopback.
func newTestFetcher(maxBytes int64) *HTTPImageFetcher {
	f := NewHTTPImageFetcher(5*time.Second, maxBytes).AllowPrivateNetworks()
	f.backoff = 10 * time.Millisecond
	return f
}

func TestHTTPImageFetcher_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int   // Expected number of requests
		expectError   bool
		errorContains string
		expectKind    apperrors.Kind
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "4xx client error - no retry",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
			expectKind:    apperrors.KindDecode,
		},
		{
			name:          "4xx after 5xx - should retry until 4xx then stop",
			responses:     []int{500, 404},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 404",
			expectKind:    apperrors.KindDecode,
		},
		{
			name:          "All 5xx errors - retry all attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
			expectKind:    apperrors.KindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount atomic.Int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(requestCount.Add(1)) - 1
				if n >= len(tt.responses) {
					w.WriteHeader(500)
					w.Write([]byte("Unexpected request"))
					return
				}
				if statusCode := tt.responses[n]; statusCode != 200 {
					w.WriteHeader(statusCode)
					w.Write([]byte(fmt.Sprintf("Error %d", statusCode)))
					return
				}
				w.Header().Set("Content-Type", "image/png")
				w.Write(pngData)
			}))
			defer server.Close()

			asset, err := newTestFetcher(0).FetchImage(context.Background(), server.URL+"/photos/tower.png")

			if got := int(requestCount.Load()); got != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, got)
			}

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, but got none")
				}
				if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %s", tt.errorContains, err.Error())
				}
				if !apperrors.IsKind(err, tt.expectKind) {
					t.Errorf("Expected kind %s, got %v", tt.expectKind, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error, got: %s", err.Error())
			}
			if string(asset.Data) != string(pngData) {
				t.Error("Expected body bytes to be returned unchanged")
			}
			if asset.MIMEType != "image/png" {
				t.Errorf("Expected image/png, got %q", asset.MIMEType)
			}
			if asset.Filename != "tower.png" {
				t.Errorf("Expected filename tower.png, got %q", asset.Filename)
			}
		})
	}
}

func TestHTTPImageFetcher_NetworkError_Retry(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCount.Add(1) < 3 {
			// Simulate network error by closing connection
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer server.Close()

	start := time.Now()
	_, err := newTestFetcher(0).FetchImage(context.Background(), server.URL)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got error: %s", err.Error())
	}
	if got := requestCount.Load(); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	// Linear backoff: 1 + 2 units
	if duration < 30*time.Millisecond {
		t.Errorf("Expected at least 30ms due to backoff, took %v", duration)
	}
}

func TestHTTPImageFetcher_SizeLimit(t *testing.T) {
	tests := []struct {
		name          string
		contentLength bool
	}{
		{"declared length", true},
		{"chunked body", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount atomic.Int32
			body := make([]byte, 1024)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requestCount.Add(1)
				if tt.contentLength {
					w.Header().Set("Content-Length", "1024")
				} else {
					w.(http.Flusher).Flush()
				}
				w.Write(body)
			}))
			defer server.Close()

			_, err := newTestFetcher(100).FetchImage(context.Background(), server.URL)
			if !apperrors.IsKind(err, apperrors.KindPayloadTooLarge) {
				t.Errorf("Expected payload_too_large, got %v", err)
			}
			if requestCount.Load() != 1 {
				t.Errorf("Expected oversize body not to be retried, got %d requests", requestCount.Load())
			}
		})
	}
}

func TestHTTPImageFetcher_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(0).FetchImage(ctx, server.URL)
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
	if got := apperrors.GetStatusCode(err); got != http.StatusGatewayTimeout {
		t.Errorf("Expected 504 for canceled fetch, got %d", got)
	}
}

func TestHTTPImageFetcher_RefusesPrivateAddresses(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer server.Close()

	f := NewHTTPImageFetcher(5*time.Second, 0)
	f.backoff = 10 * time.Millisecond

	_, err := f.FetchImage(context.Background(), server.URL)
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("Expected validation_error, got %v", err)
	}
	if !errors.Is(err, errBlockedAddress) {
		t.Errorf("Expected blocked address cause, got %v", err)
	}
	if requestCount.Load() != 0 {
		t.Errorf("Expected no request to reach the server, got %d", requestCount.Load())
	}
}

func TestCheckAddress(t *testing.T) {
	tests := []struct {
		address string
		wantErr bool
	}{
		{"93.184.216.34:443", false},
		{"[2606:4700::1111]:443", false},
		{"127.0.0.1:80", true},
		{"169.254.169.254:80", true},
		{"10.0.0.7:8080", true},
		{"[::1]:80", true},
	}

	f := NewHTTPImageFetcher(time.Second, 0)
	for _, tt := range tests {
		err := f.checkAddress("tcp", tt.address, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkAddress(%s) error = %v, wantErr %v", tt.address, err, tt.wantErr)
		}
	}

	f.AllowPrivateNetworks()
	if err := f.checkAddress("tcp", "127.0.0.1:80", nil); err != nil {
		t.Errorf("Expected loopback to pass once private networks are allowed, got %v", err)
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"image/jpeg", "image/jpeg"},
		{"Image/PNG; charset=binary", "image/png"},
		{"application/octet-stream", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := mediaType(tt.in); got != tt.want {
			t.Errorf("mediaType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
