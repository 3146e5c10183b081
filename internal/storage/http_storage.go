package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"syscall"
	"time"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/pkg/models"
	"github.com/anime-shed/photo-locator-go/pkg/validation"
)

const (
	defaultMaxAttempts  = 3
	defaultMaxImageSize = 20 * 1024 * 1024
	userAgent           = "photo-locator/1.0"
)

var errBlockedAddress = errors.New("destination address is not public")

// ImageFetcher downloads the raw bytes of a remote image
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (*models.ImageAsset, error)
}

// HTTPImageFetcher implements ImageFetcher over plain HTTP(S) with retries on
// transient failures
type HTTPImageFetcher struct {
	client      *http.Client
	maxBytes    int64
	maxAttempts int
	backoff     time.Duration
	// allowPrivate disables the dial-time address check
	allowPrivate bool
}

// NewHTTPImageFetcher creates an HTTP image fetcher. timeout bounds each
// attempt; maxBytes caps the downloaded size.
func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageSize
	}

	h := &HTTPImageFetcher{
		maxBytes:    maxBytes,
		maxAttempts: defaultMaxAttempts,
		backoff:     time.Second,
	}

	// No proxy: the address check must see the real destination, and it
	// runs after DNS resolution so rebinding tricks are caught too.
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   h.checkAddress,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Images are already compressed
		DisableCompression:     true,
		MaxResponseHeaderBytes: 16 * 1024,
	}

	h.client = &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	}
	return h
}

// AllowPrivateNetworks lets the fetcher connect to loopback, private and
// link-local addresses. Call it before the first fetch.
func (h *HTTPImageFetcher) AllowPrivateNetworks() *HTTPImageFetcher {
	h.allowPrivate = true
	return h
}

// checkAddress runs for every outgoing connection, redirects included,
// with the already resolved address.
func (h *HTTPImageFetcher) checkAddress(network, address string, _ syscall.RawConn) error {
	if h.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !validation.IsPublicIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

// FetchImage downloads imageURL. 4xx responses are not retried; 5xx and
// transport errors are retried with linear backoff.
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (*models.ImageAsset, error) {
	var lastErr error

	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewUpstreamError(http.StatusGatewayTimeout, "image fetch canceled", "", ctx.Err())
			case <-time.After(time.Duration(attempt) * h.backoff):
			}
		}

		asset, retry, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return asset, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, apperrors.NewUpstreamError(
		http.StatusBadGateway,
		"failed to fetch image",
		fmt.Sprintf("gave up after %d attempts", h.maxAttempts),
		lastErr,
	)
}

// fetchOnce performs a single GET and reports whether a failure is worth retrying.
func (h *HTTPImageFetcher) fetchOnce(ctx context.Context, imageURL string) (*models.ImageAsset, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, apperrors.NewValidationError("invalid URL", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, apperrors.NewUpstreamError(http.StatusGatewayTimeout, "image fetch canceled", "", err)
		}
		if errors.Is(err, errBlockedAddress) {
			return nil, false, apperrors.NewValidationError("URL host not allowed", err)
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, apperrors.NewDecodeError(
			fmt.Sprintf("client error: status code %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, false, apperrors.NewDecodeError(
			fmt.Sprintf("unexpected status code %d", resp.StatusCode), nil)
	}

	if resp.ContentLength > h.maxBytes {
		return nil, false, apperrors.NewPayloadTooLargeError(resp.ContentLength, h.maxBytes)
	}

	data, err := readLimited(resp.Body, h.maxBytes)
	if err != nil {
		return nil, !apperrors.IsKind(err, apperrors.KindPayloadTooLarge), err
	}

	return &models.ImageAsset{
		Data:     data,
		MIMEType: mediaType(resp.Header.Get("Content-Type")),
		Filename: path.Base(req.URL.Path),
	}, false, nil
}

// readLimited reads at most limit bytes and fails if the body is longer.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, apperrors.NewPayloadTooLargeError(int64(len(data)), limit)
	}
	return data, nil
}

// mediaType strips parameters from a Content-Type header. Non-image types
// are dropped so the normalizer sniffs the bytes instead.
func mediaType(contentType string) string {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !strings.HasPrefix(mt, "image/") {
		return ""
	}
	return mt
}
