// Package client calls the photo locator HTTP API and turns every response
// into an AnalysisResult, the same shape the server side produces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 60 * time.Second

	analyzeImagePath = "/analyze-image"
	uploadPath       = "/upload"

	// maxResponseBody bounds how much of a server response is read.
	maxResponseBody = 1 << 20
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the whole-request timeout on the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AnalyzeImage posts an already normalized payload to /analyze-image.
func (c *Client) AnalyzeImage(ctx context.Context, payload models.NormalizedPayload, hint string) models.AnalysisResult {
	body, err := json.Marshal(models.AnalyzeImageRequest{
		Base64Image:  payload.EncodedData,
		UserLocation: hint,
		MIMEType:     payload.MIMEType,
	})
	if err != nil {
		return models.Failed(apperrors.NewInternalError("failed to encode request", err))
	}
	return c.post(ctx, analyzeImagePath, "application/json", bytes.NewReader(body))
}

// Upload sends raw image bytes as multipart form data and lets the server
// normalize them.
func (c *Client) Upload(ctx context.Context, asset models.ImageAsset, hint string) models.AnalysisResult {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := asset.Filename
	if filename == "" {
		filename = "image"
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	if asset.MIMEType != "" {
		hdr.Set("Content-Type", asset.MIMEType)
	} else {
		hdr.Set("Content-Type", "application/octet-stream")
	}

	part, err := mw.CreatePart(hdr)
	if err == nil {
		_, err = part.Write(asset.Data)
	}
	if err == nil {
		err = mw.WriteField("userLocation", hint)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return models.Failed(apperrors.NewInternalError("failed to build multipart body", err))
	}

	return c.post(ctx, uploadPath, mw.FormDataContentType(), &buf)
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) models.AnalysisResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return models.Failed(apperrors.NewInternalError("failed to create request", err))
	}
	requestID := logger.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Failed(transportError(ctx, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return models.Failed(transportError(ctx, err))
	}

	logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"path":        path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Location request completed")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var lr models.LocationResponse
		if err := json.Unmarshal(raw, &lr); err != nil {
			return models.Failed(apperrors.NewInternalError("failed to parse server response", err))
		}
		if strings.TrimSpace(lr.Location) == "" {
			return models.Succeeded(models.LocationNotFound)
		}
		return models.Succeeded(lr.Location)
	}

	return models.Failed(responseError(resp.StatusCode, raw))
}

// responseError rebuilds the server's failure from its status and body. The
// kind field is trusted when present; older servers only send {error}.
func responseError(status int, raw []byte) *apperrors.AppError {
	var er models.ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Error == "" {
		er = models.ErrorResponse{Error: http.StatusText(status), Details: strings.TrimSpace(string(raw))}
	}

	kind := apperrors.Kind(er.Kind)
	if er.Kind == "" {
		kind = kindForStatus(status)
	}
	return &apperrors.AppError{
		Kind:       kind,
		Message:    er.Error,
		Details:    er.Details,
		StatusCode: status,
	}
}

func kindForStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return apperrors.KindPayloadTooLarge
	case status == http.StatusUnprocessableEntity:
		return apperrors.KindDecode
	case status == http.StatusBadRequest:
		return apperrors.KindValidation
	case status == http.StatusInternalServerError:
		return apperrors.KindInternal
	default:
		return apperrors.KindUpstream
	}
}

func transportError(ctx context.Context, err error) *apperrors.AppError {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return apperrors.NewInternalError("request canceled", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewUpstreamError(http.StatusGatewayTimeout, "request timed out", "", err)
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewUpstreamError(http.StatusGatewayTimeout, "request timed out", "", err)
		}
		return apperrors.NewUpstreamError(http.StatusBadGateway, "failed to reach server", "", err)
	}
}
