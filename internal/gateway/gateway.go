// Package gateway relays a normalized image and the location prompt to the
// Gemini generateContent API and classifies every outcome into a result.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-locator-go/internal/config"
	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/metrics"
	"github.com/anime-shed/photo-locator-go/internal/observer"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxPayloadBytes = 20 * 1024 * 1024

	// maxUpstreamBody bounds how much of an upstream response is read.
	maxUpstreamBody = 4 * 1024 * 1024
	// maxDetailsLen bounds the upstream body echoed back in failure details.
	maxDetailsLen = 2048

	defaultMIMEType = "image/jpeg"
)

// Inline image types accepted by the upstream.
var supportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// Options configure a Gateway.
type Options struct {
	APIKey          string
	Model           string
	BaseURL         string
	PromptTemplate  string
	Timeout         time.Duration
	MaxPayloadBytes int64
	HTTPClient      *http.Client
	Events          observer.Subject
}

// OptionsFromConfig maps the service configuration onto gateway options.
func OptionsFromConfig(cfg *config.Config, events observer.Subject) Options {
	return Options{
		APIKey:          cfg.APIKey,
		Model:           cfg.Model,
		BaseURL:         cfg.BaseURL,
		PromptTemplate:  cfg.PromptTemplate,
		Timeout:         cfg.UpstreamTimeout,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		Events:          events,
	}
}

// Gateway is stateless across calls and safe for concurrent use.
type Gateway struct {
	apiKey          string
	endpoint        string
	model           string
	prompt          *Prompt
	timeout         time.Duration
	maxPayloadBytes int64
	client          *http.Client
	events          observer.Subject
}

// New builds a Gateway. It fails only on an unparseable prompt template; a
// missing API key is reported by Analyze.
func New(opts Options) (*Gateway, error) {
	prompt, err := NewPrompt(opts.PromptTemplate)
	if err != nil {
		return nil, err
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Events == nil {
		opts.Events = observer.Nop{}
	}

	return &Gateway{
		apiKey:          strings.TrimSpace(opts.APIKey),
		endpoint:        generateContentURL(strings.TrimRight(opts.BaseURL, "/"), opts.Model),
		model:           opts.Model,
		prompt:          prompt,
		timeout:         opts.Timeout,
		maxPayloadBytes: opts.MaxPayloadBytes,
		client:          opts.HTTPClient,
		events:          opts.Events,
	}, nil
}

// HasCredential reports whether an API key is configured.
func (g *Gateway) HasCredential() bool {
	return g.apiKey != ""
}

// Model returns the upstream model name.
func (g *Gateway) Model() string {
	return g.model
}

// Analyze runs one analysis. It never panics and never returns an error:
// every outcome, including a recovered panic, is a models.AnalysisResult.
func (g *Gateway) Analyze(ctx context.Context, req models.AnalysisRequest) (result models.AnalysisResult) {
	start := time.Now()
	event := observer.AnalysisEvent{
		RequestID:    logger.RequestIDFromContext(ctx),
		HintProvided: strings.TrimSpace(req.Hint) != "",
		PayloadBytes: len(req.Payload.EncodedData),
	}
	g.publish(ctx, observer.AnalysisStarted, event)

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).WithField("panic", r).Error("Recovered panic during analysis")
			result = models.Failed(apperrors.NewInternalError(fmt.Sprintf("unexpected failure: %v", r), nil))
		}

		event.ProcessingTime = time.Since(start)
		if f := result.Failure(); f != nil {
			event.ErrorKind = string(f.Kind)
			event.StatusCode = f.StatusCode
			event.ErrorMessage = f.Message
			g.publish(ctx, observer.AnalysisFailed, event)
			return
		}
		event.Success = true
		g.publish(ctx, observer.AnalysisCompleted, event)
	}()

	text, err := g.analyze(ctx, req)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.NewInternalError(err.Error(), err)
		}
		return models.Failed(appErr)
	}
	return models.Succeeded(text)
}

func (g *Gateway) analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	log := logger.FromContext(ctx)

	if !g.HasCredential() {
		return "", apperrors.NewConfigError("API key is missing")
	}

	data, mimeType, err := g.preparePayload(req.Payload)
	if err != nil {
		return "", err
	}

	instruction, err := g.prompt.Render(req.Hint)
	if err != nil {
		return "", apperrors.NewInternalError("failed to build prompt", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := newUpstreamRequest(ctx, g.endpoint, g.apiKey, newGenerateContentBody(instruction, mimeType, data))
	if err != nil {
		return "", apperrors.NewInternalError("failed to build upstream request", err)
	}

	log.WithFields(logrus.Fields{
		"model":         g.model,
		"mime_type":     mimeType,
		"payload_bytes": len(data),
	}).Debug("Sending image to upstream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusText := http.StatusText(resp.StatusCode)
		if statusText == "" {
			statusText = resp.Status
		}
		log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body_bytes":  len(body),
		}).Warn("Upstream returned non-success status")
		return "", apperrors.NewUpstreamError(
			resp.StatusCode,
			statusText,
			fmt.Sprintf("%s: %s", statusText, truncate(string(body), maxDetailsLen)),
			nil,
		)
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperrors.NewInternalError("failed to parse upstream response", err)
	}

	text := parsed.firstText()
	if text == "" {
		log.WithField("block_reason", parsed.blockReason()).Info("Upstream returned no location text")
		metrics.LocationNotFoundTotal.Inc()
		return models.LocationNotFound, nil
	}
	return text, nil
}

// preparePayload validates the base64 payload and resolves the MIME type sent
// upstream. The returned data is the payload with any data URL prefix removed.
func (g *Gateway) preparePayload(p models.NormalizedPayload) (string, string, error) {
	data := strings.TrimSpace(p.EncodedData)
	declared := strings.TrimSpace(p.MIMEType)
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			if declared == "" {
				declared = strings.TrimSuffix(strings.TrimPrefix(data[:i], "data:"), ";base64")
			}
			data = data[i+1:]
		}
	}
	if data == "" {
		return "", "", apperrors.NewDecodeError("image data is empty", nil)
	}

	if size := int64(base64.StdEncoding.DecodedLen(len(data))); size > g.maxPayloadBytes+2 {
		return "", "", apperrors.NewPayloadTooLargeError(size, g.maxPayloadBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", apperrors.NewDecodeError("image data is not valid base64", err)
	}
	if size := int64(len(raw)); size > g.maxPayloadBytes {
		return "", "", apperrors.NewPayloadTooLargeError(size, g.maxPayloadBytes)
	}

	return data, resolveMIMEType(declared, raw), nil
}

// resolveMIMEType prefers a supported declared type, then a supported sniffed
// type, then JPEG.
func resolveMIMEType(declared string, raw []byte) string {
	declared = strings.ToLower(declared)
	if supportedMIMETypes[declared] {
		return declared
	}
	if sniffed := mimetype.Detect(raw).String(); supportedMIMETypes[sniffed] {
		return sniffed
	}
	return defaultMIMEType
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewUpstreamError(http.StatusGatewayTimeout, "upstream request timed out", "", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewInternalError("analysis canceled", err)
	default:
		return apperrors.NewUpstreamError(http.StatusBadGateway, "upstream request failed", "", err)
	}
}

func (g *Gateway) publish(ctx context.Context, eventType observer.EventType, event observer.AnalysisEvent) {
	event.EventType = eventType
	event.Source = "gateway"
	event.Timestamp = time.Now()
	g.events.NotifyObservers(ctx, event)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
