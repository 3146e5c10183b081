package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-locator-go/internal/config"
	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/metrics"
	"github.com/anime-shed/photo-locator-go/internal/service"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

const (
	// AnalyzeImagePath is the JSON contract used by the browser page.
	AnalyzeImagePath = "/analyze-image"
	// NetlifyAnalyzeImagePath keeps the serverless function path working.
	NetlifyAnalyzeImagePath = "/.netlify/functions/analyze-image"
	UploadPath              = "/upload"
	AnalyzeURLPath          = "/analyze-url"

	version = "1.0.0"
)

// StatsProvider exposes an in-process analysis summary for /health
type StatsProvider interface {
	GetMetrics() map[string]interface{}
}

// NewHandler builds the gin engine. stats may be nil.
func NewHandler(svc service.LocationService, stats StatsProvider, cfg *config.Config) http.Handler {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		requestID(),
		metrics.HTTPMetrics(),
		requestLogger(),
		corsMiddleware(cfg.CORSAllowedOrigins),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", healthCheck(stats, cfg))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	analysis := r.Group("/", limiter.middleware())
	analysis.POST(AnalyzeImagePath, analyzeImage(svc, cfg))
	analysis.POST(NetlifyAnalyzeImagePath, analyzeImage(svc, cfg))
	analysis.POST(UploadPath, uploadImage(svc, cfg))
	analysis.POST(AnalyzeURLPath, analyzeURL(svc, cfg))

	return r
}

func analyzeImage(svc service.LocationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var req models.AnalyzeImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bodyError(err, cfg.MaxRequestBodySize, "invalid request body"))
			return
		}

		result := svc.AnalyzeEncoded(ctx, models.NormalizedPayload{
			EncodedData: req.Base64Image,
			MIMEType:    req.MIMEType,
		}, req.UserLocation)
		respondResult(c, result)
	}
}

func uploadImage(svc service.LocationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		fileHeader, err := c.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
				respondError(c, apperrors.NewValidationError("multipart field \"image\" is required", err))
				return
			}
			respondError(c, bodyError(err, cfg.MaxRequestBodySize, "invalid multipart body"))
			return
		}
		if fileHeader.Size > cfg.MaxPayloadBytes {
			respondError(c, apperrors.NewPayloadTooLargeError(fileHeader.Size, cfg.MaxPayloadBytes))
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			respondError(c, apperrors.NewInternalError("failed to open upload", err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			respondError(c, apperrors.NewInternalError("failed to read upload", err))
			return
		}

		asset := models.ImageAsset{
			Data:     data,
			MIMEType: fileHeader.Header.Get("Content-Type"),
			Filename: fileHeader.Filename,
		}
		respondResult(c, svc.AnalyzeUpload(ctx, asset, c.PostForm("userLocation")))
	}
}

func analyzeURL(svc service.LocationService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var req models.AnalyzeURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			appErr := bodyError(err, cfg.MaxRequestBodySize, "invalid request format")
			if appErr.Kind == apperrors.KindInternal {
				// Binding tag failures such as a missing url are the caller's fault.
				appErr = apperrors.NewValidationError("invalid request format", err)
			}
			respondError(c, appErr)
			return
		}

		respondResult(c, svc.AnalyzeURL(ctx, req.URL, req.UserLocation))
	}
}

func healthCheck(stats StatsProvider, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":             "available",
			"version":            version,
			"time":               time.Now().UTC().Format(time.RFC3339),
			"model":              cfg.Model,
			"gateway_configured": cfg.HasCredential(),
		}
		if stats != nil {
			body["analyses"] = stats.GetMetrics()
		}
		c.JSON(http.StatusOK, body)
	}
}

// bodyError classifies a failure to read or parse a request body. An
// oversized body is PayloadTooLarge; anything else is reported as internal,
// matching how the serverless function treated an unparseable body.
func bodyError(err error, limit int64, message string) *apperrors.AppError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return apperrors.NewPayloadTooLargeError(limit+1, limit)
	}
	return apperrors.NewInternalError(message, err)
}

func respondResult(c *gin.Context, result models.AnalysisResult) {
	if result.OK() {
		c.JSON(http.StatusOK, models.LocationResponse{Location: result.LocationText()})
		return
	}
	f := result.Failure()
	respondError(c, &apperrors.AppError{
		Kind:       f.Kind,
		Message:    f.Message,
		Details:    f.Details,
		StatusCode: f.StatusCode,
	})
}

func respondError(c *gin.Context, err *apperrors.AppError) {
	code := err.StatusCode
	if code < 400 || code > 599 {
		code = http.StatusInternalServerError
	}

	entry := logger.FromContext(c.Request.Context()).WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"kind":        err.Kind,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, errorResponse(err))
}

// errorResponse builds the public body. Internal and config failures expose
// no details; their messages are only logged.
func errorResponse(err *apperrors.AppError) models.ErrorResponse {
	resp := models.ErrorResponse{
		Error: apperrors.UserMessage(err.Kind),
		Kind:  string(err.Kind),
	}
	switch err.Kind {
	case apperrors.KindInternal, apperrors.KindConfig:
	default:
		resp.Details = err.Details
		if resp.Details == "" && err.Message != resp.Error {
			resp.Details = err.Message
		}
	}
	return resp
}
