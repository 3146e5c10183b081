package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/observer"
	"github.com/anime-shed/photo-locator-go/internal/storage"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

// LocationService turns the three kinds of input the HTTP layer accepts into
// a single gateway analysis each.
type LocationService interface {
	// AnalyzeEncoded forwards an already normalized payload.
	AnalyzeEncoded(ctx context.Context, payload models.NormalizedPayload, hint string) models.AnalysisResult
	// AnalyzeUpload normalizes raw uploaded bytes, then analyzes them.
	AnalyzeUpload(ctx context.Context, asset models.ImageAsset, hint string) models.AnalysisResult
	// AnalyzeURL fetches, normalizes and analyzes a remote image.
	AnalyzeURL(ctx context.Context, imageURL, hint string) models.AnalysisResult
}

// Analyzer is satisfied by *gateway.Gateway
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) models.AnalysisResult
}

// Normalizer is satisfied by *normalizer.Normalizer
type Normalizer interface {
	Normalize(asset models.ImageAsset) (*models.NormalizedPayload, error)
}

type locationService struct {
	analyzer   Analyzer
	normalizer Normalizer
	fetcher    storage.ImageFetcher
	pool       *WorkerPool
	events     observer.Subject
}

// NewLocationService wires the pipeline. pool must be started by the caller.
func NewLocationService(
	analyzer Analyzer,
	normalizer Normalizer,
	fetcher storage.ImageFetcher,
	pool *WorkerPool,
	events observer.Subject,
) LocationService {
	if events == nil {
		events = observer.Nop{}
	}
	return &locationService{
		analyzer:   analyzer,
		normalizer: normalizer,
		fetcher:    fetcher,
		pool:       pool,
		events:     events,
	}
}

func (s *locationService) AnalyzeEncoded(ctx context.Context, payload models.NormalizedPayload, hint string) models.AnalysisResult {
	return s.analyzer.Analyze(ctx, models.AnalysisRequest{Payload: payload, Hint: hint})
}

func (s *locationService) AnalyzeUpload(ctx context.Context, asset models.ImageAsset, hint string) models.AnalysisResult {
	payload, err := s.normalize(ctx, asset)
	if err != nil {
		return failed(err)
	}
	return s.AnalyzeEncoded(ctx, *payload, hint)
}

func (s *locationService) AnalyzeURL(ctx context.Context, imageURL, hint string) models.AnalysisResult {
	if s.fetcher == nil {
		return models.Failed(apperrors.NewConfigError("remote images are not enabled"))
	}
	asset, err := s.fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		return failed(err)
	}
	return s.AnalyzeUpload(ctx, *asset, hint)
}

func (s *locationService) normalize(ctx context.Context, asset models.ImageAsset) (*models.NormalizedPayload, error) {
	start := time.Now()

	var payload *models.NormalizedPayload
	err := s.pool.Do(ctx, func() error {
		var err error
		payload, err = s.normalizer.Normalize(asset)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, apperrors.NewInternalError("normalization did not start before the request ended", err)
		}
		return nil, err
	}

	s.events.NotifyObservers(ctx, observer.AnalysisEvent{
		EventType:      observer.ImageNormalized,
		RequestID:      logger.RequestIDFromContext(ctx),
		Source:         "normalizer",
		PayloadBytes:   len(payload.EncodedData),
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata: map[string]interface{}{
			"width":  payload.Width,
			"height": payload.Height,
			"mime":   payload.MIMEType,
		},
	})
	return payload, nil
}

// failed converts any error into a failure result, keeping AppError kinds.
func failed(err error) models.AnalysisResult {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError(err.Error(), err)
	}
	return models.Failed(appErr)
}
