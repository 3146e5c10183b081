package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/observer"
	"github.com/anime-shed/photo-locator-go/pkg/models"
	"github.com/anime-shed/photo-locator-go/pkg/validation"
)

// Source validates an image URL and routes it to the matching fetcher:
// Azure Blob Storage URLs go to the blob fetcher when one is configured,
// everything else to plain HTTP.
type Source struct {
	validator *validation.URLValidator
	http      ImageFetcher
	blob      ImageFetcher
	events    observer.Subject
}

// NewSource builds a Source. blob may be nil.
func NewSource(validator *validation.URLValidator, httpFetcher, blob ImageFetcher, events observer.Subject) *Source {
	if events == nil {
		events = observer.Nop{}
	}
	return &Source{validator: validator, http: httpFetcher, blob: blob, events: events}
}

// FetchImage validates imageURL and downloads it.
func (s *Source) FetchImage(ctx context.Context, imageURL string) (*models.ImageAsset, error) {
	start := time.Now()

	u, err := s.validator.ValidateImageURL(imageURL)
	if err != nil {
		return nil, err
	}

	fetcher, source := s.http, "http"
	if validation.IsAzureBlobURL(u) && s.blob != nil {
		fetcher, source = s.blob, "azure_blob"
	}
	if fetcher == nil {
		return nil, apperrors.NewConfigError("no image fetcher configured")
	}

	asset, err := fetcher.FetchImage(ctx, u.String())
	event := observer.AnalysisEvent{
		RequestID:      logger.RequestIDFromContext(ctx),
		Source:         source,
		ProcessingTime: time.Since(start),
		Metadata:       map[string]interface{}{"host": u.Hostname()},
	}
	if err != nil {
		event.EventType = observer.ImageFetchFailed
		event.ErrorMessage = err.Error()
		event.StatusCode = apperrors.GetStatusCode(err)
		s.events.NotifyObservers(ctx, event)
		return nil, err
	}

	event.EventType = observer.ImageFetched
	event.Success = true
	event.PayloadBytes = len(asset.Data)
	s.events.NotifyObservers(ctx, event)

	logger.FromContext(ctx).WithFields(logrus.Fields{
		"source": source,
		"bytes":  len(asset.Data),
		"mime":   asset.MIMEType,
	}).Debug("Remote image fetched")

	return asset, nil
}

