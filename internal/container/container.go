package container

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-locator-go/internal/config"
	"github.com/anime-shed/photo-locator-go/internal/gateway"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/normalizer"
	"github.com/anime-shed/photo-locator-go/internal/observer"
	"github.com/anime-shed/photo-locator-go/internal/service"
	"github.com/anime-shed/photo-locator-go/internal/storage"
	"github.com/anime-shed/photo-locator-go/internal/transport"
	"github.com/anime-shed/photo-locator-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config          *config.Config
	events          *observer.EventPublisher
	stats           *observer.MetricsObserver
	gateway         *gateway.Gateway
	pool            *service.WorkerPool
	imageSource     *storage.Source
	locationService service.LocationService
	handler         http.Handler
}

// NewContainer builds the dependency graph from cfg
func NewContainer(cfg *config.Config) (*Container, error) {
	events := observer.NewEventPublisher()
	stats := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(stats)

	gw, err := gateway.New(gateway.OptionsFromConfig(cfg, events))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	norm, err := normalizer.New(normalizer.Options{
		MaxWidth:      cfg.MaxImageWidth,
		MaxHeight:     cfg.MaxImageHeight,
		JPEGQuality:   cfg.JPEGQuality,
		MaxInputBytes: cfg.MaxPayloadBytes,
		MaxPixels:     cfg.MaxImagePixels,
		Filter:        cfg.ResampleFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}

	var blob storage.ImageFetcher
	if cfg.AzureStorageAccount != "" && cfg.AzureStorageKey != "" {
		azureFetcher, err := storage.NewAzureBlobFetcher(cfg.AzureStorageAccount, cfg.AzureStorageKey, cfg.MaxPayloadBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure blob fetcher: %w", err)
		}
		blob = azureFetcher
	}

	validator := validation.NewURLValidatorWithOptions([]string{"http", "https"}, cfg.ImageURLAllowedHosts)
	fetcher := storage.NewHTTPImageFetcher(cfg.ImageFetchTimeout, cfg.MaxPayloadBytes)
	if cfg.ImageURLAllowPrivate {
		validator.AllowPrivateNetworks()
		fetcher.AllowPrivateNetworks()
	}
	source := storage.NewSource(validator, fetcher, blob, events)

	pool := service.NewWorkerPool(cfg.NormalizeWorkers)
	pool.Start()

	svc := service.NewLocationService(gw, norm, source, pool, events)
	handler := transport.NewHandler(svc, stats, cfg)

	logger.WithFields(logrus.Fields{
		"model":              gw.Model(),
		"gateway_configured": gw.HasCredential(),
		"normalize_workers":  pool.Workers(),
		"azure_blob":         blob != nil,
		"allowed_hosts":      cfg.ImageURLAllowedHosts,
		"allow_private_urls": cfg.ImageURLAllowPrivate,
	}).Info("Container initialized")

	return &Container{
		config:          cfg,
		events:          events,
		stats:           stats,
		gateway:         gw,
		pool:            pool,
		imageSource:     source,
		locationService: svc,
		handler:         handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// LocationService returns the analysis pipeline
func (c *Container) LocationService() service.LocationService {
	return c.locationService
}

// Close stops the normalization workers and waits for pending events.
// Call it after the HTTP server has shut down.
func (c *Container) Close() {
	c.pool.Close()
	c.events.Wait()
}
