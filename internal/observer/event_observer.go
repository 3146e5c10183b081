package observer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/anime-shed/photo-locator-go/internal/metrics"

	"github.com/sirupsen/logrus"
)

// AnalysisEvent represents a step in the lifecycle of one location analysis
type AnalysisEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestID      string                 `json:"request_id,omitempty"`
	Source         string                 `json:"source,omitempty"`
	PayloadBytes   int                    `json:"payload_bytes,omitempty"`
	HintProvided   bool                   `json:"hint_provided"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	StatusCode     int                    `json:"status_code,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of analysis event
type EventType string

const (
	// AnalysisStarted when the gateway accepts a request
	AnalysisStarted EventType = "analysis_started"
	// AnalysisCompleted when a location text (or the not-found fallback) is returned
	AnalysisCompleted EventType = "analysis_completed"
	// AnalysisFailed when the gateway returns a failure
	AnalysisFailed EventType = "analysis_failed"
	// ImageFetched when a remote image is downloaded
	ImageFetched EventType = "image_fetched"
	// ImageFetchFailed when a remote image cannot be downloaded
	ImageFetchFailed EventType = "image_fetch_failed"
	// ImageNormalized when an upload has been resized and re-encoded
	ImageNormalized EventType = "image_normalized"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event AnalysisEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event AnalysisEvent)
}

// LoggingObserver logs analysis events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles analysis events by logging them. Hint text and image
// bytes never reach the log, only their presence and size.
func (o *LoggingObserver) OnEvent(ctx context.Context, event AnalysisEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
		"hint_provided":   event.HintProvided,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.PayloadBytes > 0 {
		fields["payload_bytes"] = event.PayloadBytes
	}
	if event.ErrorKind != "" {
		fields["error_kind"] = event.ErrorKind
		fields["status_code"] = event.StatusCode
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case AnalysisStarted:
		entry.Info("Location analysis started")
	case AnalysisCompleted:
		entry.Info("Location analysis completed")
	case AnalysisFailed:
		entry.Error("Location analysis failed")
	case ImageFetched:
		entry.Debug("Image fetched successfully")
	case ImageFetchFailed:
		entry.Error("Image fetch failed")
	case ImageNormalized:
		entry.Debug("Image normalized")
	default:
		entry.Info("Analysis event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver feeds analysis events into the Prometheus collectors and
// keeps a small in-process summary for the health endpoint.
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalAnalyses       int64
	successfulAnalyses  int64
	failedAnalyses      int64
	totalProcessingTime time.Duration
	failuresByKind      map[string]int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{failuresByKind: make(map[string]int64)}
}

// OnEvent handles analysis events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event AnalysisEvent) {
	switch event.EventType {
	case AnalysisStarted:
		metrics.AnalysesInFlight.Inc()
	case AnalysisCompleted:
		metrics.AnalysesInFlight.Dec()
		metrics.AnalysesTotal.WithLabelValues("success").Inc()
		metrics.AnalysisDuration.WithLabelValues("success").Observe(event.ProcessingTime.Seconds())
	case AnalysisFailed:
		metrics.AnalysesInFlight.Dec()
		metrics.AnalysesTotal.WithLabelValues(event.ErrorKind).Inc()
		metrics.AnalysisDuration.WithLabelValues(event.ErrorKind).Observe(event.ProcessingTime.Seconds())
		if event.StatusCode > 0 && event.ErrorKind == "upstream_error" {
			metrics.UpstreamStatusTotal.WithLabelValues(strconv.Itoa(event.StatusCode)).Inc()
		}
	case ImageNormalized:
		metrics.NormalizedBytes.Observe(float64(event.PayloadBytes))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case AnalysisStarted:
		o.totalAnalyses++
	case AnalysisCompleted:
		o.successfulAnalyses++
		o.totalProcessingTime += event.ProcessingTime
	case AnalysisFailed:
		o.failedAnalyses++
		o.failuresByKind[event.ErrorKind]++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successfulAnalyses > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successfulAnalyses)
	}

	byKind := make(map[string]int64, len(o.failuresByKind))
	for k, v := range o.failuresByKind {
		byKind[k] = v
	}

	return map[string]interface{}{
		"total_analyses":      o.totalAnalyses,
		"successful_analyses": o.successfulAnalyses,
		"failed_analyses":     o.failedAnalyses,
		"failures_by_kind":    byKind,
		"avg_processing_time": avgProcessingTime.String(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pending   sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event concurrently
func (p *EventPublisher) NotifyObservers(ctx context.Context, event AnalysisEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		p.pending.Add(1)
		go func(obs Observer) {
			defer p.pending.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Wait blocks until every dispatched notification has been handled.
func (p *EventPublisher) Wait() {
	p.pending.Wait()
}

// Nop is a Subject that drops every event.
type Nop struct{}

func (Nop) Subscribe(Observer) {}

func (Nop) Unsubscribe(Observer) {}

func (Nop) NotifyObservers(context.Context, AnalysisEvent) {}
