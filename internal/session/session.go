// Package session holds the client-side state of one photo analysis flow:
// choose an image, preview it, analyze it, show the outcome, start over.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

// State is the current phase of a session
type State int

const (
	Idle State = iota
	Previewing
	Analyzing
	Done
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Previewing:
		return "previewing"
	case Analyzing:
		return "analyzing"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrAnalysisInProgress rejects any change while an analysis is pending.
	ErrAnalysisInProgress = errors.New("an analysis is already in progress")
	// ErrNoImage is returned by Analyze before an image was selected.
	ErrNoImage = errors.New("no image selected")
)

// Analyzer sends a normalized payload for analysis. *client.Client
// implements it.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, payload models.NormalizedPayload, hint string) models.AnalysisResult
}

// Normalizer prepares a selected image for transport.
type Normalizer interface {
	Normalize(asset models.ImageAsset) (*models.NormalizedPayload, error)
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State    State
	Filename string
	// Preview is kept through Analyzing, Done and Error so a failed attempt
	// can be retried without selecting the image again.
	Preview *models.NormalizedPayload
	Hint    string
	Result  *models.AnalysisResult
}

// Listener is called after every transition, outside the session lock.
type Listener func(prev, next Snapshot)

type Session struct {
	mu         sync.Mutex
	snap       Snapshot
	analyzer   Analyzer
	normalizer Normalizer
	listeners  []Listener
}

func New(analyzer Analyzer, normalizer Normalizer) *Session {
	return &Session{analyzer: analyzer, normalizer: normalizer}
}

// OnChange registers l for every subsequent transition.
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Select normalizes asset and makes it the previewed image. A decode
// failure moves the session to Error with no preview.
func (s *Session) Select(asset models.ImageAsset) error {
	if s.Snapshot().State == Analyzing {
		return ErrAnalysisInProgress
	}

	payload, err := s.normalizer.Normalize(asset)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.NewDecodeError("failed to process image", err)
		}
		result := models.Failed(appErr)
		if applyErr := s.apply(selectFailed{filename: asset.Filename, result: result}); applyErr != nil {
			return applyErr
		}
		return err
	}
	return s.apply(selected{filename: asset.Filename, payload: *payload})
}

// Analyze sends the previewed image with hint. Only one analysis may be
// pending; a concurrent call gets ErrAnalysisInProgress. When ctx ends
// before the result arrives the session returns to Previewing and the
// context error is returned alongside the result. A rejected call returns a
// failed result together with the rejection error.
func (s *Session) Analyze(ctx context.Context, hint string) (models.AnalysisResult, error) {
	if err := s.apply(analyzeStarted{hint: hint}); err != nil {
		return models.Failed(apperrors.NewValidationError(err.Error(), err)), err
	}
	payload := s.Snapshot().Preview

	result := s.analyzer.AnalyzeImage(ctx, *payload, hint)

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = s.apply(analyzeCanceled{})
		logger.FromContext(ctx).WithError(ctxErr).Debug("Analysis canceled")
		return result, ctxErr
	}
	if err := s.apply(analyzeFinished{result: result}); err != nil {
		return result, err
	}
	return result, nil
}

// Reset discards the preview and any result.
func (s *Session) Reset() error {
	return s.apply(reset{})
}

type event interface{ name() string }

type selected struct {
	filename string
	payload  models.NormalizedPayload
}

type selectFailed struct {
	filename string
	result   models.AnalysisResult
}

type analyzeStarted struct{ hint string }

type analyzeFinished struct{ result models.AnalysisResult }

type analyzeCanceled struct{}

type reset struct{}

func (selected) name() string { return "selected" }
func (selectFailed) name() string { return "select_failed" }
func (analyzeStarted) name() string { return "analyze_started" }
func (analyzeFinished) name() string { return "analyze_finished" }
func (analyzeCanceled) name() string { return "analyze_canceled" }
func (reset) name() string { return "reset" }

// apply is the only place the session state changes.
func (s *Session) apply(ev event) error {
	s.mu.Lock()
	prev := s.snap
	next, err := transition(prev, ev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.snap = next
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"event": ev.name(),
		"from":  prev.State.String(),
		"to":    next.State.String(),
	}).Debug("Session transition")

	for _, l := range listeners {
		l(prev, next)
	}
	return nil
}

func transition(cur Snapshot, ev event) (Snapshot, error) {
	switch e := ev.(type) {
	case selected:
		if cur.State == Analyzing {
			return cur, ErrAnalysisInProgress
		}
		payload := e.payload
		return Snapshot{State: Previewing, Filename: e.filename, Preview: &payload}, nil

	case selectFailed:
		if cur.State == Analyzing {
			return cur, ErrAnalysisInProgress
		}
		result := e.result
		return Snapshot{State: Error, Filename: e.filename, Result: &result}, nil

	case analyzeStarted:
		if cur.State == Analyzing {
			return cur, ErrAnalysisInProgress
		}
		if cur.Preview == nil {
			return cur, ErrNoImage
		}
		next := cur
		next.State = Analyzing
		next.Hint = e.hint
		next.Result = nil
		return next, nil

	case analyzeFinished:
		if cur.State != Analyzing {
			return cur, errors.New("no analysis in progress")
		}
		result := e.result
		next := cur
		next.Result = &result
		if result.OK() {
			next.State = Done
		} else {
			next.State = Error
		}
		return next, nil

	case analyzeCanceled:
		if cur.State != Analyzing {
			return cur, errors.New("no analysis in progress")
		}
		next := cur
		next.State = Previewing
		next.Result = nil
		return next, nil

	case reset:
		if cur.State == Analyzing {
			return cur, ErrAnalysisInProgress
		}
		return Snapshot{State: Idle}, nil
	}
	return cur, errors.New("unknown session event")
}
