package models

import (
	"fmt"
	"net/http"

	apperrors "github.com/anime-shed/photo-locator-go/internal/errors"
)

// LocationNotFound is returned as the location text when the upstream answered
// successfully but carried no usable text.
const LocationNotFound = "Location not found."

// ImageAsset is a raw user-selected image for one analysis attempt.
type ImageAsset struct {
	Data     []byte
	MIMEType string
	Filename string
}

// NormalizedPayload is the bounded, re-encoded image ready for transport.
// EncodedData is raw base64 without a data URL prefix.
type NormalizedPayload struct {
	EncodedData string `json:"encoded_data"`
	MIMEType    string `json:"mime_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// DataURL renders the payload for preview display.
func (p NormalizedPayload) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.EncodedData)
}

// AnalysisRequest is the contract between a caller and the gateway.
// Hint is advisory only and may be empty.
type AnalysisRequest struct {
	Payload NormalizedPayload
	Hint    string
}

// Failure describes why an analysis produced no location.
type Failure struct {
	StatusCode int
	Kind       apperrors.Kind
	Message    string
	Details    string
}

// AnalysisResult is either a success carrying LocationText or a Failure.
// Construct it with Succeeded or Failed; the zero value is a failure.
type AnalysisResult struct {
	ok           bool
	locationText string
	failure      *Failure
}

// Succeeded builds a successful result.
func Succeeded(locationText string) AnalysisResult {
	return AnalysisResult{ok: true, locationText: locationText}
}

// Failed builds a failed result from an application error.
func Failed(err *apperrors.AppError) AnalysisResult {
	return AnalysisResult{failure: &Failure{
		StatusCode: err.StatusCode,
		Kind:       err.Kind,
		Message:    err.Message,
		Details:    err.Details,
	}}
}

// OK reports whether the analysis succeeded.
func (r AnalysisResult) OK() bool {
	return r.ok
}

// LocationText returns the extracted text; empty on failure.
func (r AnalysisResult) LocationText() string {
	return r.locationText
}

// Failure returns a copy of the failure, or nil on success.
func (r AnalysisResult) Failure() *Failure {
	if r.ok {
		return nil
	}
	if r.failure == nil {
		return &Failure{
			StatusCode: http.StatusInternalServerError,
			Kind:       apperrors.KindInternal,
			Message:    "analysis produced no result",
		}
	}
	f := *r.failure
	return &f
}
