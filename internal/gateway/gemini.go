package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"

	apiKeyHeader = "x-goog-api-key"
)

// generateContentRequest is the request body for models/*:generateContent
type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

// part holds either Text or InlineData, never both.
type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// generateContentResponse is the subset of the response the gateway reads
type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// firstText returns candidates[0].content.parts[0].text, or "" when any step
// of that path is missing.
func (r *generateContentResponse) firstText() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

func (r *generateContentResponse) blockReason() string {
	if r.PromptFeedback == nil {
		return ""
	}
	return r.PromptFeedback.BlockReason
}

// newGenerateContentBody builds one content unit with the instruction text
// followed by the inline image.
func newGenerateContentBody(instruction, mimeType, data string) generateContentRequest {
	return generateContentRequest{
		Contents: []content{{
			Parts: []part{
				{Text: instruction},
				{InlineData: &inlineData{MIMEType: mimeType, Data: data}},
			},
		}},
	}
}

// generateContentURL returns the endpoint for model. The API key is sent as a
// header and never appears in the URL.
func generateContentURL(baseURL, model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, url.PathEscape(model))
}

func newUpstreamRequest(ctx context.Context, endpoint, apiKey string, body generateContentRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, apiKey)
	return req, nil
}
