package models

// AnalyzeImageRequest is the JSON body accepted by POST /analyze-image.
// Base64Image carries raw base64 with no data URL prefix; UserLocation may be
// empty. MIMEType is optional and sniffed from the data when absent.
type AnalyzeImageRequest struct {
	Base64Image  string `json:"base64Image"`
	UserLocation string `json:"userLocation"`
	MIMEType     string `json:"mimeType,omitempty"`
}

// AnalyzeURLRequest asks the server to fetch, normalize and analyze a remote image.
type AnalyzeURLRequest struct {
	URL          string `json:"url" binding:"required,url"`
	UserLocation string `json:"userLocation"`
}

// LocationResponse is the success body.
type LocationResponse struct {
	Location string `json:"location"`
}

// ErrorResponse is the failure body. Details never carries stack traces.
// Kind lets programmatic clients tell a config failure from an internal one,
// both of which are reported as 500.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
