package server

// ShortenRequest is the payload for creating a short link.
type ShortenRequest struct {
	URL string `json:"url"`
}

// ShortenResponse describes a short link. Created distinguishes a fresh
// code from an idempotent replay of an existing one.
type ShortenResponse struct {
	ShortCode    string   `json:"short_code"`
	LongURL      string   `json:"long_url"`
	SafetyStatus string   `json:"safety_status"`
	ThreatScore  *float64 `json:"threat_score,omitempty"`
	IsActive     bool     `json:"is_active"`
	Created      bool     `json:"created"`
}

// SetStatusRequest overrides a URL's safety verdict.
type SetStatusRequest struct {
	Status       string  `json:"status"`
	ThreatScore  float64 `json:"threat_score"`
	ClassifierID string  `json:"classifier_id"`
}

// StartJobRequest selects which batch to run.
type StartJobRequest struct {
	Kind string `json:"kind"`
}

// ErrorResponse is the uniform error payload. Code is machine-readable and
// stable; Error is for humans.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Stable error codes.
const (
	codeInvalidJSON   = "invalid_json"
	codeInvalidURL    = "invalid_url"
	codeUnsafeURL     = "unsafe_url"
	codeCodeConflict  = "code_conflict"
	codeNotFound      = "not_found"
	codeURLDisabled   = "url_disabled"
	codeInvalidStatus = "invalid_status"
	codeUnauthorized  = "unauthorized"
	codeUnavailable   = "unavailable"
	codeRateLimited   = "rate_limited"
	codeInternal      = "internal_error"
)
