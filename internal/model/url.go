package model

import "time"

// Url is the persisted record for one shortened URL. The entity is owned
// exclusively by the store: classifiers and the shorten path operate on
// copies and express every mutation as a named store operation
// (SetSafetyStatus, ResetSafetyStatus, Enable, Disable) so the safety state
// machine stays centralized and auditable.
type Url struct {
	// ShortCode is the unique fixed-length base-62 identifier.
	ShortCode string `json:"short_code"`

	// LongURL is the destination the short code redirects to.
	LongURL string `json:"long_url"`

	// OwnerID identifies the authenticated user who created the URL.
	OwnerID string `json:"owner_id"`

	// CreatedAt is when the URL was shortened.
	CreatedAt time.Time `json:"created_at"`

	// IsActive gates whether the redirect is served. Toggled
	// independently of safety status; malicious URLs are disabled as a
	// side effect of classification.
	IsActive bool `json:"is_active"`

	// SafetyStatus mirrors the most recently applied (not merely most
	// recent) classification result.
	SafetyStatus SafetyStatus `json:"safety_status"`

	// ThreatScore, ClassifierID and LastScannedAt are set only as a side
	// effect of a classification result being applied; nil until then.
	ThreatScore   *float64   `json:"threat_score,omitempty"`
	ClassifierID  *string    `json:"classifier_id,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}
