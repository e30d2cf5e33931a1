package model

import "fmt"

// SafetyStatus describes a URL's classification verdict.
type SafetyStatus string

const (
	// SafetyPending means no applied classification exists yet. Newly
	// created URLs always start here.
	SafetyPending SafetyStatus = "pending"

	// SafetySafe means the most recently applied classification found
	// nothing wrong.
	SafetySafe SafetyStatus = "safe"

	// SafetyMalicious means the URL must be treated as not servable.
	SafetyMalicious SafetyStatus = "malicious"

	// SafetySuspicious means the verdict was inconclusive but elevated.
	SafetySuspicious SafetyStatus = "suspicious"
)

// ParseSafetyStatus converts a stored string back into a SafetyStatus.
func ParseSafetyStatus(s string) (SafetyStatus, error) {
	switch SafetyStatus(s) {
	case SafetyPending, SafetySafe, SafetyMalicious, SafetySuspicious:
		return SafetyStatus(s), nil
	}
	return "", fmt.Errorf("unknown safety status %q", s)
}

func (s SafetyStatus) String() string { return string(s) }
