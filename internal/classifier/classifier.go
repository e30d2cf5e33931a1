// Package classifier holds the concrete classifier tiers behind the
// interfaces.Classifier capability: an ordered pattern matcher, a fast
// feature-based linear model for the synchronous shorten path, and a slower
// token-sequence model reserved for offline batch runs.
//
// A classifier either returns a verdict or raises a *ClassificationError. It
// never decides on its own to return a degraded verdict; the fail-open /
// fail-closed choice belongs to the caller.
package classifier

import "fmt"

// ClassificationError means a tier failed to produce a verdict (model
// unavailable, tokenization failure, inference fault). It carries the
// classifier's identity so callers can attribute the failure.
type ClassificationError struct {
	ClassifierID string
	Message      string
	Err          error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier %s: %s: %v", e.ClassifierID, e.Message, e.Err)
	}
	return fmt.Sprintf("classifier %s: %s", e.ClassifierID, e.Message)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func classificationErr(classifierID, message string, err error) *ClassificationError {
	return &ClassificationError{ClassifierID: classifierID, Message: message, Err: err}
}
