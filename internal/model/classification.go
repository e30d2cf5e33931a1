package model

import (
	"fmt"
	"sync"
	"time"
)

// ClassifierResult is the raw output of a single classifier run. It is
// ephemeral: callers convert it into a ClassificationResult before anything
// is persisted.
type ClassifierResult struct {
	// Status is the verdict assigned to the URL.
	Status SafetyStatus `json:"status"`

	// ThreatScore is the classifier's confidence that the URL is
	// malicious, in [0.0, 1.0].
	ThreatScore float64 `json:"threat_score"`

	// ClassifierID identifies the classifier (name + version) that
	// produced this result.
	ClassifierID string `json:"classifier_id"`

	// Details contains optional auxiliary output (matched pattern,
	// feature values, etc).
	Details map[string]any `json:"details,omitempty"`
}

// NewClassifierResult builds a ClassifierResult, failing fast when the
// threat score is outside [0, 1]. An out-of-range score is a construction
// bug, never a legitimate classification outcome.
func NewClassifierResult(status SafetyStatus, threatScore float64, classifierID string, details map[string]any) (ClassifierResult, error) {
	if threatScore < 0.0 || threatScore > 1.0 {
		return ClassifierResult{}, fmt.Errorf("threat_score must be between 0.0 and 1.0, got %v", threatScore)
	}
	return ClassifierResult{
		Status:       status,
		ThreatScore:  threatScore,
		ClassifierID: classifierID,
		Details:      details,
	}, nil
}

// Exactly one of the following predicates is true for any result; which one
// is determined solely by Status.

func (r ClassifierResult) IsMalicious() bool  { return r.Status == SafetyMalicious }
func (r ClassifierResult) IsSafe() bool       { return r.Status == SafetySafe }
func (r ClassifierResult) IsPending() bool    { return r.Status == SafetyPending }
func (r ClassifierResult) IsSuspicious() bool { return r.Status == SafetySuspicious }

// ClassificationResult is the persisted form of a classifier run. It extends
// the raw ClassifierResult with timing and success/failure metadata so the
// classification history can be audited later.
type ClassificationResult struct {
	ClassifierResult

	// Timestamp is assigned at creation and is monotonically
	// non-decreasing across results within a process, so history order
	// is stable even under rapid successive runs.
	Timestamp time.Time `json:"timestamp"`

	// LatencyMS is the measured wall time of the classification call,
	// nil when it was not measured.
	LatencyMS *float64 `json:"latency_ms,omitempty"`

	// Success is false when the classifier raised instead of returning.
	Success bool `json:"success"`

	// Error holds the failure text when Success is false.
	Error string `json:"error,omitempty"`
}

// resultClock guards the monotonic timestamp guarantee.
var resultClock struct {
	mu   sync.Mutex
	last time.Time
}

func nextResultTimestamp() time.Time {
	resultClock.mu.Lock()
	defer resultClock.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(resultClock.last) {
		now = resultClock.last.Add(time.Microsecond)
	}
	resultClock.last = now
	return now
}

// ClassificationFromClassifier converts a successful classifier output into
// its persisted form.
func ClassificationFromClassifier(cr ClassifierResult, latencyMS *float64) ClassificationResult {
	return ClassificationResult{
		ClassifierResult: cr,
		Timestamp:        nextResultTimestamp(),
		LatencyMS:        latencyMS,
		Success:          true,
	}
}

// ClassificationFailure records a classifier run that raised rather than
// returned. The status stays pending and the score stays zero: a failure is
// never coerced into a malicious or safe verdict.
func ClassificationFailure(classifierID, errText string, latencyMS *float64) ClassificationResult {
	return ClassificationResult{
		ClassifierResult: ClassifierResult{
			Status:       SafetyPending,
			ThreatScore:  0.0,
			ClassifierID: classifierID,
		},
		Timestamp: nextResultTimestamp(),
		LatencyMS: latencyMS,
		Success:   false,
		Error:     errText,
	}
}
