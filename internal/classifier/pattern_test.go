package classifier

import (
	"context"
	"testing"

	"github.com/shortguard/shortguard/internal/model"
)

func TestPatternClassifierFirstMatchWins(t *testing.T) {
	c, err := NewPatternClassifier([]string{`.*malware\.com.*`, `.*phish\.example.*`})
	if err != nil {
		t.Fatalf("NewPatternClassifier: %v", err)
	}

	res, err := c.Classify(context.Background(), "https://malware.com/x")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.IsMalicious() {
		t.Fatalf("expected malicious, got %s", res.Status)
	}
	if res.ThreatScore != 1.0 {
		t.Fatalf("expected score 1.0, got %v", res.ThreatScore)
	}
	if res.ClassifierID != c.Key() {
		t.Fatalf("result provenance %q does not match key %q", res.ClassifierID, c.Key())
	}
	if got := res.Details["matched_pattern"]; got != `.*malware\.com.*` {
		t.Fatalf("unexpected matched pattern: %v", got)
	}
}

func TestPatternClassifierNoMatchIsPending(t *testing.T) {
	c, err := NewPatternClassifier([]string{`.*malware\.com.*`})
	if err != nil {
		t.Fatalf("NewPatternClassifier: %v", err)
	}
	res, err := c.Classify(context.Background(), "https://example.com/page")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.SafetyPending || res.ThreatScore != 0.0 {
		t.Fatalf("expected pending/0.0, got %s/%v", res.Status, res.ThreatScore)
	}
}

func TestPatternClassifierEmptyListIsPending(t *testing.T) {
	c, err := NewPatternClassifier(nil)
	if err != nil {
		t.Fatalf("NewPatternClassifier: %v", err)
	}
	res, err := c.Classify(context.Background(), "https://anything.example")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.IsPending() {
		t.Fatalf("expected pending, got %s", res.Status)
	}
}

func TestPatternClassifierRejectsBadPattern(t *testing.T) {
	if _, err := NewPatternClassifier([]string{`(`}); err == nil {
		t.Fatal("expected compile error for invalid pattern")
	}
}
