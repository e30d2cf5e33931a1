package classifier

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shortguard/shortguard/internal/model"
)

// patternClassifierKey is the provenance identity recorded on results.
const patternClassifierKey = "pattern_match_classifier_v1.0.0"

// PatternClassifier evaluates a URL against an ordered list of regular
// expressions. The first match wins: malicious with score 1.0. No match
// leaves the URL pending with score 0.0. Deterministic, O(patterns).
type PatternClassifier struct {
	patterns []*regexp.Regexp
}

// NewPatternClassifier compiles the pattern list up front so a malformed
// pattern fails at construction, not mid-request.
func NewPatternClassifier(patterns []string) (*PatternClassifier, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &PatternClassifier{patterns: compiled}, nil
}

func (c *PatternClassifier) Key() string { return patternClassifierKey }

func (c *PatternClassifier) Classify(_ context.Context, url string) (model.ClassifierResult, error) {
	for _, re := range c.patterns {
		if re.MatchString(url) {
			return model.NewClassifierResult(
				model.SafetyMalicious,
				1.0,
				c.Key(),
				map[string]any{"matched_pattern": re.String()},
			)
		}
	}
	return model.NewClassifierResult(model.SafetyPending, 0.0, c.Key(), nil)
}
