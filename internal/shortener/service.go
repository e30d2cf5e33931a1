// Package shortener implements the synchronous shorten path: structural URL
// validation, deterministic code generation, the fast classification tier
// and its fail-open policy, and idempotent persistence.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
	"github.com/shortguard/shortguard/internal/shortcode"
	"github.com/shortguard/shortguard/internal/store"
)

// The three rejection reasons are distinct sentinels because each implies a
// different corrective action by the caller: fix the URL, give up on the
// content, or report the collision.
var (
	// ErrInvalidURL means the URL failed structural validation.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnsafeURL means the fast tier classified the URL as malicious;
	// nothing was persisted.
	ErrUnsafeURL = errors.New("url rejected as unsafe")

	// ErrCodeConflict means the computed short code is taken by a
	// different long URL.
	ErrCodeConflict = errors.New("short code collision")

	// ErrNotFound is returned by Resolve for unknown or invalid codes.
	ErrNotFound = errors.New("short url not found")

	// ErrURLDisabled is returned by Resolve when the URL exists but is
	// not servable.
	ErrURLDisabled = errors.New("short url is disabled")
)

// Service drives the shorten request path. The fast classifier is optional:
// when nil (classification disabled by configuration), every new URL is
// simply admitted as pending for the batch tier to settle.
type Service struct {
	codec  shortcode.Codec
	store  *store.Store
	fast   interfaces.Classifier
	logger logging.Logger
}

func NewService(st *store.Store, fast interfaces.Classifier, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewStdoutLogger("shortener")
	}
	return &Service{store: st, fast: fast, logger: logger}
}

// Shorten validates and classifies longURL, then persists it under its
// deterministic short code. The returned bool is false when an identical
// submission already existed (idempotent replay; classification is not
// re-run).
func (s *Service) Shorten(ctx context.Context, longURL, ownerID string) (*model.Url, bool, error) {
	longURL = strings.TrimSpace(longURL)
	if err := validateURL(longURL); err != nil {
		return nil, false, err
	}

	code, err := s.codec.Generate(longURL)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	// Idempotency and collision checks come before classification: neither
	// branch writes a row, so classification would be wasted work.
	existing, err := s.store.GetByCode(ctx, code)
	if err != nil && !errors.Is(err, store.ErrURLNotFound) {
		return nil, false, fmt.Errorf("looking up code %s: %w", code, err)
	}
	if existing != nil {
		if existing.LongURL != longURL {
			return nil, false, fmt.Errorf("%w: code %s", ErrCodeConflict, code)
		}
		return existing, false, nil
	}

	u := model.Url{
		ShortCode:    code,
		LongURL:      longURL,
		OwnerID:      ownerID,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
		SafetyStatus: model.SafetyPending,
	}

	var verdict *model.ClassificationResult
	if s.fast != nil {
		result, latencyMS, cerr := s.classifyFast(ctx, longURL)
		switch {
		case cerr != nil:
			// Fail open: a flaky fast tier must never block shortening.
			// The URL is admitted as pending and the failure is visible
			// in logs only.
			s.logger.Warn("fast classification failed, admitting as pending",
				logging.Field{Key: "url", Value: longURL},
				logging.Field{Key: "error", Value: cerr.Error()},
			)
		case result.IsMalicious():
			// Fail closed on a positive verdict: reject outright, persist
			// nothing, leave an audit trail.
			s.logger.Warn("shorten request rejected: url classified as malicious",
				logging.Field{Key: "url", Value: longURL},
				logging.Field{Key: "owner_id", Value: ownerID},
				logging.Field{Key: "classifier_id", Value: result.ClassifierID},
				logging.Field{Key: "threat_score", Value: result.ThreatScore},
			)
			return nil, false, fmt.Errorf("%w: %s", ErrUnsafeURL, result.ClassifierID)
		default:
			// Carry the verdict forward as the URL's initial safety fields.
			if !result.IsPending() {
				now := time.Now().UTC()
				u.SafetyStatus = result.Status
				u.ThreatScore = &result.ThreatScore
				u.ClassifierID = &result.ClassifierID
				u.LastScannedAt = &now
			}
			cr := model.ClassificationFromClassifier(*result, latencyMS)
			verdict = &cr
		}
	}

	created, err := s.store.AddURL(ctx, u)
	if err != nil {
		return nil, false, fmt.Errorf("persisting url: %w", err)
	}
	if verdict != nil {
		if err := s.store.AddClassification(ctx, code, *verdict); err != nil {
			s.logger.Error("recording fast-tier result",
				logging.Field{Key: "short_code", Value: code},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return created, true, nil
}

func (s *Service) classifyFast(ctx context.Context, longURL string) (*model.ClassifierResult, *float64, error) {
	start := time.Now()
	result, err := s.fast.Classify(ctx, longURL)
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return nil, &latency, err
	}
	return &result, &latency, nil
}

// Resolve looks up an active URL for the redirect path. Code validation is
// structural only; unknown and malformed codes are indistinguishable to the
// caller on purpose.
func (s *Service) Resolve(ctx context.Context, code string) (*model.Url, error) {
	if !s.codec.Validate(code) {
		return nil, ErrNotFound
	}
	u, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, store.ErrURLNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrURLDisabled
	}
	return u, nil
}

// ClassificationHistory exposes a URL's append-only result history.
func (s *Service) ClassificationHistory(ctx context.Context, code string) ([]model.ClassificationResult, error) {
	if !s.codec.Validate(code) {
		return nil, ErrNotFound
	}
	if _, err := s.store.GetByCode(ctx, code); errors.Is(err, store.ErrURLNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return s.store.ClassificationHistory(ctx, code)
}

// validCharset is the RFC 3986 reserved + unreserved set plus the percent
// sign for escapes.
const validCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~:/?#[]@!$&'()*+,;=%"

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if !strings.Contains(raw, ".") {
		return fmt.Errorf("%w: no dot in url", ErrInvalidURL)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c > 127 {
			return fmt.Errorf("%w: non-ascii byte at offset %d", ErrInvalidURL, i)
		}
		if !strings.ContainsRune(validCharset, rune(c)) {
			return fmt.Errorf("%w: disallowed character %q", ErrInvalidURL, c)
		}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	return nil
}
