// Package testutil provides shared test doubles for use across package
// tests. All dummies implement the corresponding interfaces from the
// production code, allowing injection into components under test without
// real I/O or side effects.
package testutil

import (
	"context"
	"sync"

	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
)

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// StubClassifier implements interfaces.Classifier with a canned per-URL
// response table. URLs absent from the table come back pending; a non-nil
// Err for a URL is returned instead of a result.
type StubClassifier struct {
	ID      string
	Results map[string]model.ClassifierResult
	Errs    map[string]error

	mu    sync.Mutex
	Calls []string
}

func (c *StubClassifier) Key() string {
	if c.ID == "" {
		return "stub_classifier_v0"
	}
	return c.ID
}

func (c *StubClassifier) Classify(_ context.Context, url string) (model.ClassifierResult, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, url)
	c.mu.Unlock()

	if err, ok := c.Errs[url]; ok && err != nil {
		return model.ClassifierResult{}, err
	}
	if res, ok := c.Results[url]; ok {
		return res, nil
	}
	return model.NewClassifierResult(model.SafetyPending, 0.0, c.Key(), nil)
}

// CallCount returns how many times Classify ran.
func (c *StubClassifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
