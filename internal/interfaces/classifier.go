package interfaces

import (
	"context"

	"github.com/shortguard/shortguard/internal/model"
)

// Classifier is the minimal cross-package contract for assigning a safety
// verdict to a URL. Implementations differ in latency and accuracy (a fast
// synchronous tier runs on the shorten path, a slow tier runs in batch
// workers) but are interchangeable behind this single capability.
//
// Classify returns the verdict or an error; implementations never downgrade
// an internal fault into a verdict. That decision belongs to the caller's
// failure policy (fail-open on the request path, per-item isolation in
// batches).
//
// Note: this interface intentionally references model.ClassifierResult so
// callers and implementations agree on the canonical result type.
type Classifier interface {
	// Classify evaluates a single URL string and returns the raw result.
	Classify(ctx context.Context, url string) (model.ClassifierResult, error)

	// Key identifies the classifier (name + version) and is recorded as
	// provenance on every result it produces.
	Key() string
}
