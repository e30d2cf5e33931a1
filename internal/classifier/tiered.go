package classifier

import (
	"context"
	"strings"

	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/model"
)

// Tiered consults classifiers in order and returns the first settled
// verdict. A pending result falls through to the next tier; an error stops
// the chain, since a fault in an earlier tier says nothing about what a
// later one would have decided.
type Tiered struct {
	tiers []interfaces.Classifier
	key   string
}

func NewTiered(tiers ...interfaces.Classifier) *Tiered {
	keys := make([]string, len(tiers))
	for i, t := range tiers {
		keys[i] = t.Key()
	}
	return &Tiered{tiers: tiers, key: "tiered:" + strings.Join(keys, ",")}
}

func (t *Tiered) Classify(ctx context.Context, url string) (model.ClassifierResult, error) {
	for _, tier := range t.tiers {
		result, err := tier.Classify(ctx, url)
		if err != nil {
			return model.ClassifierResult{}, err
		}
		if !result.IsPending() {
			return result, nil
		}
	}
	return model.NewClassifierResult(model.SafetyPending, 0.0, t.key, nil)
}

func (t *Tiered) Key() string { return t.key }
