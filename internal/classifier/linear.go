package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/shortguard/shortguard/internal/model"
)

// DefaultThreshold is the malicious-class probability above which the linear
// tier rejects a URL, when the caller does not configure one.
const DefaultThreshold = 0.5

// LinearClassifier is the fast feature-engineered tier: it extracts the
// fixed-size feature vector and scores it with a logistic model loaded from
// an artifact. It is intended for the synchronous shorten path and completes
// in microseconds, so it must never be swapped for the batch tier there.
//
// A probability at or above the threshold yields malicious; anything below
// leaves the URL pending for the offline tier to settle.
type LinearClassifier struct {
	artifact  *modelArtifact
	threshold float64
}

// NewLinearClassifier loads the model artifact and validates that it was
// trained against this package's feature layout.
func NewLinearClassifier(modelPath string, threshold float64) (*LinearClassifier, error) {
	a, err := loadArtifact(modelPath, artifactKindLinear)
	if err != nil {
		return nil, err
	}
	if len(a.Weights) != NumFeatures {
		return nil, fmt.Errorf("model artifact %s: %d weights, expected %d", modelPath, len(a.Weights), NumFeatures)
	}
	if len(a.Features) != NumFeatures {
		return nil, fmt.Errorf("model artifact %s: %d feature names, expected %d", modelPath, len(a.Features), NumFeatures)
	}
	for i, name := range a.Features {
		if name != featureNames[i] {
			return nil, fmt.Errorf("model artifact %s: feature %d is %q, expected %q", modelPath, i, name, featureNames[i])
		}
	}
	if len(a.Mean) != 0 && len(a.Mean) != NumFeatures {
		return nil, fmt.Errorf("model artifact %s: mean vector length %d", modelPath, len(a.Mean))
	}
	if len(a.Scale) != 0 && len(a.Scale) != NumFeatures {
		return nil, fmt.Errorf("model artifact %s: scale vector length %d", modelPath, len(a.Scale))
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	return &LinearClassifier{artifact: a, threshold: threshold}, nil
}

func (c *LinearClassifier) Key() string { return c.artifact.ModelID }

func (c *LinearClassifier) Classify(_ context.Context, url string) (model.ClassifierResult, error) {
	features := ExtractFeatures(url)
	z := c.artifact.Bias
	for i, v := range features {
		if len(c.artifact.Mean) == NumFeatures {
			v -= c.artifact.Mean[i]
		}
		if len(c.artifact.Scale) == NumFeatures && c.artifact.Scale[i] != 0 {
			v /= c.artifact.Scale[i]
		}
		z += c.artifact.Weights[i] * v
	}
	p := sigmoid(z)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return model.ClassifierResult{}, classificationErr(c.Key(), "inference produced a non-finite probability", nil)
	}

	status := model.SafetyPending
	if p >= c.threshold {
		status = model.SafetyMalicious
	}
	return model.NewClassifierResult(status, p, c.Key(), nil)
}
