package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Model artifacts are produced by an external training pipeline and loaded
// here as opaque, read-only inputs. A tier loads its artifact exactly once
// at construction and shares it immutably for the life of the process; an
// absent or malformed artifact is a construction error fatal to that tier
// only. Both model-backed tiers use this loader by composition rather than
// sharing a base type.

const (
	artifactKindLinear        = "linear"
	artifactKindTokenSequence = "token_sequence"
)

type modelArtifact struct {
	ModelID string `json:"model_id"`
	Kind    string `json:"kind"`

	// linear kind
	Features []string  `json:"features,omitempty"`
	Weights  []float64 `json:"weights,omitempty"`
	Bias     float64   `json:"bias,omitempty"`
	Mean     []float64 `json:"mean,omitempty"`
	Scale    []float64 `json:"scale,omitempty"`

	// token_sequence kind
	Labels      []string             `json:"labels,omitempty"`
	ClassBias   []float64            `json:"class_bias,omitempty"`
	TokenLogits map[string][]float64 `json:"token_logits,omitempty"`
}

func loadArtifact(path, wantKind string) (*modelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact %s: %w", path, err)
	}
	var a modelArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing model artifact %s: %w", path, err)
	}
	if a.ModelID == "" {
		return nil, fmt.Errorf("model artifact %s: missing model_id", path)
	}
	if a.Kind != wantKind {
		return nil, fmt.Errorf("model artifact %s: kind %q, expected %q", path, a.Kind, wantKind)
	}
	return &a, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// softmax2 converts a pair of logits into probabilities, shifting by the max
// logit for numerical stability.
func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea := math.Exp(a - m)
	eb := math.Exp(b - m)
	sum := ea + eb
	return ea / sum, eb / sum
}
