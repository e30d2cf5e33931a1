package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shortguard/shortguard/internal/model"
)

// tokenizerConfig is the tokenizer artifact that accompanies a
// token-sequence model: a subword vocabulary and sequence bounds.
type tokenizerConfig struct {
	Vocab              []string `json:"vocab"`
	MaxLen             int      `json:"max_len"`
	UnkToken           string   `json:"unk_token"`
	ContinuationPrefix string   `json:"continuation_prefix"`
	Lowercase          bool     `json:"lowercase"`
}

// DeepClassifier is the offline tier: it tokenizes the URL into subword
// pieces with a fixed maximum sequence length and truncation, accumulates
// per-token class logits from a pretrained sequence model, and maps the
// predicted class to SAFE or MALICIOUS. Its latency is materially higher
// than the linear tier, which is why it is reserved for the batch path.
//
// The model and tokenizer artifacts are loaded once and treated as shared,
// read-only state for the process lifetime.
type DeepClassifier struct {
	artifact *modelArtifact
	tok      tokenizerConfig
	vocab    map[string]struct{}
	maxPiece int
	safeIdx  int
	malIdx   int
}

// NewDeepClassifier loads the model and tokenizer artifacts. Absence of
// either is fatal to this tier only; other tiers remain usable.
func NewDeepClassifier(modelPath, tokenizerPath string) (*DeepClassifier, error) {
	a, err := loadArtifact(modelPath, artifactKindTokenSequence)
	if err != nil {
		return nil, err
	}
	if len(a.ClassBias) != 0 && len(a.ClassBias) != 2 {
		return nil, fmt.Errorf("model artifact %s: class_bias length %d, expected 2", modelPath, len(a.ClassBias))
	}
	safeIdx, malIdx := -1, -1
	for i, l := range a.Labels {
		switch l {
		case string(model.SafetySafe):
			safeIdx = i
		case string(model.SafetyMalicious):
			malIdx = i
		}
	}
	if safeIdx < 0 || malIdx < 0 || len(a.Labels) != 2 {
		return nil, fmt.Errorf("model artifact %s: labels must be exactly safe and malicious, got %v", modelPath, a.Labels)
	}

	data, err := os.ReadFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer %s: %w", tokenizerPath, err)
	}
	var tok tokenizerConfig
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing tokenizer %s: %w", tokenizerPath, err)
	}
	if len(tok.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s: empty vocab", tokenizerPath)
	}
	if tok.MaxLen <= 0 {
		tok.MaxLen = 64
	}
	if tok.UnkToken == "" {
		tok.UnkToken = "[UNK]"
	}

	vocab := make(map[string]struct{}, len(tok.Vocab))
	maxPiece := 1
	for _, v := range tok.Vocab {
		vocab[v] = struct{}{}
		if n := len(strings.TrimPrefix(v, tok.ContinuationPrefix)); n > maxPiece {
			maxPiece = n
		}
	}

	return &DeepClassifier{
		artifact: a,
		tok:      tok,
		vocab:    vocab,
		maxPiece: maxPiece,
		safeIdx:  safeIdx,
		malIdx:   malIdx,
	}, nil
}

func (c *DeepClassifier) Key() string { return c.artifact.ModelID }

func (c *DeepClassifier) Classify(_ context.Context, url string) (model.ClassifierResult, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return model.ClassifierResult{}, classificationErr(c.Key(), "cannot classify empty URL", nil)
	}

	tokens := c.tokenize(url)
	if len(tokens) == 0 {
		return model.ClassifierResult{}, classificationErr(c.Key(), "tokenization produced no tokens", nil)
	}

	logits := [2]float64{}
	if len(c.artifact.ClassBias) == 2 {
		logits[0] = c.artifact.ClassBias[0]
		logits[1] = c.artifact.ClassBias[1]
	}
	for _, t := range tokens {
		tl, ok := c.artifact.TokenLogits[t]
		if !ok {
			tl = c.artifact.TokenLogits[c.tok.UnkToken]
		}
		if len(tl) == 2 {
			logits[0] += tl[0]
			logits[1] += tl[1]
		}
	}

	p0, p1 := softmax2(logits[0], logits[1])
	probs := [2]float64{p0, p1}
	threat := probs[c.malIdx]

	status := model.SafetySafe
	if probs[c.malIdx] >= probs[c.safeIdx] {
		status = model.SafetyMalicious
	}
	return model.NewClassifierResult(status, threat, c.Key(), nil)
}

// tokenize performs greedy longest-match subword tokenization over the
// vocabulary, emitting the unknown token for unmatched bytes and truncating
// at the configured maximum sequence length.
func (c *DeepClassifier) tokenize(url string) []string {
	if c.tok.Lowercase {
		url = strings.ToLower(url)
	}
	var tokens []string
	i := 0
	for i < len(url) && len(tokens) < c.tok.MaxLen {
		matched := ""
		end := i + c.maxPiece
		if end > len(url) {
			end = len(url)
		}
		for j := end; j > i; j-- {
			piece := url[i:j]
			cand := piece
			if i > 0 && c.tok.ContinuationPrefix != "" {
				cand = c.tok.ContinuationPrefix + piece
			}
			if _, ok := c.vocab[cand]; ok {
				matched = cand
				i = j
				break
			}
			// first-position pieces may also match plain vocab entries
			if _, ok := c.vocab[piece]; ok {
				matched = piece
				i = j
				break
			}
		}
		if matched == "" {
			tokens = append(tokens, c.tok.UnkToken)
			i++
			continue
		}
		tokens = append(tokens, matched)
	}
	return tokens
}
