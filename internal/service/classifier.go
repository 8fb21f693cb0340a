package service

import (
	"context"
	"log"
	"strings"

	"github.com/curatorhq/curator/internal/domain"
)

// Classifier judges whether inbound content is worth indexing.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Classification, error)
}

// ClassifierAPI is the model backend: free-form completion output that is
// parsed against the label vocabulary.
type ClassifierAPI interface {
	Classify(ctx context.Context, text string) (string, error)
}

// ModelClassifier asks a language model for a label and parses the output by
// first-match substring scan. Unparseable output defaults to NOISE.
type ModelClassifier struct {
	api ClassifierAPI
}

func NewModelClassifier(api ClassifierAPI) *ModelClassifier {
	return &ModelClassifier{api: api}
}

func (c *ModelClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	output, err := c.api.Classify(ctx, text)
	if err != nil {
		return domain.ClassificationNoise, err
	}
	label, ok := domain.ParseClassification(output)
	if !ok {
		log.Printf("classifier: could not parse label from %q, defaulting to NOISE", truncate(output, 50))
	}
	return label, nil
}

var (
	bugKeywords      = []string{"bug", "error", "crash", "fix", "broken"}
	ideaKeywords     = []string{"idea", "feature", "suggest", "could we", "what if"}
	feedbackKeywords = []string{"feedback", "review", "opinion", "think"}
)

// documentWordThreshold: prose longer than this many words is assumed to
// carry enough substance to index as a document.
const documentWordThreshold = 20

// KeywordClassifier is the deterministic fallback used when no model backend
// is available: ordered keyword checks, then a length heuristic.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(_ context.Context, text string) (domain.Classification, error) {
	lower := strings.ToLower(text)
	if containsAny(lower, bugKeywords) {
		return domain.ClassificationBug, nil
	}
	if containsAny(lower, ideaKeywords) {
		return domain.ClassificationIdea, nil
	}
	if containsAny(lower, feedbackKeywords) {
		return domain.ClassificationFeedback, nil
	}
	if len(strings.Fields(text)) > documentWordThreshold {
		return domain.ClassificationDocument, nil
	}
	return domain.ClassificationNoise, nil
}

// FallbackClassifier tries the model backend first and degrades to the
// keyword classifier on any model failure. Model outages are recovered
// locally, never propagated.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

func NewFallbackClassifier(primary Classifier) *FallbackClassifier {
	return &FallbackClassifier{primary: primary, fallback: NewKeywordClassifier()}
}

func (c *FallbackClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	if c.primary != nil {
		label, err := c.primary.Classify(ctx, text)
		if err == nil {
			return label, nil
		}
		log.Printf("classifier: model backend failed (%v), using keyword fallback", err)
	}
	return c.fallback.Classify(ctx, text)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
