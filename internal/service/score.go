package service

import (
	"math"
	"regexp"
	"strings"
)

// stopWords are excluded from keyword and lexical scoring.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {},
	"has": {}, "have": {}, "how": {}, "i": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "my": {}, "no": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "so": {}, "that": {}, "the": {}, "their": {},
	"there": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases text and returns its content words, stop words removed.
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// in [-1, 1]. Mismatched or empty vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

const partialMatchCredit = 0.5

// keywordOverlap measures the fraction of query content words present in the
// item text. A whole-word-boundary match earns full credit, a substring match
// half credit. Result is clamped to [0, 1].
func keywordOverlap(queryTokens []string, itemText string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(itemText)
	itemTokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		itemTokens[tok] = struct{}{}
	}

	var credit float64
	for _, tok := range queryTokens {
		if _, whole := itemTokens[tok]; whole {
			credit += 1
		} else if strings.Contains(lower, tok) {
			credit += partialMatchCredit
		}
	}
	return math.Min(credit/float64(len(queryTokens)), 1.0)
}

// LexicalScorer ranks a tokenized corpus against query tokens. Scores are raw
// and batch-normalized by the caller; a nil scorer neutralizes the lexical
// term to 0.
type LexicalScorer interface {
	Score(queryTokens []string, docs [][]string) []float64
}

// TFIDFScorer is the default lexical backend: term-frequency times smoothed
// inverse document frequency over the stop-word-filtered corpus.
type TFIDFScorer struct{}

func NewTFIDFScorer() *TFIDFScorer {
	return &TFIDFScorer{}
}

func (s *TFIDFScorer) Score(queryTokens []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(queryTokens) == 0 || len(docs) == 0 {
		return scores
	}

	docFreq := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			docFreq[tok]++
		}
	}

	n := float64(len(docs))
	for i, doc := range docs {
		if len(doc) == 0 {
			continue
		}
		termCount := make(map[string]int, len(doc))
		for _, tok := range doc {
			termCount[tok]++
		}
		var score float64
		for _, qt := range queryTokens {
			count := termCount[qt]
			if count == 0 {
				continue
			}
			tf := float64(count) / float64(len(doc))
			idf := math.Log((n+1)/(float64(docFreq[qt])+1)) + 1
			score += tf * idf
		}
		scores[i] = score
	}
	return scores
}

// normalizeByMax rescales a score batch so the top raw score becomes 1.0.
func normalizeByMax(scores []float64) []float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return scores
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s / max
	}
	return out
}
