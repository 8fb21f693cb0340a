package domain

import "strings"

// Classification is the worthiness label assigned to inbound content before
// it is allowed into the knowledge store.
type Classification string

const (
	ClassificationNoise    Classification = "NOISE"
	ClassificationDocument Classification = "DOCUMENT"
	ClassificationBug      Classification = "BUG"
	ClassificationIdea     Classification = "IDEA"
	ClassificationFeedback Classification = "FEEDBACK"
)

// classificationOrder is the priority order used when parsing free-form
// model output: the first label found as a substring wins.
var classificationOrder = []Classification{
	ClassificationNoise,
	ClassificationDocument,
	ClassificationBug,
	ClassificationIdea,
	ClassificationFeedback,
}

// ParseClassification scans free-form model output for a known label.
// The second return value is false when no label could be found.
func ParseClassification(output string) (Classification, bool) {
	cleaned := strings.ToUpper(strings.TrimSpace(output))
	for _, label := range classificationOrder {
		if strings.Contains(cleaned, string(label)) {
			return label, true
		}
	}
	return ClassificationNoise, false
}

// Worthy reports whether content with this label should be persisted.
func (c Classification) Worthy() bool {
	switch c {
	case ClassificationDocument, ClassificationBug, ClassificationIdea, ClassificationFeedback:
		return true
	default:
		return false
	}
}
