package normalize

import (
	"regexp"

	"github.com/sematica-ai/memory-engine/internal/storage"
)

// genericPatterns match low-information phrasings. Only the first match
// applies the penalty.
var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^.+ is a (type of|kind of|form of) .+$`),
	regexp.MustCompile(`(?i)^.+ (can be|may be) .+$`),
	regexp.MustCompile(`(?i)^.+ (has|have) .+$`),
}

// frameWeights rank the frames by how actionable they tend to be.
var frameWeights = map[storage.Frame]float64{
	storage.FrameCausal:      1.0,
	storage.FrameConstraint:  1.0,
	storage.FramePattern:     1.0,
	storage.FrameProcedure:   0.9,
	storage.FrameEquivalence: 0.8,
	storage.FrameTaxonomy:    0.6,
}

// ComputeConfidence scores an insight in [0,1] from local heuristics:
// normalized length, generic phrasing, information density (entities +
// problems + resolutions), and frame weight. Roughly, below 0.3 is
// noise, 0.3-0.6 is marginal, above 0.6 is worth keeping.
func ComputeConfidence(insight *storage.Insight) float64 {
	score := 1.0

	switch n := len(insight.NormalizedText); {
	case n < 20:
		score *= 0.3
	case n < 40:
		score *= 0.7
	}

	for _, pattern := range genericPatterns {
		if pattern.MatchString(insight.NormalizedText) {
			score *= 0.5
			break
		}
	}

	switch infoCount := len(insight.Entities) + len(insight.Problems) + len(insight.Resolutions); infoCount {
	case 0:
		score *= 0.4
	case 1:
		score *= 0.7
	}

	if w, ok := frameWeights[insight.Frame]; ok {
		score *= w
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
