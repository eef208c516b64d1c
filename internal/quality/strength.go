// Package quality implements the quality gate verifier. Verify is a pure
// decision function over one attempt's artifacts: it never mutates
// configuration, never retries, and remembers nothing between calls.
package quality

import (
	"strings"
	"unicode"

	"github.com/ashita-ai/shirabe/internal/claims"
)

// DefaultStrengthThreshold is the minimum evidence strength for a citation to
// count as supported.
const DefaultStrengthThreshold = 0.35

// EvidenceStrength scores (0.0-1.0) how well an evidence passage supports a
// claim. Higher scores mean longer, more specific, more on-topic evidence.
//
// Scoring factors:
//   - Passage length (>200 chars): 0.35, (>80): 0.25, (>30): 0.15
//   - Claim term overlap: up to 0.50
//   - Quantitative content (any digit): 0.15
func EvidenceStrength(claim, evidence string) float64 {
	var score float64

	// Factor 1: substantive passage.
	n := len(strings.TrimSpace(evidence))
	switch {
	case n > 200:
		score += 0.35
	case n > 80:
		score += 0.25
	case n > 30:
		score += 0.15
	}

	// Factor 2: the evidence talks about what the claim talks about.
	score += 0.5 * claims.Overlap(claims.Terms(claim), claims.Terms(evidence))

	// Factor 3: numbers usually mean a measured result rather than an opinion.
	if strings.IndexFunc(evidence, unicode.IsDigit) >= 0 {
		score += 0.15
	}

	if score > 1 {
		score = 1
	}
	return score
}
