package search

const (
	// GroundingMin is how many results are always taken when available.
	GroundingMin = 5

	// GroundingCap is the hard upper bound on the grounding set.
	GroundingCap = 8
)

// Selector splits a similarity-sorted result list into the grounding set
// (entries good enough to base an answer on) and the larger display set
// shown to the user.
//
// The high-quality bar adapts to the best match: an entry qualifies when its
// similarity is within Gap of the top result, but never below Floor. When
// more than GroundingMin entries clear the bar, up to GroundingCap of them
// are used; otherwise the selection falls back to the plain top GroundingMin.
type Selector struct {
	floor        float64
	gap          float64
	displayLimit int
}

// NewSelector creates a Selector. displayLimit below GroundingCap is raised
// to it so the display set is never shorter than the grounding set.
func NewSelector(floor, gap float64, displayLimit int) *Selector {
	if displayLimit < GroundingCap {
		displayLimit = GroundingCap
	}
	return &Selector{floor: floor, gap: gap, displayLimit: displayLimit}
}

// SelectGrounding returns the prefix of sorted to ground an answer on.
// The result length is always in [min(GroundingMin, len(sorted)), GroundingCap]
// and the input order is preserved.
func (s *Selector) SelectGrounding(sorted []Result) []Result {
	if len(sorted) <= GroundingMin {
		return sorted
	}

	topSimilarity := sorted[0].Similarity
	highQualityThreshold := max(s.floor, topSimilarity-s.gap)

	qualified := 0
	for _, r := range sorted {
		if r.Similarity < highQualityThreshold {
			break
		}
		qualified++
	}

	if qualified > GroundingMin {
		return sorted[:min(qualified, GroundingCap)]
	}
	return sorted[:GroundingMin]
}

// SelectDisplay returns the fixed-size display prefix, independent of the
// grounding selection but always at least as long (both are prefixes of the
// same sorted input).
func (s *Selector) SelectDisplay(sorted []Result) []Result {
	return sorted[:min(s.displayLimit, len(sorted))]
}
