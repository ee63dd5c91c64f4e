// Package scoring turns neighbor similarities into a novelty score and a
// human-readable interpretation.
package scoring

import "math"

// Bands are the interpretation labels, highest novelty first. Lower bounds
// are inclusive: a score of exactly 80 is "Highly Novel".
const (
	BandHighlyNovel     = "Highly Novel"
	BandNovel           = "Novel"
	BandModeratelyNovel = "Moderately Novel"
	BandLowNovelty      = "Low Novelty"
	BandVeryLowNovelty  = "Very Low Novelty"
)

// Score computes the 0-100 novelty score from cosine similarities of the
// nearest neighbors. An empty slice means there was nothing to compare
// against, which is maximal novelty by definition.
func Score(similarities []float64) float64 {
	if len(similarities) == 0 {
		return 100.0
	}

	sum := 0.0
	for _, s := range similarities {
		sum += s
	}
	mean := sum / float64(len(similarities))

	score := round2((1 - mean) * 100)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Interpretation maps a score onto its band label.
func Interpretation(score float64) string {
	switch {
	case score >= 80:
		return BandHighlyNovel
	case score >= 60:
		return BandNovel
	case score >= 40:
		return BandModeratelyNovel
	case score >= 20:
		return BandLowNovelty
	default:
		return BandVeryLowNovelty
	}
}

// Describe returns the long-form interpretation sentence shown in API
// responses.
func Describe(score float64) string {
	switch Interpretation(score) {
	case BandHighlyNovel:
		return "Highly Novel - This proposal is very unique compared to existing proposals"
	case BandNovel:
		return "Novel - This proposal has significant unique elements"
	case BandModeratelyNovel:
		return "Moderately Novel - This proposal has some similarities to existing work"
	case BandLowNovelty:
		return "Low Novelty - This proposal is quite similar to existing proposals"
	default:
		return "Very Low Novelty - This proposal is very similar to existing proposals"
	}
}

// Percentage converts a 0-1 similarity fraction into the percentage
// presentation used by the check-and-remember endpoint.
func Percentage(similarity float64) float64 {
	return round2(similarity * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
