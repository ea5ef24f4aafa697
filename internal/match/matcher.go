// Package match holds the pluggable image-similarity strategies used by the
// query endpoint and by duplicate detection. The real matching algorithm is
// proprietary; these strategies approximate it well enough for tests.
package match

import (
	"fmt"
	"sort"
)

// Matcher scores a candidate image against a stored target image. Scores are
// normalized to [0,1]; each strategy carries its own match threshold.
type Matcher interface {
	Name() string
	Score(candidate, stored []byte) (float64, error)
	IsMatch(score float64) bool
}

// ForName selects a strategy by its configured name.
func ForName(name string) (Matcher, error) {
	switch name {
	case "exact":
		return ExactMatcher{}, nil
	case "ssim":
		return NewSSIMMatcher(), nil
	default:
		return nil, fmt.Errorf("match: unknown strategy %q", name)
	}
}

// Ranked pairs a target ID with its score for deterministic ordering.
type Ranked struct {
	TargetID string
	Score    float64
}

// SortRanked orders matches by descending score, breaking ties by ascending
// target ID so repeated queries return identical orderings.
func SortRanked(matches []Ranked) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].TargetID < matches[j].TargetID
	})
}
