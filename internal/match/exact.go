package match

import "bytes"

// ExactMatcher matches only byte-identical images. Scores are 0 or 1.
type ExactMatcher struct{}

func (ExactMatcher) Name() string { return "exact" }

func (ExactMatcher) Score(candidate, stored []byte) (float64, error) {
	if bytes.Equal(candidate, stored) {
		return 1, nil
	}
	return 0, nil
}

func (ExactMatcher) IsMatch(score float64) bool { return score == 1 }
