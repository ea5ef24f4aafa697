// Package rate holds the pluggable target-quality strategies. A rating is an
// integer from 0 to 5, assigned when an image is set and never on
// metadata-only updates.
package rate

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Rater assigns a tracking rating to a target image.
type Rater interface {
	Name() string
	Rate(content []byte) int
}

// ForName selects a strategy by its configured name.
func ForName(name string, hardcoded int) (Rater, error) {
	switch name {
	case "random":
		return RandomRater{}, nil
	case "hardcoded":
		return HardcodedRater{Rating: hardcoded}, nil
	case "quality":
		return QualityRater{}, nil
	default:
		return nil, fmt.Errorf("rate: unknown strategy %q", name)
	}
}

// RandomRater re-rolls a uniform rating on every image assignment.
type RandomRater struct{}

func (RandomRater) Name() string { return "random" }

func (RandomRater) Rate([]byte) int { return rand.Intn(6) }

// HardcodedRater returns a fixed value. Useful for deterministic tests.
type HardcodedRater struct {
	Rating int
}

func (HardcodedRater) Name() string { return "hardcoded" }

func (r HardcodedRater) Rate([]byte) int { return clamp(r.Rating) }

// QualityRater maps a no-reference quality metric onto the 0-5 scale. The
// metric is the standard deviation of the grayscale pixel values: flat,
// featureless images rate low, detailed images rate high. This approximates
// the suitability score the real service computes but is not bit-exact.
type QualityRater struct{}

func (QualityRater) Name() string { return "quality" }

func (QualityRater) Rate(content []byte) int {
	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return 0
	}
	stddev := grayStddev(decoded)

	// Fixed thresholds chosen so that a uniform image rates 0 and a busy
	// photographic image rates 5.
	thresholds := []float64{2, 10, 25, 45, 70}
	rating := 0
	for _, threshold := range thresholds {
		if stddev > threshold {
			rating++
		}
	}
	return clamp(rating)
}

func grayStddev(decoded image.Image) float64 {
	const edge = 64
	gray := imaging.Grayscale(imaging.Resize(decoded, edge, edge, imaging.Lanczos))

	var sum, sumSquares float64
	for y := 0; y < edge; y++ {
		for x := 0; x < edge; x++ {
			r, _, _, _ := gray.At(x, y).RGBA()
			value := float64(r >> 8)
			sum += value
			sumSquares += value * value
		}
	}
	n := float64(edge * edge)
	mean := sum / n
	variance := sumSquares/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func clamp(rating int) int {
	if rating < 0 {
		return 0
	}
	if rating > 5 {
		return 5
	}
	return rating
}

// QualityPredicate decides, once at image-set time, whether a target leaves
// PROCESSING as SUCCESS or FAILED.
type QualityPredicate func(content []byte, rating int) bool

// AlwaysPass is the default predicate. The emulated service fails targets it
// judges unsuitable; being more forgiving here is a deliberate choice so that
// ordinary test fixtures process successfully.
func AlwaysPass([]byte, int) bool { return true }

// MinimumStddev fails images whose grayscale standard deviation is at or
// below the threshold, mirroring the original service's suitability check.
// Available for tests that need FAILED outcomes.
func MinimumStddev(threshold float64) QualityPredicate {
	return func(content []byte, _ int) bool {
		decoded, _, err := image.Decode(bytes.NewReader(content))
		if err != nil {
			return false
		}
		return grayStddev(decoded) > threshold
	}
}
