package match

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

const (
	// Both images are normalized to this square size before comparison so
	// that scale differences do not dominate the score.
	ssimEdge = 64
	// Window size for the local statistics.
	ssimWindow = 8

	defaultSSIMThreshold = 0.85
)

// SSIMMatcher computes a windowed structural-similarity score over the
// grayscale, downscaled pair of images. It tolerates small pixel-level
// differences that the exact matcher rejects.
type SSIMMatcher struct {
	threshold float64
}

func NewSSIMMatcher() SSIMMatcher {
	return SSIMMatcher{threshold: defaultSSIMThreshold}
}

func (SSIMMatcher) Name() string { return "ssim" }

func (m SSIMMatcher) IsMatch(score float64) bool { return score >= m.threshold }

func (m SSIMMatcher) Score(candidate, stored []byte) (float64, error) {
	first, err := grayPlane(candidate)
	if err != nil {
		return 0, fmt.Errorf("decode candidate image: %w", err)
	}
	second, err := grayPlane(stored)
	if err != nil {
		return 0, fmt.Errorf("decode stored image: %w", err)
	}

	// SSIM constants for 8-bit dynamic range (k1=0.01, k2=0.03, L=255).
	const c1 = 6.5025
	const c2 = 58.5225

	var total float64
	var windows int
	for y := 0; y+ssimWindow <= ssimEdge; y += ssimWindow {
		for x := 0; x+ssimWindow <= ssimEdge; x += ssimWindow {
			muX, muY, varX, varY, covXY := windowStats(first, second, x, y)
			numerator := (2*muX*muY + c1) * (2*covXY + c2)
			denominator := (muX*muX + muY*muY + c1) * (varX + varY + c2)
			total += numerator / denominator
			windows++
		}
	}
	score := total / float64(windows)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func grayPlane(content []byte) ([][]float64, error) {
	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	gray := imaging.Grayscale(imaging.Resize(decoded, ssimEdge, ssimEdge, imaging.Lanczos))

	plane := make([][]float64, ssimEdge)
	for y := 0; y < ssimEdge; y++ {
		row := make([]float64, ssimEdge)
		for x := 0; x < ssimEdge; x++ {
			r, _, _, _ := gray.At(x, y).RGBA()
			row[x] = float64(r >> 8)
		}
		plane[y] = row
	}
	return plane, nil
}

func windowStats(first, second [][]float64, startX, startY int) (muX, muY, varX, varY, covXY float64) {
	const n = float64(ssimWindow * ssimWindow)
	for y := startY; y < startY+ssimWindow; y++ {
		for x := startX; x < startX+ssimWindow; x++ {
			muX += first[y][x]
			muY += second[y][x]
		}
	}
	muX /= n
	muY /= n
	for y := startY; y < startY+ssimWindow; y++ {
		for x := startX; x < startX+ssimWindow; x++ {
			dx := first[y][x] - muX
			dy := second[y][x] - muY
			varX += dx * dx
			varY += dy * dy
			covXY += dx * dy
		}
	}
	varX /= n - 1
	varY /= n - 1
	covXY /= n - 1
	return muX, muY, varX, varY, covXY
}
