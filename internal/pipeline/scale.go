package pipeline

import "math"

// ScaledSize returns the dimensions that make the longer side exactly maxDim
// while keeping the aspect ratio. Smaller images are scaled up by the same rule.
func ScaledSize(width, height, maxDim int) (int, int) {
	if width <= 0 || height <= 0 || maxDim <= 0 {
		return 0, 0
	}

	scale := float64(maxDim) / float64(max(width, height))
	w := max(1, int(math.Round(float64(width)*scale)))
	h := max(1, int(math.Round(float64(height)*scale)))
	return w, h
}
