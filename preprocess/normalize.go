// Package preprocess - Normalization, class balancing, stratified
// splitting and augmented batch generation.
package preprocess

import (
	"github.com/sirupsen/logrus"
)

// Normalize scales pixel data into [0, 1] float32. The operation is
// idempotent: data already in range passes through unchanged, so loaders
// that pre-scale and callers that defensively re-normalize compose safely.
//
// Arguments:
//   - pixels: Per-sample HWC buffers, mutated in place.
//
// Returns:
//   - [][]float32: The same slice, for chaining.
func Normalize(pixels [][]float32) [][]float32 {
	var max float32
	for _, sample := range pixels {
		for _, v := range sample {
			if v > max {
				max = v
			}
		}
	}
	if max <= 1.0 {
		return pixels
	}

	for _, sample := range pixels {
		for i := range sample {
			sample[i] /= 255.0
		}
	}
	logrus.Debugf("normalized pixel data from max %.1f", max)
	return pixels
}
