package preprocess

import (
	"math/rand"

	"github.com/chewxy/math32"
)

// AugmentConfig sets the jitter ranges applied to training batches.
// Validation batches are never augmented.
type AugmentConfig struct {
	// RotationDeg is the maximum rotation in degrees, sampled uniformly
	// in [-RotationDeg, RotationDeg].
	RotationDeg float32
	// ShiftFraction shifts horizontally and vertically by up to this
	// fraction of the image dimension.
	ShiftFraction float32
	// HorizontalFlip enables mirroring with probability 0.5.
	HorizontalFlip bool
	// ZoomFraction zooms in or out by up to this fraction.
	ZoomFraction float32
	// BrightnessLow and BrightnessHigh bound the brightness multiplier.
	BrightnessLow  float32
	BrightnessHigh float32
}

// DefaultAugmentConfig mirrors the training-time jitter used for base
// training: rotation ±20°, shift ±10%, flips, zoom ±10%, brightness
// 0.8–1.2.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		RotationDeg:    20,
		ShiftFraction:  0.1,
		HorizontalFlip: true,
		ZoomFraction:   0.1,
		BrightnessLow:  0.8,
		BrightnessHigh: 1.2,
	}
}

// Augment produces a jittered copy of an HWC sample. Geometry is applied
// as a single inverse affine map with nearest-neighbor sampling and
// nearest-edge fill, then brightness scaling clipped back to [0, 1].
//
// Arguments:
//   - pixels: HWC buffer of length height*width*3.
//   - height: Spatial height.
//   - width: Spatial width.
//   - cfg: Jitter ranges.
//   - rng: Source of randomness.
//
// Returns:
//   - []float32: A new jittered HWC buffer.
func Augment(pixels []float32, height, width int, cfg AugmentConfig, rng *rand.Rand) []float32 {
	// An unset brightness range means no brightness jitter.
	if cfg.BrightnessLow == 0 && cfg.BrightnessHigh == 0 {
		cfg.BrightnessLow, cfg.BrightnessHigh = 1, 1
	}

	uniform := func(lo, hi float32) float32 {
		return lo + rng.Float32()*(hi-lo)
	}

	angle := uniform(-cfg.RotationDeg, cfg.RotationDeg) * math32.Pi / 180
	zoom := uniform(1-cfg.ZoomFraction, 1+cfg.ZoomFraction)
	shiftX := uniform(-cfg.ShiftFraction, cfg.ShiftFraction) * float32(width)
	shiftY := uniform(-cfg.ShiftFraction, cfg.ShiftFraction) * float32(height)
	flip := cfg.HorizontalFlip && rng.Intn(2) == 1
	brightness := uniform(cfg.BrightnessLow, cfg.BrightnessHigh)

	sin, cos := math32.Sincos(angle)
	cx := float32(width-1) / 2
	cy := float32(height-1) / 2

	out := make([]float32, len(pixels))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Inverse map: undo shift, rotation and zoom about the center.
			dx := float32(x) - cx - shiftX
			dy := float32(y) - cy - shiftY
			srcX := (cos*dx + sin*dy) / zoom
			srcY := (-sin*dx + cos*dy) / zoom

			sx := clampInt(int(math32.Round(srcX+cx)), 0, width-1)
			sy := clampInt(int(math32.Round(srcY+cy)), 0, height-1)
			if flip {
				sx = width - 1 - sx
			}

			src := (sy*width + sx) * 3
			dst := (y*width + x) * 3
			for c := 0; c < 3; c++ {
				v := pixels[src+c] * brightness
				if v > 1 {
					v = 1
				} else if v < 0 {
					v = 0
				}
				out[dst+c] = v
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
