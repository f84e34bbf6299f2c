package export

import (
	"math/rand"

	"github.com/docsight-ai/go-idclass/dataset"
)

// maxRepresentativeSamples caps the calibration pass.
const maxRepresentativeSamples = 100

// RepresentativeGenerator yields single calibration samples drawn from
// a dataset, re-normalizing raw-valued pixels on the fly.
type RepresentativeGenerator struct {
	d      *dataset.Dataset
	order  []int
	cursor int

	lo, hi   float32
	observed bool
}

// NewRepresentativeGenerator samples up to limit images from d in a
// seeded random order. A limit of 0, or above the cap, takes the cap.
//
// Arguments:
//   - d: Source samples, typically the training split.
//   - limit: Maximum samples to yield.
//   - seed: Sampling order seed.
//
// Returns:
//   - *RepresentativeGenerator: The calibration stream.
func NewRepresentativeGenerator(d *dataset.Dataset, limit int, seed int64) *RepresentativeGenerator {
	if limit <= 0 || limit > maxRepresentativeSamples {
		limit = maxRepresentativeSamples
	}
	if d != nil && limit > d.Len() {
		limit = d.Len()
	}

	var order []int
	if d != nil {
		order = rand.New(rand.NewSource(seed)).Perm(d.Len())[:limit]
	}
	return &RepresentativeGenerator{d: d, order: order}
}

// Count returns the number of samples the generator will yield.
func (g *RepresentativeGenerator) Count() int { return len(g.order) }

// Consumed returns the number of samples yielded so far.
func (g *RepresentativeGenerator) Consumed() int { return g.cursor }

// Next yields one sample in [0,1], re-normalizing if the stored pixels
// are still raw. Returns false once the stream is exhausted.
//
// Returns:
//   - []float32: The sample, HWC layout.
//   - bool: False when exhausted.
func (g *RepresentativeGenerator) Next() ([]float32, bool) {
	if g.cursor >= len(g.order) {
		return nil, false
	}
	sample := g.d.Pixels[g.order[g.cursor]]
	g.cursor++

	raw := false
	for _, v := range sample {
		if v > 1 {
			raw = true
			break
		}
	}
	out := make([]float32, len(sample))
	for i, v := range sample {
		if raw {
			v /= 255
		}
		out[i] = v
		if !g.observed || v < g.lo {
			g.lo = v
		}
		if !g.observed || v > g.hi {
			g.hi = v
		}
		g.observed = true
	}
	return out, true
}

// ObservedRange reports the min and max values seen across yielded
// samples. Drains the stream if nothing has been consumed yet.
func (g *RepresentativeGenerator) ObservedRange() (float32, float32) {
	for {
		if _, ok := g.Next(); !ok {
			break
		}
	}
	if !g.observed {
		return 0, 1
	}
	return g.lo, g.hi
}
