package preprocess

import (
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
)

// Generator yields an endless, restartable stream of batches. Training
// generators reshuffle and augment every epoch; validation generators
// cycle in order with no jitter, so repeated evaluation passes see
// identical data.
type Generator struct {
	d          *dataset.Dataset
	numClasses int
	batchSize  int

	augment *AugmentConfig
	rng     *rand.Rand

	order  []int
	cursor int
}

// NewTrainingGenerator creates a shuffled, augmented batch stream.
//
// Arguments:
//   - d: Source samples.
//   - batchSize: Samples per batch; capped at the dataset size.
//   - cfg: Augmentation jitter ranges.
//   - seed: RNG seed for shuffling and jitter.
//
// Returns:
//   - *Generator: The batch stream.
//   - error: A config fault for an empty dataset or bad batch size.
func NewTrainingGenerator(d *dataset.Dataset, batchSize int, cfg AugmentConfig, seed int64) (*Generator, error) {
	g, err := newGenerator(d, batchSize)
	if err != nil {
		return nil, err
	}
	g.augment = &cfg
	g.rng = rand.New(rand.NewSource(seed))
	g.reshuffle()
	return g, nil
}

// NewValidationGenerator creates an ordered, unaugmented batch stream.
func NewValidationGenerator(d *dataset.Dataset, batchSize int) (*Generator, error) {
	return newGenerator(d, batchSize)
}

func newGenerator(d *dataset.Dataset, batchSize int) (*Generator, error) {
	if d == nil || d.Len() == 0 {
		return nil, faults.Configf("cannot generate batches from an empty dataset")
	}
	if batchSize <= 0 {
		return nil, faults.Configf("invalid batch size %d", batchSize)
	}
	if batchSize > d.Len() {
		batchSize = d.Len()
	}

	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	return &Generator{
		d:          d,
		numClasses: d.NumClasses,
		batchSize:  batchSize,
		order:      order,
	}, nil
}

// BatchSize returns the effective batch size.
func (g *Generator) BatchSize() int { return g.batchSize }

// Steps returns the number of full batches per epoch, at least 1.
func (g *Generator) Steps() int {
	steps := g.d.Len() / g.batchSize
	if steps < 1 {
		steps = 1
	}
	return steps
}

func (g *Generator) reshuffle() {
	g.rng.Shuffle(len(g.order), func(i, j int) {
		g.order[i], g.order[j] = g.order[j], g.order[i]
	})
}

// Next produces the next batch as an NCHW float32 input tensor and a
// one-hot label tensor. The stream is infinite: when the epoch is
// exhausted it restarts (reshuffling in training mode).
//
// Returns:
//   - *tensor.Dense: Inputs, shape (batch, 3, height, width).
//   - *tensor.Dense: One-hot labels, shape (batch, numClasses).
func (g *Generator) Next() (*tensor.Dense, *tensor.Dense) {
	h, w := g.d.Height, g.d.Width
	xBacking := make([]float32, g.batchSize*3*h*w)
	yBacking := make([]float32, g.batchSize*g.numClasses)

	for i := 0; i < g.batchSize; i++ {
		if g.cursor >= len(g.order) {
			g.cursor = 0
			if g.augment != nil {
				g.reshuffle()
			}
		}
		idx := g.order[g.cursor]
		g.cursor++

		sample := g.d.Pixels[idx]
		if g.augment != nil {
			sample = Augment(sample, h, w, *g.augment, g.rng)
		}
		copy(xBacking[i*3*h*w:], images.HWCToCHW(sample, h, w))
		yBacking[i*g.numClasses+g.d.Labels[idx]] = 1
	}

	x := tensor.New(tensor.WithShape(g.batchSize, 3, h, w), tensor.WithBacking(xBacking))
	y := tensor.New(tensor.WithShape(g.batchSize, g.numClasses), tensor.WithBacking(yBacking))
	return x, y
}

// ToTensors converts a whole dataset into a single NCHW input tensor and
// one-hot label tensor, used for full-split evaluation passes.
//
// Arguments:
//   - d: The dataset.
//
// Returns:
//   - *tensor.Dense: Inputs, shape (len, 3, height, width).
//   - *tensor.Dense: One-hot labels, shape (len, numClasses).
func ToTensors(d *dataset.Dataset) (*tensor.Dense, *tensor.Dense) {
	h, w := d.Height, d.Width
	n := d.Len()
	xBacking := make([]float32, n*3*h*w)
	yBacking := make([]float32, n*d.NumClasses)

	for i := 0; i < n; i++ {
		copy(xBacking[i*3*h*w:], images.HWCToCHW(d.Pixels[i], h, w))
		yBacking[i*d.NumClasses+d.Labels[i]] = 1
	}

	x := tensor.New(tensor.WithShape(n, 3, h, w), tensor.WithBacking(xBacking))
	y := tensor.New(tensor.WithShape(n, d.NumClasses), tensor.WithBacking(yBacking))
	return x, y
}
