package preprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
)

// synthDataset builds a dataset with the given per-class sample counts.
// Every sample is a 4x4 RGB image filled with a value derived from its
// index so duplicates are detectable.
func synthDataset(counts ...int) *dataset.Dataset {
	d := &dataset.Dataset{
		Width:       4,
		Height:      4,
		NumClasses:  len(counts),
		ClassCounts: append([]int(nil), counts...),
	}
	idx := 0
	for class, n := range counts {
		for i := 0; i < n; i++ {
			sample := make([]float32, 4*4*3)
			for j := range sample {
				sample[j] = float32(idx%17) / 17
			}
			d.Pixels = append(d.Pixels, sample)
			d.Labels = append(d.Labels, class)
			idx++
		}
	}
	return d
}

func countByClass(d *dataset.Dataset) []int {
	counts := make([]int, d.NumClasses)
	for _, label := range d.Labels {
		counts[label]++
	}
	return counts
}

func TestNormalizeScalesRawPixels(t *testing.T) {
	pixels := [][]float32{{0, 127.5, 255}}
	Normalize(pixels)
	assert.InDelta(t, 0.5, pixels[0][1], 1e-6)
	assert.InDelta(t, 1.0, pixels[0][2], 1e-6)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	pixels := [][]float32{{0, 127.5, 255}}
	Normalize(pixels)
	once := append([]float32(nil), pixels[0]...)

	Normalize(pixels)
	assert.Equal(t, once, pixels[0])
}

func TestBalanceUndersample(t *testing.T) {
	d := synthDataset(10, 4, 7)

	out, err := Balance(d, BalanceUndersample, 1)
	require.NoError(t, err)

	counts := countByClass(out)
	assert.Equal(t, []int{4, 4, 4}, counts)
	assert.Equal(t, 12, out.Len())

	// Without replacement: all samples within a class are distinct.
	seen := map[*float32]bool{}
	for _, p := range out.Pixels {
		assert.False(t, seen[&p[0]], "undersample must not duplicate samples")
		seen[&p[0]] = true
	}
}

func TestBalanceOversample(t *testing.T) {
	d := synthDataset(10, 4, 7)

	out, err := Balance(d, BalanceOversample, 1)
	require.NoError(t, err)

	counts := countByClass(out)
	assert.Equal(t, []int{10, 10, 10}, counts)
	assert.Equal(t, 30, out.Len())
}

func TestBalanceNoneIsPassThrough(t *testing.T) {
	d := synthDataset(3, 5)
	out, err := Balance(d, BalanceNone, 1)
	require.NoError(t, err)
	assert.Same(t, d, out)
}

func TestBalanceUnknownStrategy(t *testing.T) {
	_, err := Balance(synthDataset(2, 2), Strategy("median"), 1)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestSplitPartitionsEverySample(t *testing.T) {
	d := synthDataset(40, 25, 35)

	splits, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)

	assert.Equal(t, d.Len(), splits.Total())
	assert.NotZero(t, splits.Train.Len())
	assert.NotZero(t, splits.Val.Len())
	assert.NotZero(t, splits.Test.Len())
}

func TestSplitPreservesClassProportions(t *testing.T) {
	d := synthDataset(100, 60, 40)

	splits, err := Split(d, DefaultSplitConfig())
	require.NoError(t, err)

	source := []float64{0.5, 0.3, 0.2}
	for _, part := range []*dataset.Dataset{splits.Train, splits.Val, splits.Test} {
		counts := countByClass(part)
		for class, want := range source {
			got := float64(counts[class]) / float64(part.Len())
			assert.InDelta(t, want, got, 0.05,
				"class %d proportion drifted beyond 5 points", class)
		}
	}
}

func TestSplitWithoutValidation(t *testing.T) {
	d := synthDataset(10, 10)

	cfg := DefaultSplitConfig()
	cfg.ValFraction = 0
	splits, err := Split(d, cfg)
	require.NoError(t, err)

	assert.Nil(t, splits.Val)
	assert.Equal(t, d.Len(), splits.Total())
}

func TestSplitFailsWhenClassTooSmall(t *testing.T) {
	// Class 1 has 2 samples; a 3-way stratified split needs 3.
	d := synthDataset(10, 2)

	_, err := Split(d, DefaultSplitConfig())
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestSplitRejectsBadFractions(t *testing.T) {
	d := synthDataset(10, 10)

	_, err := Split(d, SplitConfig{TestFraction: 0})
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))

	_, err = Split(d, SplitConfig{TestFraction: 1.2})
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestTrainingGeneratorShapes(t *testing.T) {
	d := synthDataset(6, 6)

	g, err := NewTrainingGenerator(d, 4, DefaultAugmentConfig(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Steps())

	x, y := g.Next()
	assert.Equal(t, tensor.Shape{4, 3, 4, 4}, x.Shape())
	assert.Equal(t, tensor.Shape{4, 2}, y.Shape())

	// One-hot rows sum to exactly one.
	yData := y.Data().([]float32)
	for i := 0; i < 4; i++ {
		var sum float32
		for c := 0; c < 2; c++ {
			sum += yData[i*2+c]
		}
		assert.Equal(t, float32(1), sum)
	}
}

func TestTrainingGeneratorIsInfinite(t *testing.T) {
	d := synthDataset(3, 3)
	g, err := NewTrainingGenerator(d, 2, DefaultAugmentConfig(), 7)
	require.NoError(t, err)

	// Consume well past one epoch without exhaustion.
	for i := 0; i < 10; i++ {
		x, y := g.Next()
		assert.NotNil(t, x)
		assert.NotNil(t, y)
	}
}

func TestValidationGeneratorIsDeterministic(t *testing.T) {
	d := synthDataset(4, 4)

	g1, err := NewValidationGenerator(d, 4)
	require.NoError(t, err)
	g2, err := NewValidationGenerator(d, 4)
	require.NoError(t, err)

	x1, _ := g1.Next()
	x2, _ := g2.Next()
	assert.Equal(t, x1.Data(), x2.Data(), "validation batches must be unshuffled and unaugmented")
}

func TestGeneratorCapsBatchAtDatasetSize(t *testing.T) {
	d := synthDataset(2, 1)
	g, err := NewValidationGenerator(d, 64)
	require.NoError(t, err)
	assert.Equal(t, 3, g.BatchSize())
}

func TestGeneratorEmptyDatasetFails(t *testing.T) {
	_, err := NewValidationGenerator(&dataset.Dataset{NumClasses: 2}, 4)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestAugmentPreservesRangeAndShape(t *testing.T) {
	d := synthDataset(1)
	rng := rand.New(rand.NewSource(3))

	out := Augment(d.Pixels[0], 4, 4, DefaultAugmentConfig(), rng)
	require.Len(t, out, len(d.Pixels[0]))
	for _, v := range out {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestToTensors(t *testing.T) {
	d := synthDataset(2, 3)
	x, y := ToTensors(d)
	assert.Equal(t, tensor.Shape{5, 3, 4, 4}, x.Shape())
	assert.Equal(t, tensor.Shape{5, 2}, y.Shape())
}
