package preprocess

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
)

// SplitConfig parameterizes the stratified partition.
type SplitConfig struct {
	// TestFraction is the share of the whole dataset held out for test.
	TestFraction float64
	// ValFraction is the share of the remainder (after test) held out for
	// validation. Zero disables the validation split.
	ValFraction float64
	// Seed drives the per-class shuffles.
	Seed int64
}

// DefaultSplitConfig matches the pipeline defaults: 20% test, 10% of the
// remainder as validation.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{TestFraction: 0.2, ValFraction: 0.1, Seed: 42}
}

// Splits holds the three disjoint partitions. Val is nil when the
// validation fraction is zero.
type Splits struct {
	Train *dataset.Dataset
	Val   *dataset.Dataset
	Test  *dataset.Dataset
}

// Total returns the summed sample count across partitions.
func (s *Splits) Total() int {
	n := s.Train.Len() + s.Test.Len()
	if s.Val != nil {
		n += s.Val.Len()
	}
	return n
}

// Split partitions the dataset into stratified train/val/test sets. Every
// sample lands in exactly one partition and per-class proportions are
// approximately preserved. Fails when any class has fewer members than
// the number of partitions requested, since each partition must receive
// at least one sample of every class.
//
// Arguments:
//   - d: The source dataset.
//   - cfg: Partition fractions and seed.
//
// Returns:
//   - *Splits: The partitions.
//   - error: A config fault when stratification is impossible or the
//     fractions are out of range.
func Split(d *dataset.Dataset, cfg SplitConfig) (*Splits, error) {
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		return nil, faults.Configf("test fraction %.2f out of (0, 1)", cfg.TestFraction)
	}
	if cfg.ValFraction < 0 || cfg.ValFraction >= 1 {
		return nil, faults.Configf("val fraction %.2f out of [0, 1)", cfg.ValFraction)
	}

	wantParts := 2
	if cfg.ValFraction > 0 {
		wantParts = 3
	}

	perClass := indicesByClass(d.Labels, d.NumClasses)
	for class, idxs := range perClass {
		if len(idxs) > 0 && len(idxs) < wantParts {
			return nil, faults.Configf(
				"cannot stratify: class %d has %d samples, need at least %d",
				class, len(idxs), wantParts)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	train := emptyLike(d)
	test := emptyLike(d)
	var val *dataset.Dataset
	if cfg.ValFraction > 0 {
		val = emptyLike(d)
	}

	for class, idxs := range perClass {
		if len(idxs) == 0 {
			continue
		}
		shuffled := make([]int, len(idxs))
		for i, p := range rng.Perm(len(idxs)) {
			shuffled[i] = idxs[p]
		}

		nTest := clampCount(cfg.TestFraction, len(shuffled), 1, len(shuffled)-wantParts+1)
		nVal := 0
		remainder := len(shuffled) - nTest
		if val != nil {
			nVal = clampCount(cfg.ValFraction, remainder, 1, remainder-1)
		}

		appendSamples(test, d, shuffled[:nTest], class)
		if val != nil {
			appendSamples(val, d, shuffled[nTest:nTest+nVal], class)
		}
		appendSamples(train, d, shuffled[nTest+nVal:], class)
	}

	shuffle(train, rng)

	logrus.Infof("split created: train=%d val=%d test=%d",
		train.Len(), lenOrZero(val), test.Len())

	return &Splits{Train: train, Val: val, Test: test}, nil
}

func clampCount(fraction float64, n, min, max int) int {
	c := int(math.Round(fraction * float64(n)))
	if c < min {
		c = min
	}
	if c > max {
		c = max
	}
	return c
}

func emptyLike(d *dataset.Dataset) *dataset.Dataset {
	return &dataset.Dataset{
		Width:       d.Width,
		Height:      d.Height,
		NumClasses:  d.NumClasses,
		ClassCounts: make([]int, d.NumClasses),
	}
}

func appendSamples(dst, src *dataset.Dataset, idxs []int, class int) {
	for _, idx := range idxs {
		dst.Pixels = append(dst.Pixels, src.Pixels[idx])
		dst.Labels = append(dst.Labels, src.Labels[idx])
	}
	dst.ClassCounts[class] += len(idxs)
}

func lenOrZero(d *dataset.Dataset) int {
	if d == nil {
		return 0
	}
	return d.Len()
}
