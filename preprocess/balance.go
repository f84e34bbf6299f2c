package preprocess

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
)

// Strategy selects a class-balancing approach.
type Strategy string

const (
	// BalanceNone passes the dataset through untouched.
	BalanceNone Strategy = "none"
	// BalanceUndersample truncates every class to the minority class
	// count, sampling without replacement.
	BalanceUndersample Strategy = "undersample"
	// BalanceOversample expands every class to the majority class count,
	// sampling with replacement (duplicates expected).
	BalanceOversample Strategy = "oversample"
)

// Balance rebalances per-class sample counts according to the strategy
// and shuffles the result. BalanceNone returns the input unchanged.
//
// Arguments:
//   - d: The dataset to balance.
//   - strategy: The balancing strategy.
//   - seed: Seed for the sampling RNG, for reproducible runs.
//
// Returns:
//   - *dataset.Dataset: The balanced dataset (a new one unless
//     BalanceNone).
//   - error: A config fault for an unrecognized strategy.
func Balance(d *dataset.Dataset, strategy Strategy, seed int64) (*dataset.Dataset, error) {
	if strategy == BalanceNone {
		return d, nil
	}

	perClass := indicesByClass(d.Labels, d.NumClasses)
	rng := rand.New(rand.NewSource(seed))

	var target int
	switch strategy {
	case BalanceUndersample:
		target = -1
		for _, idxs := range perClass {
			if len(idxs) == 0 {
				continue
			}
			if target < 0 || len(idxs) < target {
				target = len(idxs)
			}
		}
	case BalanceOversample:
		for _, idxs := range perClass {
			if len(idxs) > target {
				target = len(idxs)
			}
		}
	default:
		return nil, faults.Configf("unknown balance strategy: %q", strategy)
	}
	if target <= 0 {
		return d, nil
	}

	logrus.Infof("balancing with %s to %d samples per class", strategy, target)

	out := &dataset.Dataset{
		Width:       d.Width,
		Height:      d.Height,
		NumClasses:  d.NumClasses,
		ClassCounts: make([]int, d.NumClasses),
	}

	for class, idxs := range perClass {
		if len(idxs) == 0 {
			continue
		}
		var chosen []int
		if strategy == BalanceUndersample {
			perm := rng.Perm(len(idxs))[:target]
			chosen = make([]int, target)
			for i, p := range perm {
				chosen[i] = idxs[p]
			}
		} else {
			chosen = make([]int, target)
			for i := range chosen {
				chosen[i] = idxs[rng.Intn(len(idxs))]
			}
		}
		for _, idx := range chosen {
			out.Pixels = append(out.Pixels, d.Pixels[idx])
			out.Labels = append(out.Labels, d.Labels[idx])
			out.ClassCounts[class]++
		}
	}

	shuffle(out, rng)
	return out, nil
}

func indicesByClass(labels []int, numClasses int) [][]int {
	perClass := make([][]int, numClasses)
	for i, label := range labels {
		if label >= 0 && label < numClasses {
			perClass[label] = append(perClass[label], i)
		}
	}
	return perClass
}

func shuffle(d *dataset.Dataset, rng *rand.Rand) {
	rng.Shuffle(d.Len(), func(i, j int) {
		d.Pixels[i], d.Pixels[j] = d.Pixels[j], d.Pixels[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}
