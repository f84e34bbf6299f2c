package export

import (
	"github.com/sirupsen/logrus"
)

// parityProbes is how many samples the parity check compares.
const parityProbes = 5

// PredictFn maps one HWC sample to a predicted class id.
type PredictFn func(sample []float32) (int, error)

// Parity compares full-precision and quantized predictions over the
// first few samples. Mismatches are logged, never fatal; quantization
// is expected to cost some fidelity.
//
// Arguments:
//   - full: Full-precision prediction.
//   - quantized: Quantized-artifact prediction.
//   - samples: Probe samples; only the first few are used.
//
// Returns:
//   - int: The number of agreeing predictions.
func Parity(full, quantized PredictFn, samples [][]float32) int {
	n := len(samples)
	if n > parityProbes {
		n = parityProbes
	}

	agree := 0
	for i := 0; i < n; i++ {
		a, err := full(samples[i])
		if err != nil {
			logrus.Warnf("parity probe %d: full-precision predict failed: %v", i, err)
			continue
		}
		b, err := quantized(samples[i])
		if err != nil {
			logrus.Warnf("parity probe %d: quantized predict failed: %v", i, err)
			continue
		}
		if a == b {
			agree++
		} else {
			logrus.Warnf("parity probe %d: full-precision class %d, quantized class %d", i, a, b)
		}
	}
	logrus.Infof("parity check: %d/%d probes agree", agree, n)
	return agree
}
