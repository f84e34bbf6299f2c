package export

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/models"
)

// Exporter converts a trained classifier into a quantized artifact.
type Exporter struct {
	model *models.Classifier
}

// NewExporter wraps a trained classifier.
func NewExporter(model *models.Classifier) *Exporter {
	return &Exporter{model: model}
}

// Export produces the size-optimized artifact: conv and dense kernels
// as symmetric int8, everything else at full precision.
//
// Returns:
//   - *Container: The artifact, ready to Save.
//   - error: A framework fault when the model has no weights.
func (e *Exporter) Export() (*Container, error) {
	return e.build(nil)
}

// ExportCalibrated additionally runs the representative generator to
// derive uint8 input quantization from observed activation ranges.
//
// Arguments:
//   - rep: Calibration sample stream, at most 100 samples consumed.
//
// Returns:
//   - *Container: The calibrated artifact.
//   - error: A framework fault when the model has no weights, a config
//     fault when the generator yields nothing.
func (e *Exporter) ExportCalibrated(rep *RepresentativeGenerator) (*Container, error) {
	if rep == nil || rep.Count() == 0 {
		return nil, faults.Configf("calibration requires a representative dataset")
	}
	return e.build(rep)
}

func (e *Exporter) build(rep *RepresentativeGenerator) (*Container, error) {
	weights := e.model.Weights()
	if len(weights) == 0 {
		return nil, faults.Frameworkf("model has no weights to export")
	}
	cfg := e.model.Config()

	c := &Container{
		Variant:    cfg.Variant,
		NumClasses: cfg.NumClasses,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Spec:       e.model.Spec(),
	}

	for _, name := range e.model.WeightNames() {
		w := weights[name]
		shape := append([]int(nil), w.Shape()...)
		values := w.Data().([]float32)
		if strings.HasSuffix(name, "_w") {
			c.Quantized = append(c.Quantized, Quantize(name, shape, values))
		} else {
			c.Floats = append(c.Floats, FloatTensor{
				Name:  name,
				Shape: shape,
				Data:  append([]float32(nil), values...),
			})
		}
	}

	if rep != nil {
		lo, hi := rep.ObservedRange()
		c.Calibrated = true
		c.InputScale, c.InputZero = inputQuantization(lo, hi)
		logrus.Infof("calibrated over %d samples: input range [%.4f, %.4f], scale %g, zero %d",
			rep.Consumed(), lo, hi, c.InputScale, c.InputZero)
	}

	logrus.Infof("export: %d int8 tensors, %d float tensors", len(c.Quantized), len(c.Floats))
	return c, nil
}

// inputQuantization maps an observed float range onto uint8.
func inputQuantization(lo, hi float32) (float32, uint8) {
	if hi <= lo {
		hi = lo + 1
	}
	scale := (hi - lo) / 255
	zero := -lo / scale
	if zero < 0 {
		zero = 0
	}
	if zero > 255 {
		zero = 255
	}
	return scale, uint8(zero + 0.5)
}
