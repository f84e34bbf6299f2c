package inference

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/export"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
	"github.com/docsight-ai/go-idclass/models"
)

// QuantizedEngine runs single-image classification over a quantized
// artifact, dequantized into an eval graph at load time.
type QuantizedEngine struct {
	mu sync.Mutex

	registry  *classes.Registry
	container *export.Container
	model     *models.Classifier

	graph *models.Graph
	vm    G.VM
	out   G.Value

	path string
}

// NewQuantizedEngine loads an artifact and compiles its eval graph for
// batch-of-one prediction.
//
// Arguments:
//   - path: Artifact file written by the exporter.
//   - registry: Class registry for id-to-name resolution.
//
// Returns:
//   - *QuantizedEngine: The ready engine.
//   - error: A config fault for a bad artifact, a framework fault when
//     the graph cannot be compiled.
func NewQuantizedEngine(path string, registry *classes.Registry) (*QuantizedEngine, error) {
	container, err := export.Load(path)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		Variant:    container.Variant,
		NumClasses: container.NumClasses,
		Width:      container.Width,
		Height:     container.Height,
		Spec:       container.Spec,
	}
	for _, q := range container.Quantized {
		snap.Entries = append(snap.Entries, models.WeightEntry{
			Name: q.Name, Shape: q.Shape, Data: q.Dequantize(),
		})
	}
	for _, f := range container.Floats {
		snap.Entries = append(snap.Entries, models.WeightEntry{
			Name: f.Name, Shape: f.Shape, Data: f.Data,
		})
	}

	model := models.FromSnapshot(snap)
	graph, err := model.Build(1, false)
	if err != nil {
		return nil, err
	}

	e := &QuantizedEngine{
		registry:  registry,
		container: container,
		model:     model,
		graph:     graph,
		path:      path,
	}
	G.Read(graph.Output, &e.out)
	e.vm = G.NewTapeMachine(graph.G)

	logrus.Infof("quantized engine ready: %s variant, %dx%d input, %d classes",
		container.Variant, container.Height, container.Width, container.NumClasses)
	return e, nil
}

// Predict classifies one sample.
//
// Arguments:
//   - ctx: Cancellation.
//   - sample: HWC float32 pixels in [0,1] at the artifact resolution.
//
// Returns:
//   - *Prediction: Winning class plus the full probability vector.
//   - error: An inference fault on shape mismatch or machine failure.
func (e *QuantizedEngine) Predict(ctx context.Context, sample []float32) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "predict canceled")
	}
	h, w := e.container.Height, e.container.Width
	if len(sample) != h*w*3 {
		return nil, faults.Inferencef("sample has %d values, artifact expects %d", len(sample), h*w*3)
	}

	if e.container.Calibrated {
		sample = e.castThroughUint8(sample)
	}
	chw := images.HWCToCHW(sample, h, w)
	x := tensor.New(tensor.WithShape(1, 3, h, w), tensor.WithBacking(chw))

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := G.Let(e.graph.Input, x); err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "binding input")
	}
	if err := e.vm.RunAll(); err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "running inference")
	}
	probs := append([]float32(nil), e.out.Data().([]float32)...)
	e.vm.Reset()

	return e.prediction(probs), nil
}

// castThroughUint8 applies the artifact's input quantization and casts
// back, reproducing exactly what a uint8 input pipeline would see.
func (e *QuantizedEngine) castThroughUint8(sample []float32) []float32 {
	scale, zero := e.container.InputScale, float32(e.container.InputZero)
	out := make([]float32, len(sample))
	for i, v := range sample {
		q := v/scale + zero
		if q < 0 {
			q = 0
		}
		if q > 255 {
			q = 255
		}
		out[i] = (float32(uint8(q+0.5)) - zero) * scale
	}
	return out
}

func (e *QuantizedEngine) prediction(probs []float32) *Prediction {
	p := &Prediction{Probabilities: make([]float64, len(probs))}
	for i, v := range probs {
		p.Probabilities[i] = float64(v)
		if v > float32(p.Confidence) {
			p.Confidence = float64(v)
			p.ClassID = i
		}
	}
	p.ClassName = e.registry.Name(p.ClassID)
	return p
}

// InputSize returns the artifact's input resolution.
func (e *QuantizedEngine) InputSize() (int, int) {
	return e.container.Height, e.container.Width
}

// Info describes the loaded artifact.
func (e *QuantizedEngine) Info() map[string]interface{} {
	return map[string]interface{}{
		"engine":      "quantized",
		"model_path":  e.path,
		"variant":     string(e.container.Variant),
		"input_shape": []int{1, 3, e.container.Height, e.container.Width},
		"num_classes": e.container.NumClasses,
		"calibrated":  e.container.Calibrated,
	}
}

// Close releases the tape machine.
func (e *QuantizedEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vm == nil {
		return nil
	}
	err := e.vm.Close()
	e.vm = nil
	return err
}
