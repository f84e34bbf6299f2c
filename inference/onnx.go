package inference

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime brings up the onnxruntime environment once per process.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXConfig locates an externally converted ONNX classifier.
type ONNXConfig struct {
	ModelPath string
	// LibraryPath optionally overrides the onnxruntime shared library
	// location.
	LibraryPath string
	Height      int
	Width       int
	InputName   string
	OutputName  string
}

// Normalize fills defaults in place and returns the config.
func (c ONNXConfig) Normalize() ONNXConfig {
	if c.Height == 0 {
		c.Height = 224
	}
	if c.Width == 0 {
		c.Width = 224
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	return c
}

// ONNXEngine classifies through onnxruntime, for models converted
// outside this pipeline.
type ONNXEngine struct {
	mu sync.Mutex

	session  *ort.DynamicAdvancedSession
	registry *classes.Registry
	cfg      ONNXConfig
}

// NewONNXEngine initializes the runtime and opens a session.
//
// Arguments:
//   - cfg: Model location and I/O metadata; zero fields take defaults.
//   - registry: Class registry for id-to-name resolution.
//
// Returns:
//   - *ONNXEngine: The ready engine.
//   - error: A framework fault when the runtime or session fails.
func NewONNXEngine(cfg ONNXConfig, registry *classes.Registry) (*ONNXEngine, error) {
	cfg = cfg.Normalize()
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, faults.Wrap(faults.KindFramework, err, "initializing onnxruntime")
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindFramework, err, "opening onnx session")
	}

	logrus.Infof("onnx engine ready: %s, %dx%d input", cfg.ModelPath, cfg.Height, cfg.Width)
	return &ONNXEngine{session: session, registry: registry, cfg: cfg}, nil
}

// Predict classifies one sample.
//
// Arguments:
//   - ctx: Cancellation.
//   - sample: HWC float32 pixels in [0,1] at the configured resolution.
//
// Returns:
//   - *Prediction: Winning class plus the full probability vector.
//   - error: An inference fault on shape mismatch or session failure.
func (e *ONNXEngine) Predict(ctx context.Context, sample []float32) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "predict canceled")
	}
	h, w := e.cfg.Height, e.cfg.Width
	if len(sample) != h*w*3 {
		return nil, faults.Inferencef("sample has %d values, model expects %d", len(sample), h*w*3)
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)),
		images.HWCToCHW(sample, h, w))
	if err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "building input tensor")
	}
	defer input.Destroy()

	e.mu.Lock()
	defer e.mu.Unlock()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, faults.Wrap(faults.KindInference, err, "running onnx session")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, faults.Inferencef("model output is not float32")
	}
	probs := append([]float32(nil), out.GetData()...)

	p := &Prediction{Probabilities: make([]float64, len(probs))}
	for i, v := range probs {
		p.Probabilities[i] = float64(v)
		if v > float32(p.Confidence) {
			p.Confidence = float64(v)
			p.ClassID = i
		}
	}
	p.ClassName = e.registry.Name(p.ClassID)
	return p, nil
}

// InputSize returns the configured input resolution.
func (e *ONNXEngine) InputSize() (int, int) {
	return e.cfg.Height, e.cfg.Width
}

// Info describes the loaded model.
func (e *ONNXEngine) Info() map[string]interface{} {
	return map[string]interface{}{
		"engine":      "onnx",
		"model_path":  e.cfg.ModelPath,
		"input_shape": []int{1, 3, e.cfg.Height, e.cfg.Width},
	}
}

// Close destroys the session.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
