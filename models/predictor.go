package models

import (
	"sync"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
)

// Predictor runs single samples through a full-precision eval graph.
// It shares the classifier's weight backings, so it always reflects the
// latest trained values.
type Predictor struct {
	mu sync.Mutex

	cfg   Config
	graph *Graph
	vm    G.VM
	out   G.Value
}

// NewPredictor compiles a batch-of-one eval graph.
//
// Returns:
//   - *Predictor: The ready predictor.
//   - error: A framework fault when the graph cannot be compiled.
func (c *Classifier) NewPredictor() (*Predictor, error) {
	graph, err := c.Build(1, false)
	if err != nil {
		return nil, err
	}
	p := &Predictor{cfg: c.cfg, graph: graph}
	G.Read(graph.Output, &p.out)
	p.vm = G.NewTapeMachine(graph.G)
	return p, nil
}

// Predict classifies one sample.
//
// Arguments:
//   - sample: HWC float32 pixels in [0,1] at the model resolution.
//
// Returns:
//   - int: The winning class id.
//   - []float32: The full probability vector.
//   - error: An inference fault on shape mismatch or machine failure.
func (p *Predictor) Predict(sample []float32) (int, []float32, error) {
	h, w := p.cfg.Height, p.cfg.Width
	if len(sample) != h*w*3 {
		return 0, nil, faults.Inferencef("sample has %d values, model expects %d", len(sample), h*w*3)
	}

	chw := images.HWCToCHW(sample, h, w)
	x := tensor.New(tensor.WithShape(1, 3, h, w), tensor.WithBacking(chw))

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := G.Let(p.graph.Input, x); err != nil {
		return 0, nil, faults.Wrap(faults.KindInference, err, "binding input")
	}
	if err := p.vm.RunAll(); err != nil {
		return 0, nil, faults.Wrap(faults.KindInference, err, "running predictor")
	}
	probs := append([]float32(nil), p.out.Data().([]float32)...)
	p.vm.Reset()

	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	return best, probs, nil
}

// Close releases the tape machine.
func (p *Predictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vm == nil {
		return nil
	}
	err := p.vm.Close()
	p.vm = nil
	return err
}
