package models

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/faults"
)

// Classifier owns a topology spec and its canonical weight tensors. Graphs
// built from it (training or eval) bind the same tensor backings, so
// solver updates are immediately visible to evaluation passes.
type Classifier struct {
	cfg     Config
	spec    []LayerSpec
	weights map[string]*tensor.Dense

	learningRate float64
	fineTuned    bool
}

// Graph is one compiled expression graph over the classifier weights.
type Graph struct {
	G      *G.ExprGraph
	Input  *G.Node
	Output *G.Node
	// Learnables are the weight nodes receiving gradients, empty for
	// eval graphs.
	Learnables G.Nodes

	batchSize int
	stats     []*bnStat
}

// bnStat captures one normalization layer's batch statistics during a
// training run so running estimates can be maintained host-side.
type bnStat struct {
	name     string
	mean     G.Value
	variance G.Value
}

// NewClassifier constructs and initializes a classifier for the variant
// named in the config.
//
// Arguments:
//   - cfg: Model configuration; zero fields take defaults.
//
// Returns:
//   - *Classifier: The initialized classifier.
//   - error: A config fault for an unknown variant or degenerate
//     resolution, a framework fault if the topology cannot be realized.
func NewClassifier(cfg Config) (*Classifier, error) {
	cfg = cfg.Normalize()
	if cfg.NumClasses < 2 {
		return nil, faults.Configf("need at least 2 classes, got %d", cfg.NumClasses)
	}

	spec, err := topology(cfg.Variant, cfg.NumClasses)
	if err != nil {
		return nil, faults.Configf("%v", err)
	}
	if err := resolveDenseInputs(spec, cfg.Height, cfg.Width); err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "resolving topology")
	}

	c := &Classifier{
		cfg:          cfg,
		spec:         spec,
		weights:      map[string]*tensor.Dense{},
		learningRate: cfg.LearningRate,
	}
	c.initWeights(rand.New(rand.NewSource(cfg.Seed)))

	if cfg.BackboneSnapshot != "" {
		if err := c.LoadBackbone(cfg.BackboneSnapshot); err != nil {
			return nil, err
		}
	} else if cfg.Variant == VariantTransfer {
		logrus.Warn("no backbone snapshot configured; transfer backbone starts from random weights")
	}

	logrus.Infof("created %s model: %d parameters", cfg.Variant, c.ParamCount())
	return c, nil
}

// resolveDenseInputs walks spatial dimensions through the spec and fills
// any dense layer whose input size depends on the flattened feature map.
func resolveDenseInputs(spec []LayerSpec, h, w int) error {
	channels := 3
	for i := range spec {
		switch spec[i].Kind {
		case OpConv:
			h -= spec[i].Kernel - 1
			w -= spec[i].Kernel - 1
			channels = spec[i].Out
		case OpMaxPool:
			h /= 2
			w /= 2
		case OpGlobalAvgPool:
			h, w = 1, 1
		case OpFlatten:
			if h < 1 || w < 1 {
				return fmt.Errorf("input resolution too small for topology")
			}
			flat := channels * h * w
			for j := i + 1; j < len(spec); j++ {
				if spec[j].Kind == OpDense {
					if spec[j].In == 0 {
						spec[j].In = flat
					}
					break
				}
			}
		}
		if h < 1 || w < 1 {
			return fmt.Errorf("input resolution too small for topology")
		}
	}
	return nil
}

func (c *Classifier) initWeights(rng *rand.Rand) {
	glorot := func(shape tensor.Shape, fanIn, fanOut int) *tensor.Dense {
		limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
		backing := make([]float32, shape.TotalSize())
		for i := range backing {
			backing[i] = (rng.Float32()*2 - 1) * limit
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}
	filled := func(shape tensor.Shape, v float32) *tensor.Dense {
		backing := make([]float32, shape.TotalSize())
		for i := range backing {
			backing[i] = v
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}

	for _, layer := range c.spec {
		switch layer.Kind {
		case OpConv:
			fanIn := layer.In * layer.Kernel * layer.Kernel
			fanOut := layer.Out * layer.Kernel * layer.Kernel
			c.weights[layer.Name+"_w"] = glorot(
				tensor.Shape{layer.Out, layer.In, layer.Kernel, layer.Kernel}, fanIn, fanOut)
			c.weights[layer.Name+"_b"] = filled(tensor.Shape{1, layer.Out, 1, 1}, 0)
		case OpBatchNorm:
			c.weights[layer.Name+"_scale"] = filled(tensor.Shape{1, layer.Out, 1, 1}, 1)
			c.weights[layer.Name+"_bias"] = filled(tensor.Shape{1, layer.Out, 1, 1}, 0)
			// Running statistics, maintained outside the solver.
			c.weights[layer.Name+"_mean"] = filled(tensor.Shape{1, layer.Out, 1, 1}, 0)
			c.weights[layer.Name+"_var"] = filled(tensor.Shape{1, layer.Out, 1, 1}, 1)
		case OpDense:
			c.weights[layer.Name+"_w"] = glorot(tensor.Shape{layer.In, layer.Out}, layer.In, layer.Out)
			c.weights[layer.Name+"_b"] = filled(tensor.Shape{1, layer.Out}, 0)
		}
	}
}

// Build compiles an expression graph over the shared weights.
//
// Arguments:
//   - batchSize: Leading input dimension.
//   - training: Training graphs apply dropout, run batch norm in
//     training mode and expose learnables; eval graphs do neither.
//
// Returns:
//   - *Graph: The compiled graph.
//   - error: A framework fault if an op cannot be constructed.
func (c *Classifier) Build(batchSize int, training bool) (*Graph, error) {
	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(batchSize, 3, c.cfg.Height, c.cfg.Width), G.WithName("input"))

	out := input
	var (
		learnables G.Nodes
		stats      []*bnStat
		err        error
	)

	node := func(name string, dims int) *G.Node {
		v := c.weights[name]
		return G.NewTensor(g, tensor.Float32, dims,
			G.WithShape(v.Shape()...), G.WithName(name), G.WithValue(v))
	}

	for _, layer := range c.spec {
		switch layer.Kind {
		case OpConv:
			w := node(layer.Name+"_w", 4)
			b := node(layer.Name+"_b", 4)
			out, err = G.Conv2d(out, w,
				tensor.Shape{layer.Kernel, layer.Kernel},
				[]int{0, 0}, []int{1, 1}, []int{1, 1})
			if err == nil {
				out, err = G.BroadcastAdd(out, b, nil, []byte{0, 2, 3})
			}
			if training && layer.Trainable {
				learnables = append(learnables, w, b)
			}
		case OpBatchNorm:
			scale := node(layer.Name+"_scale", 4)
			bias := node(layer.Name+"_bias", 4)
			var stat *bnStat
			if training {
				out, stat, err = bnTrainForward(out, scale, bias, layer.Out)
				if err == nil {
					stat.name = layer.Name
					stats = append(stats, stat)
				}
			} else {
				mean := node(layer.Name+"_mean", 4)
				variance := node(layer.Name+"_var", 4)
				out, err = bnEvalForward(out, scale, bias, mean, variance)
			}
			if training && layer.Trainable {
				learnables = append(learnables, scale, bias)
			}
		case OpReLU:
			out, err = G.Rectify(out)
		case OpMaxPool:
			out, err = G.MaxPool2D(out, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
		case OpGlobalAvgPool:
			out, err = G.Mean(out, 2, 3)
		case OpFlatten:
			out, err = G.Reshape(out, tensor.Shape{batchSize, out.Shape().TotalSize() / batchSize})
		case OpDropout:
			if training {
				out, err = G.Dropout(out, layer.Rate)
			}
		case OpDense:
			w := node(layer.Name+"_w", 2)
			b := node(layer.Name+"_b", 2)
			out, err = G.Mul(out, w)
			if err == nil {
				out, err = G.BroadcastAdd(out, b, nil, []byte{0})
			}
			if training && layer.Trainable {
				learnables = append(learnables, w, b)
			}
		case OpSoftmax:
			out, err = G.SoftMax(out)
		default:
			err = fmt.Errorf("unknown op kind %q", layer.Kind)
		}
		if err != nil {
			return nil, faults.Wrap(faults.KindFramework, err, fmt.Sprintf("building %s layer", layer.Kind))
		}
	}

	return &Graph{
		G:          g,
		Input:      input,
		Output:     out,
		Learnables: learnables,
		batchSize:  batchSize,
		stats:      stats,
	}, nil
}

// bnTrainForward normalizes by batch statistics and exposes them for
// running-estimate updates.
func bnTrainForward(x, scale, bias *G.Node, channels int) (*G.Node, *bnStat, error) {
	stat := &bnStat{}

	batchMean, err := G.Mean(x, 0, 2, 3)
	if err != nil {
		return nil, nil, err
	}
	G.Read(batchMean, &stat.mean)

	meanCol, err := G.Reshape(batchMean, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, nil, err
	}
	centered, err := G.BroadcastSub(x, meanCol, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, nil, err
	}
	squared, err := G.Square(centered)
	if err != nil {
		return nil, nil, err
	}
	batchVar, err := G.Mean(squared, 0, 2, 3)
	if err != nil {
		return nil, nil, err
	}
	G.Read(batchVar, &stat.variance)

	varCol, err := G.Reshape(batchVar, tensor.Shape{1, channels, 1, 1})
	if err != nil {
		return nil, nil, err
	}
	out, err := bnAffine(centered, varCol, scale, bias)
	if err != nil {
		return nil, nil, err
	}
	return out, stat, nil
}

// bnEvalForward normalizes by the stored running statistics.
func bnEvalForward(x, scale, bias, mean, variance *G.Node) (*G.Node, error) {
	centered, err := G.BroadcastSub(x, mean, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	return bnAffine(centered, variance, scale, bias)
}

func bnAffine(centered, variance, scale, bias *G.Node) (*G.Node, error) {
	eps := G.NewConstant(float32(1e-5))
	shifted, err := G.Add(variance, eps)
	if err != nil {
		return nil, err
	}
	denom, err := G.Sqrt(shifted)
	if err != nil {
		return nil, err
	}
	norm, err := G.BroadcastHadamardDiv(centered, denom, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	scaled, err := G.BroadcastHadamardProd(norm, scale, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	return G.BroadcastAdd(scaled, bias, nil, []byte{0, 2, 3})
}

// UpdateRunningStats folds the batch statistics captured by the latest
// training step into the stored running estimates.
//
// Arguments:
//   - gr: A training graph whose machine has completed a run.
func (c *Classifier) UpdateRunningStats(gr *Graph) {
	const momentum = 0.9
	for _, stat := range gr.stats {
		if stat.mean == nil || stat.variance == nil {
			continue
		}
		mean := c.weights[stat.name+"_mean"].Data().([]float32)
		variance := c.weights[stat.name+"_var"].Data().([]float32)
		bm := stat.mean.Data().([]float32)
		bv := stat.variance.Data().([]float32)
		for i := range mean {
			mean[i] = momentum*mean[i] + (1-momentum)*bm[i]
			variance[i] = momentum*variance[i] + (1-momentum)*bv[i]
		}
	}
}

// CrossEntropy attaches the categorical cross-entropy cost to a training
// graph's output.
//
// Arguments:
//   - gr: A training graph.
//
// Returns:
//   - *G.Node: The one-hot target placeholder to Let each batch.
//   - *G.Node: The scalar cost node.
//   - error: A framework fault if the cost cannot be constructed.
func (c *Classifier) CrossEntropy(gr *Graph) (*G.Node, *G.Node, error) {
	target := G.NewMatrix(gr.G, tensor.Float32,
		G.WithShape(gr.batchSize, c.cfg.NumClasses), G.WithName("target"))

	// log(p + eps) guards against exact zeros out of softmax.
	eps := G.NewConstant(float32(1e-8))
	stable, err := G.Add(gr.Output, eps)
	if err == nil {
		var logp, prod, perSample, mean *G.Node
		if logp, err = G.Log(stable); err == nil {
			if prod, err = G.HadamardProd(target, logp); err == nil {
				if perSample, err = G.Sum(prod, 1); err == nil {
					if mean, err = G.Mean(perSample); err == nil {
						var cost *G.Node
						if cost, err = G.Neg(mean); err == nil {
							return target, cost, nil
						}
					}
				}
			}
		}
	}
	return nil, nil, faults.Wrap(faults.KindFramework, err, "building cross-entropy cost")
}

// EnableFineTuning unfreezes the last n backbone layers so the next
// training stage can adjust them. Only topologies with a pretrained
// backbone support this.
//
// Arguments:
//   - n: Number of trailing backbone layers to unfreeze.
//
// Returns:
//   - error: A config fault when the variant has no backbone.
func (c *Classifier) EnableFineTuning(n int) error {
	var backboneIdx []int
	for i, layer := range c.spec {
		if layer.Backbone {
			backboneIdx = append(backboneIdx, i)
		}
	}
	if len(backboneIdx) == 0 {
		return faults.Configf("variant %s has no pretrained backbone to fine-tune", c.cfg.Variant)
	}
	if n <= 0 {
		n = 20
	}
	if n > len(backboneIdx) {
		n = len(backboneIdx)
	}

	for _, i := range backboneIdx[len(backboneIdx)-n:] {
		c.spec[i].Trainable = true
	}
	c.fineTuned = true
	logrus.Infof("fine-tuning enabled: last %d backbone layers unfrozen", n)
	return nil
}

// SetLearningRate records the compiled learning rate; the trainer reads
// it when constructing its solver.
func (c *Classifier) SetLearningRate(lr float64) { c.learningRate = lr }

// LearningRate returns the compiled learning rate.
func (c *Classifier) LearningRate() float64 { return c.learningRate }

// Config returns the construction config.
func (c *Classifier) Config() Config { return c.cfg }

// Spec returns a copy of the topology description.
func (c *Classifier) Spec() []LayerSpec {
	cp := make([]LayerSpec, len(c.spec))
	copy(cp, c.spec)
	return cp
}

// Weights exposes the canonical weight tensors keyed by name.
func (c *Classifier) Weights() map[string]*tensor.Dense { return c.weights }

// ParamCount returns the total number of scalar parameters.
func (c *Classifier) ParamCount() int {
	total := 0
	for _, w := range c.weights {
		total += w.Shape().TotalSize()
	}
	return total
}

// Summary renders per-layer parameter counts, largest first within spec
// order preserved.
func (c *Classifier) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "variant=%s input=%dx%dx3 classes=%d\n",
		c.cfg.Variant, c.cfg.Height, c.cfg.Width, c.cfg.NumClasses)
	for _, layer := range c.spec {
		if layer.Name == "" {
			continue
		}
		n := 0
		for name, w := range c.weights {
			if strings.HasPrefix(name, layer.Name+"_") {
				n += w.Shape().TotalSize()
			}
		}
		fmt.Fprintf(&b, "  %-16s %-10s params=%-8d trainable=%t\n",
			layer.Name, layer.Kind, n, layer.Trainable)
	}
	fmt.Fprintf(&b, "total params: %d\n", c.ParamCount())
	return b.String()
}

// WeightNames returns weight tensor names in deterministic order.
func (c *Classifier) WeightNames() []string {
	names := make([]string, 0, len(c.weights))
	for name := range c.weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
