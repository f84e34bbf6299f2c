package trainer

import (
	"math"

	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/preprocess"
)

type fitParams struct {
	stage          string
	epochs         int
	batchSize      int
	learningRate   float64
	patience       int
	minDelta       float64
	augment        preprocess.AugmentConfig
	checkpointPath string
	useSchedule    bool
	seed           int64
}

// runFit executes one training stage over the prepared splits. The
// compiled graph binds the classifier's weight backings, so updates are
// visible to evaluation graphs built later.
func (t *Trainer) runFit(p fitParams) error {
	gen, err := preprocess.NewTrainingGenerator(t.splits.Train, p.batchSize, p.augment, p.seed)
	if err != nil {
		return err
	}

	gr, err := t.model.Build(gen.BatchSize(), true)
	if err != nil {
		return err
	}
	target, cost, err := t.model.CrossEntropy(gr)
	if err != nil {
		return err
	}
	if _, err := G.Grad(cost, gr.Learnables...); err != nil {
		return faults.Wrap(faults.KindFramework, err, "building gradients")
	}

	var outVal, costVal G.Value
	G.Read(gr.Output, &outVal)
	G.Read(cost, &costVal)

	vm := G.NewTapeMachine(gr.G, G.BindDualValues(gr.Learnables...))
	defer vm.Close()

	lr := p.learningRate
	solver := G.NewAdamSolver(G.WithLearnRate(lr), G.WithBatchSize(float64(gen.BatchSize())))

	monitorVal := t.splits.Val != nil && t.splits.Val.Len() > 0
	if !monitorVal {
		logrus.Warn("no validation split: early stopping and plateau detection monitor training loss")
	}

	stopper := newEarlyStopper(p.patience, p.minDelta)
	plateau := newPlateauScheduler(0.5, p.patience/3, lr/1000, 2)
	ckpt := newCheckpointer(p.checkpointPath)

	baseEpoch := len(t.history)
	for epoch := 1; epoch <= p.epochs; epoch++ {
		if p.useSchedule {
			if next := scheduledRate(epoch, lr); next != lr {
				lr = next
				// Gorgonia solvers expose no rate setter, so a rate change
				// rebuilds the solver and the Adam moment estimates restart
				// from zero.
				solver = G.NewAdamSolver(G.WithLearnRate(lr), G.WithBatchSize(float64(gen.BatchSize())))
			}
		}

		var lossSum, accSum float64
		steps := gen.Steps()
		for step := 0; step < steps; step++ {
			x, y := gen.Next()
			if err := G.Let(gr.Input, x); err != nil {
				return faults.Wrap(faults.KindFramework, err, "binding input batch")
			}
			if err := G.Let(target, y); err != nil {
				return faults.Wrap(faults.KindFramework, err, "binding target batch")
			}
			if err := vm.RunAll(); err != nil {
				return faults.Wrap(faults.KindFramework, err, "training step")
			}

			lossSum += float64(costVal.Data().(float32))
			accSum += accuracyOf(outVal.(*tensor.Dense), y)

			if err := solver.Step(G.NodesToValueGrads(gr.Learnables)); err != nil {
				return faults.Wrap(faults.KindFramework, err, "solver step")
			}
			t.model.UpdateRunningStats(gr)
			vm.Reset()
		}

		stats := EpochStats{
			Epoch:        baseEpoch + epoch,
			Loss:         lossSum / float64(steps),
			Accuracy:     accSum / float64(steps),
			LearningRate: lr,
		}

		if monitorVal {
			valLoss, valAcc, err := t.evalSplit(t.splits.Val)
			if err != nil {
				return err
			}
			stats.ValLoss, stats.ValAccuracy = valLoss, valAcc
		}

		t.history = append(t.history, stats)
		logrus.Infof("[%s] epoch %d/%d loss=%.4f acc=%.4f val_loss=%.4f val_acc=%.4f lr=%g",
			p.stage, epoch, p.epochs, stats.Loss, stats.Accuracy, stats.ValLoss, stats.ValAccuracy, lr)

		monitored := stats.Loss
		ckptMetric := stats.Accuracy
		if monitorVal {
			monitored = stats.ValLoss
			ckptMetric = stats.ValAccuracy
		}

		if ckpt.observe(ckptMetric, t.model.SaveSnapshot) {
			logrus.Infof("[%s] checkpoint saved at accuracy %.4f", p.stage, ckptMetric)
		}
		if next, changed := plateau.observe(monitored, lr); changed {
			lr = next
			// Same moment-estimate reset as the scheduled rate change above.
			solver = G.NewAdamSolver(G.WithLearnRate(lr), G.WithBatchSize(float64(gen.BatchSize())))
			logrus.Infof("[%s] plateau: learning rate reduced to %g", p.stage, lr)
		}
		if stopper.observe(monitored, t.model.WeightsCopy) {
			logrus.Infof("[%s] early stopping at epoch %d, restoring best weights", p.stage, epoch)
			t.model.SetWeights(stopper.bestWeights)
			break
		}
	}

	t.model.SetLearningRate(lr)
	return nil
}

// evalSplit runs a full forward pass over a split in eval mode and
// returns cross-entropy loss and accuracy.
func (t *Trainer) evalSplit(d *dataset.Dataset) (loss, acc float64, err error) {
	probs, y, err := t.forward(d)
	if err != nil {
		return 0, 0, err
	}
	return crossEntropyOf(probs, y), accuracyOf(probs, y), nil
}

// forward compiles an eval graph over the whole split and returns the
// softmax probabilities alongside the one-hot labels.
func (t *Trainer) forward(d *dataset.Dataset) (*tensor.Dense, *tensor.Dense, error) {
	gr, err := t.model.Build(d.Len(), false)
	if err != nil {
		return nil, nil, err
	}

	x, y := preprocess.ToTensors(d)
	if err := G.Let(gr.Input, x); err != nil {
		return nil, nil, faults.Wrap(faults.KindFramework, err, "binding eval input")
	}

	var outVal G.Value
	G.Read(gr.Output, &outVal)

	vm := G.NewTapeMachine(gr.G)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, nil, faults.Wrap(faults.KindFramework, err, "eval pass")
	}
	return outVal.(*tensor.Dense), y, nil
}

// accuracyOf compares argmax rows of probabilities and one-hot labels.
func accuracyOf(probs, oneHot *tensor.Dense) float64 {
	p := probs.Data().([]float32)
	y := oneHot.Data().([]float32)
	rows := probs.Shape()[0]
	cols := probs.Shape()[1]

	correct := 0
	for i := 0; i < rows; i++ {
		if argmaxRow(p, i, cols) == argmaxRow(y, i, cols) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// crossEntropyOf computes mean categorical cross-entropy host-side.
func crossEntropyOf(probs, oneHot *tensor.Dense) float64 {
	p := probs.Data().([]float32)
	y := oneHot.Data().([]float32)
	rows := probs.Shape()[0]
	cols := probs.Shape()[1]

	var sum float64
	for i := 0; i < rows; i++ {
		for c := 0; c < cols; c++ {
			if y[i*cols+c] > 0 {
				sum -= math.Log(float64(p[i*cols+c]) + 1e-8)
			}
		}
	}
	return sum / float64(rows)
}

func argmaxRow(data []float32, row, cols int) int {
	best, bestV := 0, data[row*cols]
	for c := 1; c < cols; c++ {
		if data[row*cols+c] > bestV {
			best, bestV = c, data[row*cols+c]
		}
	}
	return best
}
