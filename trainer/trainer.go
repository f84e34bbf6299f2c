// Package trainer - Staged training pipeline over the gorgonia
// classifier: data preparation, base training, optional fine-tuning and
// evaluation, guarded by an explicit state machine.
package trainer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/models"
	"github.com/docsight-ai/go-idclass/preprocess"
	"github.com/docsight-ai/go-idclass/report"
)

// State tracks pipeline progress. Stages must run in order; invoking a
// stage whose predecessor has not completed is a config fault.
type State int

const (
	StateUninitialized State = iota
	StateDataPrepared
	StateModelBuilt
	StateBaseTrained
	StateFineTuned
	StateEvaluated
	StateExported
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDataPrepared:
		return "data-prepared"
	case StateModelBuilt:
		return "model-built"
	case StateBaseTrained:
		return "base-trained"
	case StateFineTuned:
		return "fine-tuned"
	case StateEvaluated:
		return "evaluated"
	case StateExported:
		return "exported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TrainingConfig parameterizes the base training stage.
type TrainingConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Patience is the early-stopping window in epochs.
	Patience int
	// MinDelta is the minimum monitored-loss improvement that resets
	// the early-stopping counter.
	MinDelta float64
	// Augment configures training-time jitter.
	Augment preprocess.AugmentConfig
	// CheckpointPath, when set, receives a snapshot every epoch the
	// validation accuracy improves.
	CheckpointPath string
	// UseSchedule enables the epoch-keyed learning rate decay.
	UseSchedule bool
	Seed        int64
}

// Normalize fills defaults in place and returns the config.
func (c TrainingConfig) Normalize() TrainingConfig {
	if c.Epochs == 0 {
		c.Epochs = 50
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Patience == 0 {
		c.Patience = 10
	}
	if c.MinDelta == 0 {
		c.MinDelta = 0.001
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// FineTuneConfig parameterizes the fine-tuning stage: a shorter run at a
// lower rate with a smaller batch, jitter disabled and part of the
// backbone unfrozen.
type FineTuneConfig struct {
	Epochs         int
	BatchSize      int
	LearningRate   float64
	Patience       int
	UnfreezeLayers int
	CheckpointPath string
	Seed           int64
}

// Normalize fills defaults in place and returns the config.
func (c FineTuneConfig) Normalize() FineTuneConfig {
	if c.Epochs == 0 {
		c.Epochs = 20
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.0001
	}
	if c.Patience == 0 {
		c.Patience = 5
	}
	if c.UnfreezeLayers == 0 {
		c.UnfreezeLayers = 20
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// EpochStats is one row of training history.
type EpochStats struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
}

// Trainer drives the staged pipeline. Construct with NewTrainer, then
// call PrepareData, BuildModel, TrainBase, optionally FineTune, and
// Evaluate, in that order.
type Trainer struct {
	state    State
	registry *classes.Registry
	splits   *preprocess.Splits
	model    *models.Classifier
	history  []EpochStats
	sink     report.ChartSink
}

// NewTrainer creates a trainer bound to a class registry.
func NewTrainer(registry *classes.Registry) *Trainer {
	return &Trainer{registry: registry}
}

// State returns the current pipeline state.
func (t *Trainer) State() State { return t.state }

// Model returns the classifier once BuildModel has run, nil before.
func (t *Trainer) Model() *models.Classifier { return t.model }

// Splits returns the prepared dataset splits, nil before PrepareData.
func (t *Trainer) Splits() *preprocess.Splits { return t.splits }

// History returns per-epoch stats accumulated across training stages.
func (t *Trainer) History() []EpochStats { return t.history }

// SetChartSink attaches an optional sink that receives training curves
// after each stage. A nil sink is skipped.
func (t *Trainer) SetChartSink(sink report.ChartSink) { t.sink = sink }

func (t *Trainer) require(stage string, allowed ...State) error {
	for _, s := range allowed {
		if t.state == s {
			return nil
		}
	}
	return faults.Configf("%s requires state %v, pipeline is %v", stage, allowed, t.state)
}

// PrepareData loads, normalizes, balances and splits the dataset.
//
// Arguments:
//   - dcfg: Dataset location and resolution.
//   - balance: Class-balance strategy applied before splitting.
//   - split: Stratified split fractions and seed.
//
// Returns:
//   - error: Any fault surfaced by the loader or preprocessor.
func (t *Trainer) PrepareData(dcfg dataset.Config, balance preprocess.Strategy, split preprocess.SplitConfig) error {
	if err := t.require("PrepareData", StateUninitialized); err != nil {
		return err
	}

	d, err := dataset.Load(dcfg, t.registry)
	if err != nil {
		return err
	}
	preprocess.Normalize(d.Pixels)

	d, err = preprocess.Balance(d, balance, split.Seed)
	if err != nil {
		return err
	}
	splits, err := preprocess.Split(d, split)
	if err != nil {
		return err
	}

	t.splits = splits
	t.state = StateDataPrepared
	logrus.Infof("data prepared: train=%d val=%d test=%d",
		splits.Train.Len(), lenOrZero(splits.Val), splits.Test.Len())
	return nil
}

// BuildModel constructs the classifier for the prepared data. Class
// count and resolution come from the splits, overriding the config.
//
// Arguments:
//   - mcfg: Model variant and hyperparameters.
//
// Returns:
//   - error: A config fault out of order or from the model factory.
func (t *Trainer) BuildModel(mcfg models.Config) error {
	if err := t.require("BuildModel", StateDataPrepared); err != nil {
		return err
	}

	mcfg.NumClasses = t.splits.Train.NumClasses
	mcfg.Width = t.splits.Train.Width
	mcfg.Height = t.splits.Train.Height

	model, err := models.NewClassifier(mcfg)
	if err != nil {
		return err
	}
	t.model = model
	t.state = StateModelBuilt
	return nil
}

// TrainBase runs the base training stage.
//
// Arguments:
//   - cfg: Stage hyperparameters; zero fields take defaults.
//
// Returns:
//   - error: A config fault out of order, a framework fault from the
//     compute backend.
func (t *Trainer) TrainBase(cfg TrainingConfig) error {
	if err := t.require("TrainBase", StateModelBuilt); err != nil {
		return err
	}
	cfg = cfg.Normalize()
	t.model.SetLearningRate(cfg.LearningRate)

	logrus.Infof("base training: %d epochs, batch %d, lr %g", cfg.Epochs, cfg.BatchSize, cfg.LearningRate)
	err := t.runFit(fitParams{
		stage:          "base",
		epochs:         cfg.Epochs,
		batchSize:      cfg.BatchSize,
		learningRate:   cfg.LearningRate,
		patience:       cfg.Patience,
		minDelta:       cfg.MinDelta,
		augment:        cfg.Augment,
		checkpointPath: cfg.CheckpointPath,
		useSchedule:    cfg.UseSchedule,
		seed:           cfg.Seed,
	})
	if err != nil {
		return err
	}

	t.state = StateBaseTrained
	t.flushCurves()
	return nil
}

// FineTune unfreezes part of the backbone and continues training with
// fresh callbacks, a smaller batch and no augmentation.
//
// Arguments:
//   - cfg: Stage hyperparameters; zero fields take defaults.
//
// Returns:
//   - error: A config fault out of order or for backbone-less variants.
func (t *Trainer) FineTune(cfg FineTuneConfig) error {
	if err := t.require("FineTune", StateBaseTrained); err != nil {
		return err
	}
	cfg = cfg.Normalize()

	if err := t.model.EnableFineTuning(cfg.UnfreezeLayers); err != nil {
		return err
	}
	t.model.SetLearningRate(cfg.LearningRate)

	logrus.Infof("fine-tuning: %d epochs, batch %d, lr %g", cfg.Epochs, cfg.BatchSize, cfg.LearningRate)
	err := t.runFit(fitParams{
		stage:        "fine-tune",
		epochs:       cfg.Epochs,
		batchSize:    cfg.BatchSize,
		learningRate: cfg.LearningRate,
		patience:     cfg.Patience,
		minDelta:     0.001,
		// Jitter stays off while the backbone adapts.
		augment:        preprocess.AugmentConfig{BrightnessLow: 1, BrightnessHigh: 1},
		checkpointPath: cfg.CheckpointPath,
		seed:           cfg.Seed,
	})
	if err != nil {
		return err
	}

	t.state = StateFineTuned
	t.flushCurves()
	return nil
}

// MarkExported records that the evaluated model has been exported.
func (t *Trainer) MarkExported() error {
	if err := t.require("MarkExported", StateEvaluated); err != nil {
		return err
	}
	t.state = StateExported
	return nil
}

func (t *Trainer) flushCurves() {
	if t.sink == nil {
		return
	}
	points := make([]report.CurvePoint, len(t.history))
	for i, e := range t.history {
		points[i] = report.CurvePoint{
			Epoch:       e.Epoch,
			Loss:        e.Loss,
			Accuracy:    e.Accuracy,
			ValLoss:     e.ValLoss,
			ValAccuracy: e.ValAccuracy,
		}
	}
	if err := t.sink.WriteCurves(points); err != nil {
		logrus.Warnf("chart sink failed: %v", err)
	}
}

func lenOrZero(d *dataset.Dataset) int {
	if d == nil {
		return 0
	}
	return d.Len()
}
