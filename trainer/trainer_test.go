package trainer

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/models"
	"github.com/docsight-ai/go-idclass/preprocess"
	"github.com/docsight-ai/go-idclass/report"
)

// synthSplit fabricates a split with n samples per class at 32x32 so fit
// loops run without touching disk. Pixels carry a weak class signal.
func synthSplit(perClass ...int) *dataset.Dataset {
	rng := rand.New(rand.NewSource(5))
	d := &dataset.Dataset{
		Width:       32,
		Height:      32,
		NumClasses:  len(perClass),
		ClassCounts: append([]int(nil), perClass...),
	}
	for class, n := range perClass {
		for i := 0; i < n; i++ {
			sample := make([]float32, 32*32*3)
			base := float32(class) / float32(len(perClass))
			for j := range sample {
				sample[j] = base + rng.Float32()*0.3
				if sample[j] > 1 {
					sample[j] = 1
				}
			}
			d.Pixels = append(d.Pixels, sample)
			d.Labels = append(d.Labels, class)
		}
	}
	return d
}

func preparedTrainer() *Trainer {
	return &Trainer{
		state:    StateDataPrepared,
		registry: classes.NewRegistry([]string{"national_id", "driver_license"}),
		splits: &preprocess.Splits{
			Train: synthSplit(8, 8),
			Val:   synthSplit(3, 3),
			Test:  synthSplit(3, 3),
		},
	}
}

func TestStateMachineRejectsSkippedStages(t *testing.T) {
	reg := classes.NewRegistry([]string{"a", "b"})

	cases := map[string]func(*Trainer) error{
		"BuildModel": func(tr *Trainer) error { return tr.BuildModel(models.Config{}) },
		"TrainBase":  func(tr *Trainer) error { return tr.TrainBase(TrainingConfig{}) },
		"FineTune":   func(tr *Trainer) error { return tr.FineTune(FineTuneConfig{}) },
		"Evaluate": func(tr *Trainer) error {
			_, err := tr.Evaluate()
			return err
		},
		"MarkExported": func(tr *Trainer) error { return tr.MarkExported() },
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			err := call(NewTrainer(reg))
			require.Error(t, err)
			assert.Equal(t, faults.KindConfig, faults.KindOf(err))
		})
	}
}

func TestStateMachineRejectsRepeatedPrepare(t *testing.T) {
	tr := preparedTrainer()
	err := tr.PrepareData(dataset.DefaultConfig("x"), preprocess.BalanceNone, preprocess.DefaultSplitConfig())
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestTrainEvaluatePipeline(t *testing.T) {
	tr := preparedTrainer()

	require.NoError(t, tr.BuildModel(models.Config{Variant: models.VariantLightweight, Seed: 3}))
	assert.Equal(t, StateModelBuilt, tr.State())

	ckpt := filepath.Join(t.TempDir(), "best.snapshot")
	err := tr.TrainBase(TrainingConfig{
		Epochs:         2,
		BatchSize:      4,
		CheckpointPath: ckpt,
		Seed:           3,
	})
	require.NoError(t, err)
	assert.Equal(t, StateBaseTrained, tr.State())
	require.Len(t, tr.History(), 2)
	assert.Positive(t, tr.History()[0].Loss)
	assert.Positive(t, tr.History()[0].ValLoss)
	assert.FileExists(t, ckpt, "first epoch always improves and checkpoints")

	ev, err := tr.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, StateEvaluated, tr.State())
	assert.Len(t, ev.PerClass, 2)
	assert.Len(t, ev.Confusion, 2)
	assert.GreaterOrEqual(t, ev.Accuracy, 0.0)
	assert.LessOrEqual(t, ev.Accuracy, 1.0)
	assert.Equal(t, 6, ev.PerClass[0].Support+ev.PerClass[1].Support)

	require.NoError(t, tr.MarkExported())
	assert.Equal(t, StateExported, tr.State())
}

func TestFineTuneRejectsBackbonelessVariant(t *testing.T) {
	tr := preparedTrainer()
	require.NoError(t, tr.BuildModel(models.Config{Variant: models.VariantLightweight, Seed: 3}))
	require.NoError(t, tr.TrainBase(TrainingConfig{Epochs: 1, BatchSize: 4, Seed: 3}))

	err := tr.FineTune(FineTuneConfig{Epochs: 1, BatchSize: 4, UnfreezeLayers: 2})
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

type recordingSink struct {
	points []report.CurvePoint
}

func (r *recordingSink) WriteCurves(points []report.CurvePoint) error {
	r.points = append([]report.CurvePoint(nil), points...)
	return nil
}

func TestChartSinkReceivesHistory(t *testing.T) {
	tr := preparedTrainer()
	sink := &recordingSink{}
	tr.SetChartSink(sink)

	require.NoError(t, tr.BuildModel(models.Config{Variant: models.VariantLightweight, Seed: 3}))
	require.NoError(t, tr.TrainBase(TrainingConfig{Epochs: 2, BatchSize: 4, Seed: 3}))

	require.Len(t, sink.points, 2)
	assert.Equal(t, 1, sink.points[0].Epoch)
}

func TestEarlyStopperStopsAfterPatience(t *testing.T) {
	snap := func() map[string][]float32 { return map[string][]float32{"w": {1}} }
	e := newEarlyStopper(2, 0.01)

	assert.False(t, e.observe(1.0, snap))
	assert.False(t, e.observe(0.5, snap))
	assert.False(t, e.observe(0.499, snap), "improvement below min delta does not reset")
	assert.True(t, e.observe(0.498, snap))
	assert.Equal(t, 0.5, e.best)
	assert.NotNil(t, e.bestWeights)
}

func TestPlateauSchedulerHalvesWithCooldown(t *testing.T) {
	p := newPlateauScheduler(0.5, 2, 1e-6, 2)

	lr := 0.001
	_, changed := p.observe(1.0, lr)
	assert.False(t, changed)
	_, changed = p.observe(1.0, lr)
	assert.False(t, changed)
	next, changed := p.observe(1.0, lr)
	assert.True(t, changed)
	assert.InDelta(t, 0.0005, next, 1e-12)

	// Two cooldown epochs pass before the window restarts.
	lr = next
	_, changed = p.observe(1.0, lr)
	assert.False(t, changed)
	_, changed = p.observe(1.0, lr)
	assert.False(t, changed)
}

func TestPlateauSchedulerRespectsFloor(t *testing.T) {
	p := newPlateauScheduler(0.5, 1, 0.0004, 0)

	lr := 0.001
	p.observe(1.0, lr)
	next, changed := p.observe(1.0, lr)
	require.True(t, changed)
	assert.InDelta(t, 0.0005, next, 1e-12)

	next2, changed := p.observe(1.0, next)
	require.True(t, changed)
	assert.InDelta(t, 0.0004, next2, 1e-12)

	_, changed = p.observe(1.0, next2)
	assert.False(t, changed, "rate pinned at the floor")
}

func TestCheckpointerSavesOnImprovement(t *testing.T) {
	saves := 0
	save := func(string) error { saves++; return nil }

	c := newCheckpointer("best.snapshot")
	assert.True(t, c.observe(0.5, save))
	assert.False(t, c.observe(0.4, save))
	assert.True(t, c.observe(0.6, save))
	assert.Equal(t, 2, saves)
}

func TestCheckpointerRetriesFailedSave(t *testing.T) {
	fail := true
	saves := 0
	save := func(string) error {
		saves++
		if fail {
			return assert.AnError
		}
		return nil
	}

	c := newCheckpointer("best.snapshot")
	assert.False(t, c.observe(0.5, save))

	// The failed write must not advance best: the same accuracy is
	// checkpointed once the disk recovers.
	fail = false
	assert.True(t, c.observe(0.5, save))
	assert.Equal(t, 2, saves)
	assert.False(t, c.observe(0.4, save))
}

func TestCheckpointerWithoutPathIsInert(t *testing.T) {
	c := newCheckpointer("")
	assert.False(t, c.observe(0.9, func(string) error {
		t.Fatal("must not save without a path")
		return nil
	}))
}

func TestScheduledRate(t *testing.T) {
	assert.Equal(t, 0.001, scheduledRate(10, 0.001))
	assert.Equal(t, 0.001, scheduledRate(30, 0.001))
	assert.InDelta(t, 0.00098, scheduledRate(31, 0.001), 1e-12)
	assert.InDelta(t, 0.00095, scheduledRate(61, 0.001), 1e-12)
}
