package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/benchmark"
	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/export"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/inference"
	"github.com/docsight-ai/go-idclass/models"
	"github.com/docsight-ai/go-idclass/preprocess"
	"github.com/docsight-ai/go-idclass/report"
	"github.com/docsight-ai/go-idclass/trainer"
)

const (
	// DefaultArtifactPath is where the quantized model lands.
	DefaultArtifactPath = "model.qidc"
	// DefaultCheckpointPath receives the best-epoch snapshot.
	DefaultCheckpointPath = "best.snapshot"
	// DefaultReportPath receives the quick-test JSON report.
	DefaultReportPath = "test_report.json"
	// DefaultCurvesPath receives the training curves PNG.
	DefaultCurvesPath = "training_curves.png"
)

type options struct {
	datasetRoot string
	variant     string
	width       int
	height      int
	epochs      int
	batchSize   int
	balance     string
	maxPerClass int
	fineTune    bool
	calibrate   bool

	artifactPath   string
	checkpointPath string
	reportPath     string
	curvesPath     string
	backbonePath   string

	quickTest  bool
	bench      bool
	analyze    bool
	engine     string
	onnxModel  string
	onnxLib    string
	iterations int
	warmup     int
	seed       int64
}

func main() {
	var opts options
	flag.StringVar(&opts.datasetRoot, "dataset", "dataset", "dataset root holding images/, labels/ and classes.txt")
	flag.StringVar(&opts.variant, "model", "transfer", "model variant: transfer, custom_cnn or lightweight")
	flag.IntVar(&opts.width, "width", 224, "input width")
	flag.IntVar(&opts.height, "height", 224, "input height")
	flag.IntVar(&opts.epochs, "epochs", 50, "base training epochs")
	flag.IntVar(&opts.batchSize, "batch-size", 32, "training batch size")
	flag.StringVar(&opts.balance, "balance", "none", "class balance strategy: none, undersample or oversample")
	flag.IntVar(&opts.maxPerClass, "max-per-class", 0, "cap samples per class, 0 for no cap")
	flag.BoolVar(&opts.fineTune, "fine-tune", false, "run the fine-tuning stage after base training")
	flag.BoolVar(&opts.calibrate, "calibrate", false, "calibrate input quantization with a representative dataset")
	flag.StringVar(&opts.artifactPath, "artifact", DefaultArtifactPath, "quantized artifact output path")
	flag.StringVar(&opts.checkpointPath, "checkpoint", DefaultCheckpointPath, "best-epoch snapshot path")
	flag.StringVar(&opts.reportPath, "report", DefaultReportPath, "quick-test report output path")
	flag.StringVar(&opts.curvesPath, "curves", DefaultCurvesPath, "training curves PNG path")
	flag.StringVar(&opts.backbonePath, "backbone", "", "pretrained backbone snapshot for the transfer variant")
	flag.BoolVar(&opts.quickTest, "quick-test", false, "skip training, classify the dataset images with an existing artifact")
	flag.BoolVar(&opts.bench, "benchmark", false, "skip training, measure inference latency of an existing artifact")
	flag.BoolVar(&opts.analyze, "analyze", false, "skip training, print dataset statistics and exit")
	flag.StringVar(&opts.engine, "engine", "quantized", "inference engine for quick-test/benchmark: quantized or onnx")
	flag.StringVar(&opts.onnxModel, "onnx-model", "", "onnx model path for -engine onnx")
	flag.StringVar(&opts.onnxLib, "onnx-lib", "", "onnxruntime shared library path override")
	flag.IntVar(&opts.iterations, "iterations", 50, "benchmark timed iterations")
	flag.IntVar(&opts.warmup, "warmup", 10, "benchmark warm-up runs")
	flag.Int64Var(&opts.seed, "seed", 42, "run seed")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		if faults.IsFatal(err) {
			logrus.Errorf("fatal: %v", err)
		} else {
			logrus.Errorf("%v", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	registry, err := classes.Load(opts.datasetRoot)
	if err != nil {
		return err
	}
	logrus.Infof("%d classes: %v", registry.Len(), registry.Names())

	switch {
	case opts.analyze:
		return analyzeDataset(opts, registry)
	case opts.quickTest:
		return quickTest(ctx, opts, registry)
	case opts.bench:
		return runBenchmark(ctx, opts, registry)
	default:
		return trainPipeline(ctx, opts, registry)
	}
}

// openEngine builds the engine selected by --engine.
func openEngine(opts options, registry *classes.Registry) (inference.Engine, error) {
	switch opts.engine {
	case "quantized":
		return inference.NewQuantizedEngine(opts.artifactPath, registry)
	case "onnx":
		return inference.NewONNXEngine(inference.ONNXConfig{
			ModelPath:   opts.onnxModel,
			LibraryPath: opts.onnxLib,
			Width:       opts.width,
			Height:      opts.height,
		}, registry)
	default:
		return nil, faults.Configf("unknown engine %q", opts.engine)
	}
}

// analyzeDataset prints per-class and per-image annotation statistics.
func analyzeDataset(opts options, registry *classes.Registry) error {
	analysis, err := dataset.Analyze(opts.datasetRoot, registry)
	if err != nil {
		return err
	}
	fmt.Printf("images: %d (%d without labels)\n", analysis.TotalImages, analysis.ImagesWithoutLabel)
	fmt.Printf("boxes: %d (%d malformed lines, max %d boxes per image)\n",
		analysis.TotalBoxes, analysis.MalformedLines, analysis.MaxBoxesPerImage)
	for id, count := range analysis.ImagesPerClass {
		fmt.Printf("  %-20s %d images, %d boxes\n", registry.Name(id), count, analysis.BoxesPerClass[id])
	}
	return nil
}

// trainPipeline runs the full flow: prepare, train, optionally
// fine-tune, evaluate, export, verify.
func trainPipeline(ctx context.Context, opts options, registry *classes.Registry) error {
	tr := trainer.NewTrainer(registry)
	tr.SetChartSink(&report.PlotSink{Path: opts.curvesPath})

	dcfg := dataset.DefaultConfig(opts.datasetRoot)
	dcfg.Width = opts.width
	dcfg.Height = opts.height
	dcfg.MaxPerClass = opts.maxPerClass

	split := preprocess.DefaultSplitConfig()
	split.Seed = opts.seed

	if err := tr.PrepareData(dcfg, preprocess.Strategy(opts.balance), split); err != nil {
		return err
	}
	if err := tr.BuildModel(models.Config{
		Variant:          models.Variant(opts.variant),
		BackboneSnapshot: opts.backbonePath,
		Seed:             opts.seed,
	}); err != nil {
		return err
	}

	if err := tr.TrainBase(trainer.TrainingConfig{
		Epochs:         opts.epochs,
		BatchSize:      opts.batchSize,
		Augment:        preprocess.DefaultAugmentConfig(),
		CheckpointPath: opts.checkpointPath,
		UseSchedule:    true,
		Seed:           opts.seed,
	}); err != nil {
		return err
	}
	if opts.fineTune {
		if err := tr.FineTune(trainer.FineTuneConfig{
			CheckpointPath: opts.checkpointPath,
			Seed:           opts.seed,
		}); err != nil {
			return err
		}
	}

	ev, err := tr.Evaluate()
	if err != nil {
		return err
	}
	printEvaluation(ev, registry)

	exporter := export.NewExporter(tr.Model())
	var container *export.Container
	if opts.calibrate {
		rep := export.NewRepresentativeGenerator(tr.Splits().Train, 0, opts.seed)
		container, err = exporter.ExportCalibrated(rep)
	} else {
		container, err = exporter.Export()
	}
	if err != nil {
		return err
	}
	if err := container.Save(opts.artifactPath); err != nil {
		return err
	}
	if err := tr.MarkExported(); err != nil {
		return err
	}

	if err := verifyParity(ctx, opts, registry, tr); err != nil {
		return err
	}

	info, err := export.Info(opts.artifactPath)
	if err != nil {
		return err
	}
	logrus.Infof("artifact: %s, %d bytes, input %v %s",
		info.Path, info.SizeBytes, info.InputShape, info.InputDType)
	return nil
}

// verifyParity compares the in-memory model against the saved artifact
// over a handful of test samples. Disagreement is logged, not fatal.
func verifyParity(ctx context.Context, opts options, registry *classes.Registry, tr *trainer.Trainer) error {
	engine, err := inference.NewQuantizedEngine(opts.artifactPath, registry)
	if err != nil {
		return err
	}
	defer engine.Close()

	predictor, err := tr.Model().NewPredictor()
	if err != nil {
		return err
	}
	defer predictor.Close()

	full := func(sample []float32) (int, error) {
		id, _, err := predictor.Predict(sample)
		return id, err
	}
	quantized := func(sample []float32) (int, error) {
		pred, err := engine.Predict(ctx, sample)
		if err != nil {
			return 0, err
		}
		return pred.ClassID, nil
	}
	export.Parity(full, quantized, tr.Splits().Test.Pixels)
	return nil
}

func printEvaluation(ev *trainer.Evaluation, registry *classes.Registry) {
	fmt.Printf("\ntest accuracy: %.4f  loss: %.4f\n", ev.Accuracy, ev.Loss)
	fmt.Println("per-class metrics:")
	for _, m := range ev.PerClass {
		fmt.Printf("  %-20s precision=%.3f recall=%.3f f1=%.3f support=%d\n",
			m.Class, m.Precision, m.Recall, m.F1, m.Support)
	}
	fmt.Printf("confidence: mean=%.3f min=%.3f max=%.3f\n\n",
		ev.Confidence.Mean, ev.Confidence.Min, ev.Confidence.Max)
}

// quickTest classifies every dataset image with an existing artifact
// and writes the JSON report.
func quickTest(ctx context.Context, opts options, registry *classes.Registry) error {
	engine, err := openEngine(opts, registry)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := inference.EvaluateDirectory(ctx, engine, registry, opts.datasetRoot)
	if err != nil {
		return err
	}
	r := report.Build(results)
	if err := r.Save(opts.reportPath); err != nil {
		return err
	}
	fmt.Printf("quick test: %d images, accuracy %.4f, %.1f fps\n",
		r.TotalImages, r.Accuracy, r.ThroughputFPS)
	return nil
}

// runBenchmark measures latency of an existing artifact.
func runBenchmark(ctx context.Context, opts options, registry *classes.Registry) error {
	engine, err := openEngine(opts, registry)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := benchmark.Run(ctx, engine, benchmark.Scenario{
		Name:       opts.engine,
		Iterations: opts.iterations,
		WarmupRuns: opts.warmup,
	})
	if err != nil {
		return err
	}
	if err := result.SaveJSON("benchmark.json"); err != nil {
		return err
	}
	if err := result.SaveCSV("benchmark.csv"); err != nil {
		return err
	}
	fmt.Printf("benchmark: mean %.2f ms, p95 %.2f ms, %.1f fps\n",
		result.Stats.MeanMS, result.Stats.P95MS, result.ThroughputFPS)
	return nil
}
