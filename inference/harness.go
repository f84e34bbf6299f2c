package inference

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
	"github.com/docsight-ai/go-idclass/report"
)

// BatchResult is one image's outcome within a batch run.
type BatchResult struct {
	Path       string
	Prediction *Prediction
	Err        error
}

// PredictBatch classifies a list of image files. Failures are isolated:
// an unreadable or undecodable image yields an error record and the
// batch continues.
//
// Arguments:
//   - ctx: Cancellation, checked between images.
//   - e: The engine.
//   - paths: Image files.
//
// Returns:
//   - []BatchResult: One entry per input path, in order.
func PredictBatch(ctx context.Context, e Engine, paths []string) []BatchResult {
	h, w := e.InputSize()
	results := make([]BatchResult, 0, len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			results = append(results, BatchResult{
				Path: path,
				Err:  faults.Wrap(faults.KindInference, err, "batch canceled"),
			})
			continue
		}

		sample, err := images.LoadRGB(path, w, h)
		if err != nil {
			results = append(results, BatchResult{Path: path, Err: err})
			continue
		}
		pred, err := e.Predict(ctx, sample)
		results = append(results, BatchResult{Path: path, Prediction: pred, Err: err})
	}
	return results
}

// EvaluateDirectory runs the engine over every labeled image under a
// dataset root and produces report rows, timing each prediction.
// Images whose annotation yields no label are scored as unlabeled.
//
// Arguments:
//   - ctx: Cancellation.
//   - e: The engine.
//   - registry: Class registry for expected-label names.
//   - root: Dataset root holding images/ and labels/.
//
// Returns:
//   - []report.IndividualResult: One row per image.
//   - error: A config fault when the images directory is missing.
func EvaluateDirectory(ctx context.Context, e Engine, registry *classes.Registry, root string) ([]report.IndividualResult, error) {
	imageDir := filepath.Join(root, "images")
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "reading images directory")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || images.DetectFormat(entry.Name()) == images.FormatUnknown {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	h, w := e.InputSize()
	results := make([]report.IndividualResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, faults.Wrap(faults.KindInference, err, "evaluation canceled")
		}

		row := report.IndividualResult{Image: name}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		boxes, _ := dataset.ParseAnnotationFile(filepath.Join(root, "labels", stem+".txt"))
		expected, labeled := dataset.PluralityLabel(boxes)
		if labeled {
			row.Expected = registry.Name(expected)
		}

		sample, err := images.LoadRGB(filepath.Join(imageDir, name), w, h)
		if err != nil {
			row.Error = err.Error()
			results = append(results, row)
			continue
		}

		start := time.Now()
		pred, err := e.Predict(ctx, sample)
		if err != nil {
			row.Error = err.Error()
			results = append(results, row)
			continue
		}
		row.TimeMS = float64(time.Since(start).Microseconds()) / 1000
		row.Predicted = pred.ClassName
		row.Confidence = pred.Confidence
		row.Correct = labeled && pred.ClassID == expected
		results = append(results, row)
	}

	logrus.Infof("evaluated %d images under %s", len(results), root)
	return results, nil
}
