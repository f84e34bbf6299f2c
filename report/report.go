// Package report - Persisted run artifacts: the JSON accuracy report
// produced by dataset-wide inference passes and the training curve PNG.
package report

import (
	"encoding/json"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/docsight-ai/go-idclass/faults"
)

// ConfidenceStats summarizes winning-class probabilities.
type ConfidenceStats struct {
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Stddev float64 `json:"stddev"`
}

// IndividualResult is one image's outcome within a report.
type IndividualResult struct {
	Image      string  `json:"image"`
	Expected   string  `json:"expected,omitempty"`
	Predicted  string  `json:"predicted"`
	Confidence float64 `json:"confidence"`
	Correct    bool    `json:"correct"`
	TimeMS     float64 `json:"time_ms"`
	Error      string  `json:"error,omitempty"`
}

// TestReport aggregates a full inference pass over a labeled image set.
type TestReport struct {
	TotalImages        int                `json:"total_images"`
	CorrectPredictions int                `json:"correct_predictions"`
	Accuracy           float64            `json:"accuracy"`
	AvgTimeMS          float64            `json:"avg_time_ms"`
	ThroughputFPS      float64            `json:"throughput_fps"`
	ClassDistribution  map[string]int     `json:"class_distribution"`
	Confidence         ConfidenceStats    `json:"confidence_stats"`
	IndividualResults  []IndividualResult `json:"individual_results"`
}

// Build aggregates individual results into a report. Failed images count
// toward the total but contribute neither accuracy nor timing.
//
// Arguments:
//   - results: Per-image outcomes, errors included.
//
// Returns:
//   - *TestReport: The aggregated report.
func Build(results []IndividualResult) *TestReport {
	r := &TestReport{
		TotalImages:       len(results),
		ClassDistribution: map[string]int{},
		IndividualResults: results,
	}

	var times, confidences []float64
	for _, res := range results {
		if res.Error != "" {
			continue
		}
		r.ClassDistribution[res.Predicted]++
		times = append(times, res.TimeMS)
		confidences = append(confidences, res.Confidence)
		if res.Correct {
			r.CorrectPredictions++
		}
	}

	if scored := len(times); scored > 0 {
		r.Accuracy = float64(r.CorrectPredictions) / float64(scored)
		r.AvgTimeMS = stat.Mean(times, nil)
		if r.AvgTimeMS > 0 {
			r.ThroughputFPS = 1000 / r.AvgTimeMS
		}
		r.Confidence = summarize(confidences)
	}
	return r
}

func summarize(values []float64) ConfidenceStats {
	cs := ConfidenceStats{
		Mean: stat.Mean(values, nil),
		Min:  math.Inf(1),
		Max:  math.Inf(-1),
	}
	if len(values) > 1 {
		cs.Stddev = stat.StdDev(values, nil)
	}
	for _, v := range values {
		cs.Min = math.Min(cs.Min, v)
		cs.Max = math.Max(cs.Max, v)
	}
	return cs
}

// Save writes the report as indented JSON.
//
// Arguments:
//   - path: Destination file, created or truncated.
//
// Returns:
//   - error: A config fault on I/O failure.
func (r *TestReport) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return faults.Wrap(faults.KindConfig, err, "encoding report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return faults.Wrap(faults.KindConfig, err, "writing report")
	}
	logrus.Infof("report saved to %s (%d images, accuracy %.4f)", path, r.TotalImages, r.Accuracy)
	return nil
}
