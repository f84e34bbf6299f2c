package trainer

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/report"
)

// ClassMetrics is the per-class slice of an evaluation.
type ClassMetrics struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation is the test-split report.
type Evaluation struct {
	Loss       float64                `json:"loss"`
	Accuracy   float64                `json:"accuracy"`
	PerClass   []ClassMetrics         `json:"per_class"`
	Confusion  [][]int                `json:"confusion_matrix"`
	Confidence report.ConfidenceStats `json:"confidence_stats"`
}

// Evaluate runs the trained model over the test split and produces the
// detailed report. Fine-tuning is optional; evaluation accepts either a
// base-trained or fine-tuned pipeline.
//
// Returns:
//   - *Evaluation: Accuracy, loss, per-class metrics, confusion matrix
//     and confidence statistics.
//   - error: A config fault out of order, a framework fault from the
//     forward pass.
func (t *Trainer) Evaluate() (*Evaluation, error) {
	if err := t.require("Evaluate", StateBaseTrained, StateFineTuned); err != nil {
		return nil, err
	}
	if t.splits.Test == nil || t.splits.Test.Len() == 0 {
		return nil, faults.Configf("no test split to evaluate")
	}

	probs, oneHot, err := t.forward(t.splits.Test)
	if err != nil {
		return nil, err
	}

	p := probs.Data().([]float32)
	y := oneHot.Data().([]float32)
	rows := probs.Shape()[0]
	cols := probs.Shape()[1]

	confusion := make([][]int, cols)
	for i := range confusion {
		confusion[i] = make([]int, cols)
	}
	confidences := make([]float64, rows)

	correct := 0
	for i := 0; i < rows; i++ {
		pred := argmaxRow(p, i, cols)
		truth := argmaxRow(y, i, cols)
		confusion[truth][pred]++
		confidences[i] = float64(p[i*cols+pred])
		if pred == truth {
			correct++
		}
	}

	ev := &Evaluation{
		Loss:       crossEntropyOf(probs, oneHot),
		Accuracy:   float64(correct) / float64(rows),
		Confusion:  confusion,
		Confidence: confidenceStats(confidences),
	}
	for class := 0; class < cols; class++ {
		ev.PerClass = append(ev.PerClass, classMetrics(confusion, class, t.registry.Name(class)))
	}

	t.state = StateEvaluated
	logrus.Infof("evaluation: accuracy=%.4f loss=%.4f over %d test samples", ev.Accuracy, ev.Loss, rows)
	return ev, nil
}

func classMetrics(confusion [][]int, class int, name string) ClassMetrics {
	tp := confusion[class][class]
	support := sum(confusion[class])
	predicted := 0
	for i := range confusion {
		predicted += confusion[i][class]
	}

	m := ClassMetrics{Class: name, Support: support}
	if predicted > 0 {
		m.Precision = float64(tp) / float64(predicted)
	}
	if support > 0 {
		m.Recall = float64(tp) / float64(support)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func confidenceStats(values []float64) report.ConfidenceStats {
	if len(values) == 0 {
		return report.ConfidenceStats{}
	}
	cs := report.ConfidenceStats{
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

func sum(row []int) int {
	total := 0
	for _, v := range row {
		total += v
	}
	return total
}
