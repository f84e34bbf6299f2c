package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/docsight-ai/go-idclass/faults"
)

// LatencyStats summarizes per-iteration latencies in milliseconds.
type LatencyStats struct {
	MeanMS   float64 `json:"mean_ms"`
	MinMS    float64 `json:"min_ms"`
	MaxMS    float64 `json:"max_ms"`
	StddevMS float64 `json:"stddev_ms"`
	P50MS    float64 `json:"p50_ms"`
	P90MS    float64 `json:"p90_ms"`
	P95MS    float64 `json:"p95_ms"`
	P99MS    float64 `json:"p99_ms"`
}

func computeStats(latencies []float64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	s := LatencyStats{
		MeanMS: stat.Mean(sorted, nil),
		MinMS:  sorted[0],
		MaxMS:  sorted[len(sorted)-1],
		P50MS:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90MS:  stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P95MS:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99MS:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StddevMS = stat.StdDev(sorted, nil)
	}
	return s
}

// SaveJSON writes the full result, latencies included, as indented
// JSON.
//
// Arguments:
//   - path: Destination file, created or truncated.
//
// Returns:
//   - error: A config fault on I/O failure.
func (r *Result) SaveJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return faults.Wrap(faults.KindConfig, err, "encoding benchmark result")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return faults.Wrap(faults.KindConfig, err, "writing benchmark result")
	}
	return nil
}

// SaveCSV writes one row per timed iteration.
//
// Arguments:
//   - path: Destination file, created or truncated.
//
// Returns:
//   - error: A config fault on I/O failure.
func (r *Result) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return faults.Wrap(faults.KindConfig, err, "creating benchmark csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"iteration", "latency_ms"}); err != nil {
		return faults.Wrap(faults.KindConfig, err, "writing benchmark csv")
	}
	for i, latency := range r.LatenciesMS {
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(latency, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return faults.Wrap(faults.KindConfig, err, "writing benchmark csv")
		}
	}
	w.Flush()
	return w.Error()
}
