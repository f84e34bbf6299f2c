// Package benchmark - Inference latency measurement for classification
// engines: warm-up, timed iterations, latency statistics and
// persistence.
package benchmark

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/inference"
)

// Scenario defines one benchmark configuration.
type Scenario struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	WarmupRuns int    `json:"warmup_runs"`
}

// Normalize fills defaults in place and returns the scenario.
func (s Scenario) Normalize() Scenario {
	if s.Name == "" {
		s.Name = "default"
	}
	if s.Iterations == 0 {
		s.Iterations = 50
	}
	if s.WarmupRuns == 0 {
		s.WarmupRuns = 10
	}
	return s
}

// MemoryMetrics captures allocator statistics at the end of a run.
type MemoryMetrics struct {
	AllocBytes     uint64 `json:"alloc_bytes"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

// Result captures one completed benchmark run. LatenciesMS always holds
// exactly Iterations entries; warm-up runs are discarded.
type Result struct {
	Scenario      Scenario      `json:"scenario"`
	Timestamp     time.Time     `json:"timestamp"`
	ModelInfo     interface{}   `json:"model_info,omitempty"`
	LatenciesMS   []float64     `json:"latencies_ms"`
	Stats         LatencyStats  `json:"stats"`
	ThroughputFPS float64       `json:"throughput_fps"`
	MemoryStats   MemoryMetrics `json:"memory_stats"`
}

// Run benchmarks an engine with a synthetic mid-gray input at its
// native resolution.
//
// Arguments:
//   - ctx: Cancellation, checked each iteration.
//   - e: The engine under test.
//   - s: Iteration counts; zero fields take defaults.
//
// Returns:
//   - *Result: Latencies and derived statistics.
//   - error: An inference fault when a prediction or the context fails.
func Run(ctx context.Context, e inference.Engine, s Scenario) (*Result, error) {
	s = s.Normalize()

	h, w := e.InputSize()
	sample := make([]float32, h*w*3)
	for i := range sample {
		sample[i] = 0.5
	}

	logrus.Infof("benchmark %s: %d warm-up, %d timed iterations", s.Name, s.WarmupRuns, s.Iterations)
	for i := 0; i < s.WarmupRuns; i++ {
		if _, err := e.Predict(ctx, sample); err != nil {
			return nil, faults.Wrap(faults.KindInference, err, "warm-up run")
		}
	}

	latencies := make([]float64, 0, s.Iterations)
	for i := 0; i < s.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, faults.Wrap(faults.KindInference, err, "benchmark canceled")
		}
		start := time.Now()
		if _, err := e.Predict(ctx, sample); err != nil {
			return nil, faults.Wrap(faults.KindInference, err, "timed run")
		}
		latencies = append(latencies, float64(time.Since(start).Nanoseconds())/1e6)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := computeStats(latencies)
	r := &Result{
		Scenario:    s,
		Timestamp:   time.Now(),
		ModelInfo:   e.Info(),
		LatenciesMS: latencies,
		Stats:       stats,
		MemoryStats: MemoryMetrics{
			AllocBytes:     mem.Alloc,
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
		},
	}
	if stats.MeanMS > 0 {
		r.ThroughputFPS = 1000 / stats.MeanMS
	}

	logrus.Infof("benchmark %s: mean %.2f ms, p95 %.2f ms, %.1f fps",
		s.Name, stats.MeanMS, stats.P95MS, r.ThroughputFPS)
	return r, nil
}
