package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight-ai/go-idclass/inference"
)

// stubEngine counts predictions and returns a fixed result.
type stubEngine struct {
	calls int
	fail  bool
}

func (s *stubEngine) Predict(ctx context.Context, sample []float32) (*inference.Prediction, error) {
	s.calls++
	if s.fail {
		return nil, assert.AnError
	}
	return &inference.Prediction{ClassID: 1, ClassName: "driver_license", Confidence: 0.9}, nil
}

func (s *stubEngine) InputSize() (int, int) { return 8, 8 }

func (s *stubEngine) Info() map[string]interface{} {
	return map[string]interface{}{"engine": "stub"}
}

func (s *stubEngine) Close() error { return nil }

func TestRunProducesExactlyNLatencies(t *testing.T) {
	e := &stubEngine{}

	r, err := Run(context.Background(), e, Scenario{Iterations: 50, WarmupRuns: 10})
	require.NoError(t, err)

	assert.Len(t, r.LatenciesMS, 50, "warm-up runs are discarded")
	assert.Equal(t, 60, e.calls)
	for i, l := range r.LatenciesMS {
		assert.GreaterOrEqual(t, l, 0.0, "latency %d", i)
	}
	assert.Positive(t, r.ThroughputFPS)
	assert.False(t, r.Timestamp.IsZero())
}

func TestRunStatsAreOrdered(t *testing.T) {
	r, err := Run(context.Background(), &stubEngine{}, Scenario{Iterations: 30, WarmupRuns: 5})
	require.NoError(t, err)

	s := r.Stats
	assert.LessOrEqual(t, s.MinMS, s.P50MS)
	assert.LessOrEqual(t, s.P50MS, s.P90MS)
	assert.LessOrEqual(t, s.P90MS, s.P95MS)
	assert.LessOrEqual(t, s.P95MS, s.P99MS)
	assert.LessOrEqual(t, s.P99MS, s.MaxMS)
	assert.GreaterOrEqual(t, s.MeanMS, s.MinMS)
	assert.LessOrEqual(t, s.MeanMS, s.MaxMS)
}

func TestRunDefaults(t *testing.T) {
	e := &stubEngine{}
	r, err := Run(context.Background(), e, Scenario{})
	require.NoError(t, err)
	assert.Len(t, r.LatenciesMS, 50)
	assert.Equal(t, "default", r.Scenario.Name)
}

func TestRunPropagatesEngineFailure(t *testing.T) {
	_, err := Run(context.Background(), &stubEngine{fail: true}, Scenario{Iterations: 5, WarmupRuns: 1})
	require.Error(t, err)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, &stubEngine{}, Scenario{Iterations: 5, WarmupRuns: 1})
	require.Error(t, err)
}

func TestSaveJSONRoundTrip(t *testing.T) {
	r, err := Run(context.Background(), &stubEngine{}, Scenario{Iterations: 10, WarmupRuns: 2})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bench.json")
	require.NoError(t, r.SaveJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Result
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Len(t, loaded.LatenciesMS, 10)
	assert.Equal(t, r.Stats.MeanMS, loaded.Stats.MeanMS)
}

func TestSaveCSV(t *testing.T) {
	r, err := Run(context.Background(), &stubEngine{}, Scenario{Iterations: 10, WarmupRuns: 2})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bench.csv")
	require.NoError(t, r.SaveCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 11, "header plus one row per iteration")
	assert.Equal(t, []string{"iteration", "latency_ms"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
}

func TestComputeStatsEmpty(t *testing.T) {
	assert.Zero(t, computeStats(nil))
}
