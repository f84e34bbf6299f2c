package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight-ai/go-idclass/dataset"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/models"
)

func testModel(t *testing.T) *models.Classifier {
	t.Helper()
	c, err := models.NewClassifier(models.Config{
		Variant:    models.VariantLightweight,
		NumClasses: 3,
		Width:      32,
		Height:     32,
		Seed:       9,
	})
	require.NoError(t, err)
	return c
}

func TestQuantizeRoundTripError(t *testing.T) {
	values := []float32{-1.5, -0.3, 0, 0.25, 0.9, 1.5}

	q := Quantize("w", []int{6}, values)
	back := q.Dequantize()

	require.Len(t, back, len(values))
	for i, v := range values {
		assert.InDelta(t, v, back[i], float64(q.Scale)/2, "element %d", i)
	}
}

func TestQuantizeAllZeros(t *testing.T) {
	q := Quantize("w", []int{3}, []float32{0, 0, 0})
	assert.Equal(t, float32(1), q.Scale)
	assert.Equal(t, []int8{0, 0, 0}, q.Data)
}

func TestExportSplitsTensorKinds(t *testing.T) {
	c, err := NewExporter(testModel(t)).Export()
	require.NoError(t, err)

	for _, q := range c.Quantized {
		assert.True(t, strings.HasSuffix(q.Name, "_w"), "only kernels quantize: %s", q.Name)
	}
	names := map[string]bool{}
	for _, f := range c.Floats {
		names[f.Name] = true
	}
	assert.True(t, names["bn1_mean"], "normalization statistics stay full precision")
	assert.True(t, names["predictions_b"], "biases stay full precision")
	assert.False(t, c.Calibrated)
}

func TestContainerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.qidc")

	c, err := NewExporter(testModel(t)).Export()
	require.NoError(t, err)
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Variant, loaded.Variant)
	assert.Equal(t, c.NumClasses, loaded.NumClasses)
	assert.Len(t, loaded.Quantized, len(c.Quantized))
	assert.Len(t, loaded.Floats, len(c.Floats))
	assert.Equal(t, c.Quantized[0].Data, loaded.Quantized[0].Data)
}

func TestLoadRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-model")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.qidc")

	c, err := NewExporter(testModel(t)).Export()
	require.NoError(t, err)
	require.NoError(t, c.Save(path))

	info, err := Info(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 32, 32}, info.InputShape)
	assert.Equal(t, "float32", info.InputDType)
	assert.Equal(t, 3, info.NumClasses)
	assert.Positive(t, info.SizeBytes)
}

func TestInfoMissingFile(t *testing.T) {
	_, err := Info(filepath.Join(t.TempDir(), "absent.qidc"))
	require.Error(t, err)
}

func repDataset(n int, value float32) *dataset.Dataset {
	d := &dataset.Dataset{Width: 2, Height: 2, NumClasses: 2}
	for i := 0; i < n; i++ {
		sample := make([]float32, 2*2*3)
		for j := range sample {
			sample[j] = value
		}
		d.Pixels = append(d.Pixels, sample)
		d.Labels = append(d.Labels, i%2)
	}
	return d
}

func TestRepresentativeGeneratorCapsAtHundred(t *testing.T) {
	g := NewRepresentativeGenerator(repDataset(250, 0.5), 0, 1)
	assert.Equal(t, 100, g.Count())

	yielded := 0
	for {
		_, ok := g.Next()
		if !ok {
			break
		}
		yielded++
	}
	assert.Equal(t, 100, yielded)
}

func TestRepresentativeGeneratorRenormalizesRawPixels(t *testing.T) {
	g := NewRepresentativeGenerator(repDataset(3, 255), 10, 1)

	sample, ok := g.Next()
	require.True(t, ok)
	for _, v := range sample {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestCalibratedExportRecordsInputQuantization(t *testing.T) {
	rep := NewRepresentativeGenerator(repDataset(20, 0.5), 10, 1)

	c, err := NewExporter(testModel(t)).ExportCalibrated(rep)
	require.NoError(t, err)
	assert.True(t, c.Calibrated)
	assert.Positive(t, c.InputScale)
}

func TestCalibratedExportRequiresSamples(t *testing.T) {
	_, err := NewExporter(testModel(t)).ExportCalibrated(nil)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestParityCountsAgreement(t *testing.T) {
	samples := make([][]float32, 8)
	for i := range samples {
		samples[i] = []float32{float32(i)}
	}

	calls := 0
	full := func(s []float32) (int, error) { calls++; return int(s[0]), nil }
	quantized := func(s []float32) (int, error) {
		if s[0] == 2 {
			return 99, nil
		}
		return int(s[0]), nil
	}

	agree := Parity(full, quantized, samples)
	assert.Equal(t, 4, agree, "5 probes, one disagreement")
	assert.Equal(t, 5, calls, "only the first 5 samples are probed")
}
