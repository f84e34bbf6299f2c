package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/faults"
)

// buildDataset lays out a dataset root with the given image stems and
// label file contents. A nil label entry means no label file at all.
func buildDataset(t *testing.T, labels map[string]*string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "labels"), 0o755))

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	for stem, label := range labels {
		require.NoError(t, os.WriteFile(filepath.Join(root, "images", stem+".jpg"), buf.Bytes(), 0o644))
		if label != nil {
			require.NoError(t, os.WriteFile(filepath.Join(root, "labels", stem+".txt"), []byte(*label), 0o644))
		}
	}
	return root
}

func str(s string) *string { return &s }

func TestLoadAssignsPluralityLabels(t *testing.T) {
	// img1 has two boxes of class 0 and one of class 2: label 0.
	root := buildDataset(t, map[string]*string{
		"img1": str("0 0.5 0.5 0.1 0.1\n2 0.2 0.2 0.1 0.1\n0 0.8 0.8 0.1 0.1\n"),
		"img2": str("1 0.5 0.5 0.1 0.1\n"),
	})
	registry := classes.NewRegistry([]string{"card", "national_id", "religion"})

	ds, err := Load(Config{Root: root, Width: 16, Height: 16}, registry)
	require.NoError(t, err)

	require.Equal(t, 2, ds.Len())
	assert.ElementsMatch(t, []int{0, 1}, ds.Labels)
	assert.Equal(t, []int{1, 1, 0}, ds.ClassCounts)
	assert.Len(t, ds.Pixels[0], 16*16*3)
}

func TestLoadExcludesEmptyAnnotations(t *testing.T) {
	root := buildDataset(t, map[string]*string{
		"empty":   str(""),
		"missing": nil,
		"good":    str("1 0.5 0.5 0.1 0.1\n"),
	})
	registry := classes.NewRegistry([]string{"card", "national_id"})

	ds, err := Load(Config{Root: root, Width: 16, Height: 16}, registry)
	require.NoError(t, err)

	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 2, ds.SkippedImages)
}

func TestLoadSkipsOutOfRangeClassIDs(t *testing.T) {
	root := buildDataset(t, map[string]*string{
		"bad": str("9 0.5 0.5 0.1 0.1\n"),
	})
	registry := classes.NewRegistry([]string{"card"})

	ds, err := Load(Config{Root: root, Width: 16, Height: 16}, registry)
	require.NoError(t, err)
	assert.Zero(t, ds.Len())
	assert.Equal(t, 1, ds.SkippedImages)
}

func TestLoadSkipsUnreadableImages(t *testing.T) {
	root := buildDataset(t, map[string]*string{
		"good": str("0 0.5 0.5 0.1 0.1\n"),
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "images", "corrupt.jpg"), []byte("junk"), 0o644))
	registry := classes.NewRegistry([]string{"card"})

	ds, err := Load(Config{Root: root, Width: 16, Height: 16}, registry)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, 1, ds.SkippedImages)
}

func TestLoadMaxPerClass(t *testing.T) {
	root := buildDataset(t, map[string]*string{
		"a": str("0 0.5 0.5 0.1 0.1\n"),
		"b": str("0 0.5 0.5 0.1 0.1\n"),
		"c": str("0 0.5 0.5 0.1 0.1\n"),
	})
	registry := classes.NewRegistry([]string{"card"})

	ds, err := Load(Config{Root: root, Width: 16, Height: 16, MaxPerClass: 2}, registry)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestLoadMissingImagesDirIsConfigFault(t *testing.T) {
	registry := classes.NewRegistry([]string{"card"})
	_, err := Load(Config{Root: t.TempDir(), Width: 16, Height: 16}, registry)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestLoadInvalidResolutionIsConfigFault(t *testing.T) {
	registry := classes.NewRegistry([]string{"card"})
	_, err := Load(Config{Root: t.TempDir()}, registry)
	require.Error(t, err)
	assert.Equal(t, faults.KindConfig, faults.KindOf(err))
}

func TestAnalyze(t *testing.T) {
	root := buildDataset(t, map[string]*string{
		"a": str("0 0.5 0.5 0.1 0.1\n0 0.2 0.2 0.1 0.1\n1 0.3 0.3 0.1 0.1\n"),
		"b": str(""),
		"c": str("garbage\n1 0.5 0.5 0.1 0.1\n"),
	})
	registry := classes.NewRegistry([]string{"card", "national_id"})

	a, err := Analyze(root, registry)
	require.NoError(t, err)

	assert.Equal(t, 3, a.TotalImages)
	assert.Equal(t, 1, a.ImagesWithoutLabel)
	assert.Equal(t, 4, a.TotalBoxes)
	assert.Equal(t, 1, a.MalformedLines)
	assert.Equal(t, []int{2, 2}, a.BoxesPerClass)
	assert.Equal(t, []int{1, 1}, a.ImagesPerClass)
	assert.Equal(t, 3, a.MaxBoxesPerImage)
}
