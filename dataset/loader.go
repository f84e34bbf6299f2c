package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
)

// Config selects what and how to load.
type Config struct {
	// Root is the dataset root holding images/, labels/ and classes.txt.
	Root string
	// Width and Height are the spatial resolution samples are resized to.
	Width  int
	Height int
	// MaxPerClass caps samples per class; 0 means unlimited.
	MaxPerClass int
}

// DefaultConfig returns the loader defaults used by the pipeline.
func DefaultConfig(root string) Config {
	return Config{Root: root, Width: 224, Height: 224}
}

// Dataset is the in-memory classification dataset: one HWC float32 pixel
// buffer and one integer label per sample. Samples are immutable after
// load except for balancing-induced duplication or removal.
type Dataset struct {
	Pixels [][]float32
	Labels []int

	Width      int
	Height     int
	NumClasses int

	// ClassCounts is the per-class sample tally emitted at load time.
	ClassCounts []int
	// SkippedImages counts unreadable or unannotated images.
	SkippedImages int
	// MalformedLines counts annotation lines that could not be parsed.
	MalformedLines int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Load reads every image under <root>/images, pairs it with the
// same-stem label file under <root>/labels, and assigns the plurality
// class label. Unreadable images and images with zero boxes are skipped;
// a missing images directory is a config fault.
//
// Arguments:
//   - cfg: Loader configuration.
//   - registry: The class registry; labels outside its range are skipped.
//
// Returns:
//   - *Dataset: The loaded dataset.
//   - error: A config fault for a missing images directory or invalid
//     resolution.
func Load(cfg Config, registry *classes.Registry) (*Dataset, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, faults.Configf("invalid sample resolution %dx%d", cfg.Width, cfg.Height)
	}

	imagesDir := filepath.Join(cfg.Root, "images")
	labelsDir := filepath.Join(cfg.Root, "labels")

	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, faults.Configf("images directory not found: %s", imagesDir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if images.DetectFormat(e.Name()) == images.FormatUnknown {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	logrus.WithField("count", len(names)).Infof("processing images from %s", imagesDir)

	ds := &Dataset{
		Width:       cfg.Width,
		Height:      cfg.Height,
		NumClasses:  registry.Len(),
		ClassCounts: make([]int, registry.Len()),
	}

	for _, name := range names {
		pixels, err := images.LoadRGB(filepath.Join(imagesDir, name), cfg.Width, cfg.Height)
		if err != nil {
			ds.SkippedImages++
			logrus.WithError(err).Warnf("skipping unreadable image %s", name)
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		boxes, malformed := ParseAnnotationFile(filepath.Join(labelsDir, stem+".txt"))
		ds.MalformedLines += malformed

		label, ok := PluralityLabel(boxes)
		if !ok {
			// No boxes: the image carries no classification signal.
			ds.SkippedImages++
			continue
		}
		if label < 0 || label >= registry.Len() {
			ds.SkippedImages++
			logrus.Warnf("skipping %s: class id %d outside registry", name, label)
			continue
		}
		if cfg.MaxPerClass > 0 && ds.ClassCounts[label] >= cfg.MaxPerClass {
			continue
		}

		ds.Pixels = append(ds.Pixels, pixels)
		ds.Labels = append(ds.Labels, label)
		ds.ClassCounts[label]++
	}

	logrus.Infof("loaded %d samples (%d skipped, %d malformed lines)",
		ds.Len(), ds.SkippedImages, ds.MalformedLines)
	for id, count := range ds.ClassCounts {
		logrus.Infof("  %s: %d samples", registry.Name(id), count)
	}

	return ds, nil
}
