package dataset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/classes"
	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/images"
)

// Analysis summarizes a dataset without loading pixel data. Used to sanity
// check annotation coverage before committing to a training run.
type Analysis struct {
	TotalImages        int   `json:"total_images"`
	ImagesWithoutLabel int   `json:"images_without_label"`
	TotalBoxes         int   `json:"total_boxes"`
	MalformedLines     int   `json:"malformed_lines"`
	BoxesPerClass      []int `json:"boxes_per_class"`
	ImagesPerClass     []int `json:"images_per_class"`
	MaxBoxesPerImage   int   `json:"max_boxes_per_image"`
}

// Analyze walks the dataset and tallies annotation coverage per class.
//
// Arguments:
//   - root: Dataset root directory.
//   - registry: The class registry.
//
// Returns:
//   - *Analysis: The tallies.
//   - error: A config fault if the images directory is missing.
func Analyze(root string, registry *classes.Registry) (*Analysis, error) {
	imagesDir := filepath.Join(root, "images")
	labelsDir := filepath.Join(root, "labels")

	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, faults.Configf("images directory not found: %s", imagesDir)
	}

	a := &Analysis{
		BoxesPerClass:  make([]int, registry.Len()),
		ImagesPerClass: make([]int, registry.Len()),
	}

	for _, e := range entries {
		if e.IsDir() || images.DetectFormat(e.Name()) == images.FormatUnknown {
			continue
		}
		a.TotalImages++

		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		boxes, malformed := ParseAnnotationFile(filepath.Join(labelsDir, stem+".txt"))
		a.MalformedLines += malformed

		if len(boxes) == 0 {
			a.ImagesWithoutLabel++
			continue
		}
		if len(boxes) > a.MaxBoxesPerImage {
			a.MaxBoxesPerImage = len(boxes)
		}
		a.TotalBoxes += len(boxes)
		for _, b := range boxes {
			if b.ClassID >= 0 && b.ClassID < registry.Len() {
				a.BoxesPerClass[b.ClassID]++
			}
		}
		if label, ok := PluralityLabel(boxes); ok && label >= 0 && label < registry.Len() {
			a.ImagesPerClass[label]++
		}
	}

	logrus.Infof("analyzed %d images: %d unlabeled, %d boxes, %d malformed lines",
		a.TotalImages, a.ImagesWithoutLabel, a.TotalBoxes, a.MalformedLines)

	return a, nil
}
