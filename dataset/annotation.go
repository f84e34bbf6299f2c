// Package dataset - YOLO-format dataset loading reduced to single-label
// classification.
package dataset

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Box is one normalized bounding-box annotation line.
type Box struct {
	ClassID int
	XCenter float32
	YCenter float32
	Width   float32
	Height  float32
}

// ParseAnnotationFile reads a YOLO label file: one box per line as
// `class_id x_center y_center width height`, coordinates normalized to
// [0, 1]. Lines with fewer than five fields or non-numeric fields are
// skipped and counted as malformed; a missing file yields zero boxes,
// which downstream treats the same as an empty annotation.
//
// Arguments:
//   - path: Label file path.
//
// Returns:
//   - []Box: The parsed boxes.
//   - int: Count of malformed lines skipped.
func ParseAnnotationFile(path string) ([]Box, int) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	var (
		boxes     []Box
		malformed int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			malformed++
			continue
		}

		classID, err := strconv.Atoi(parts[0])
		if err != nil {
			malformed++
			continue
		}
		vals := make([]float32, 4)
		ok := true
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(parts[i+1], 32)
			if err != nil {
				ok = false
				break
			}
			vals[i] = float32(v)
		}
		if !ok {
			malformed++
			continue
		}

		boxes = append(boxes, Box{
			ClassID: classID,
			XCenter: vals[0],
			YCenter: vals[1],
			Width:   vals[2],
			Height:  vals[3],
		})
	}

	return boxes, malformed
}

// PluralityLabel assigns the classification label for an image: the most
// frequent class id among its boxes. Ties break toward the lowest class
// id, which is the deterministic choice and matches a first-maximum scan
// over ids in ascending order.
//
// Arguments:
//   - boxes: The image's boxes.
//
// Returns:
//   - int: The winning class id.
//   - bool: False when there are no boxes (image is excluded).
func PluralityLabel(boxes []Box) (int, bool) {
	if len(boxes) == 0 {
		return 0, false
	}

	counts := map[int]int{}
	for _, b := range boxes {
		counts[b.ClassID]++
	}

	best, bestCount := -1, -1
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id < best) {
			best, bestCount = id, n
		}
	}
	return best, true
}
