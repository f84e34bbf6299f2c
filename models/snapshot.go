package models

import (
	"encoding/gob"
	"os"

	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/docsight-ai/go-idclass/faults"
)

// Snapshot is the on-disk form of a classifier: its topology description
// plus every weight tensor in full precision.
type Snapshot struct {
	Variant    Variant
	NumClasses int
	Width      int
	Height     int
	Spec       []LayerSpec
	Entries    []WeightEntry
}

// WeightEntry is one named weight tensor in a snapshot.
type WeightEntry struct {
	Name  string
	Shape []int
	Data  []float32
}

// SaveSnapshot writes the classifier's topology and weights to path.
//
// Arguments:
//   - path: Destination file, created or truncated.
//
// Returns:
//   - error: An unwrapped I/O or encoding error.
func (c *Classifier) SaveSnapshot(path string) error {
	snap := Snapshot{
		Variant:    c.cfg.Variant,
		NumClasses: c.cfg.NumClasses,
		Width:      c.cfg.Width,
		Height:     c.cfg.Height,
		Spec:       c.Spec(),
	}
	for _, name := range c.WeightNames() {
		w := c.weights[name]
		snap.Entries = append(snap.Entries, WeightEntry{
			Name:  name,
			Shape: append([]int(nil), w.Shape()...),
			Data:  append([]float32(nil), w.Data().([]float32)...),
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(snap)
}

// LoadClassifier reconstructs a classifier from a snapshot file. The
// returned classifier carries the snapshot's topology and weights rather
// than fresh initialization.
//
// Arguments:
//   - path: Snapshot file written by SaveSnapshot.
//
// Returns:
//   - *Classifier: The restored classifier.
//   - error: A config fault if the file is missing or malformed.
func LoadClassifier(path string) (*Classifier, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(snap), nil
}

// FromSnapshot builds a classifier directly from an in-memory snapshot,
// carrying its topology and weights.
//
// Arguments:
//   - snap: A decoded snapshot.
//
// Returns:
//   - *Classifier: The restored classifier.
func FromSnapshot(snap *Snapshot) *Classifier {
	c := &Classifier{
		cfg: Config{
			Variant:    snap.Variant,
			NumClasses: snap.NumClasses,
			Width:      snap.Width,
			Height:     snap.Height,
		}.Normalize(),
		spec:    snap.Spec,
		weights: map[string]*tensor.Dense{},
	}
	c.learningRate = c.cfg.LearningRate
	for _, e := range snap.Entries {
		c.weights[e.Name] = tensor.New(
			tensor.WithShape(e.Shape...), tensor.WithBacking(e.Data))
	}
	return c
}

// RestoreSnapshot copies weights from a snapshot file into the existing
// classifier, in place. Tensor backings are preserved so compiled graphs
// pick up the restored values.
//
// Arguments:
//   - path: Snapshot file written by SaveSnapshot.
//
// Returns:
//   - error: A config fault on missing file or shape mismatch.
func (c *Classifier) RestoreSnapshot(path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}
	for _, e := range snap.Entries {
		w, ok := c.weights[e.Name]
		if !ok {
			return faults.Configf("snapshot tensor %s not present in model", e.Name)
		}
		if w.Shape().TotalSize() != len(e.Data) {
			return faults.Configf("snapshot tensor %s has %d values, model expects %d",
				e.Name, len(e.Data), w.Shape().TotalSize())
		}
		copy(w.Data().([]float32), e.Data)
	}
	return nil
}

// LoadBackbone copies matching backbone tensors from a snapshot into the
// classifier, leaving head weights untouched. Snapshot tensors with no
// counterpart, and backbone tensors missing from the snapshot, are
// logged and skipped.
//
// Arguments:
//   - path: Snapshot file holding pretrained backbone weights.
//
// Returns:
//   - error: A config fault if the file cannot be read.
func (c *Classifier) LoadBackbone(path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	available := map[string]WeightEntry{}
	for _, e := range snap.Entries {
		available[e.Name] = e
	}

	loaded := 0
	for _, layer := range c.spec {
		if !layer.Backbone || layer.Name == "" {
			continue
		}
		for name, w := range c.weights {
			if !hasLayerPrefix(name, layer.Name) {
				continue
			}
			e, ok := available[name]
			if !ok {
				logrus.Warnf("backbone snapshot missing tensor %s, keeping random init", name)
				continue
			}
			if len(e.Data) != w.Shape().TotalSize() {
				logrus.Warnf("backbone tensor %s shape mismatch, keeping random init", name)
				continue
			}
			copy(w.Data().([]float32), e.Data)
			loaded++
		}
	}
	logrus.Infof("loaded %d backbone tensors from %s", loaded, path)
	return nil
}

// WeightsCopy captures a deep copy of every weight tensor, keyed by name.
// Used to restore the best epoch after early stopping.
func (c *Classifier) WeightsCopy() map[string][]float32 {
	out := make(map[string][]float32, len(c.weights))
	for name, w := range c.weights {
		out[name] = append([]float32(nil), w.Data().([]float32)...)
	}
	return out
}

// SetWeights copies captured values back into the live tensors. Names
// absent from the copy keep their current values.
func (c *Classifier) SetWeights(values map[string][]float32) {
	for name, data := range values {
		w, ok := c.weights[name]
		if !ok || w.Shape().TotalSize() != len(data) {
			continue
		}
		copy(w.Data().([]float32), data)
	}
}

func readSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "opening snapshot")
	}
	defer f.Close()

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "decoding snapshot")
	}
	return &snap, nil
}

func hasLayerPrefix(tensorName, layerName string) bool {
	return len(tensorName) > len(layerName)+1 &&
		tensorName[:len(layerName)+1] == layerName+"_"
}
