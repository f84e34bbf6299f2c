// Package classes - Class registry loaded from the dataset class list.
package classes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/faults"
)

// Registry is the ordered set of class names. The index of a name is its
// class id. Immutable once loaded; shared read-only by every downstream
// component.
type Registry struct {
	names []string
	notes map[string]interface{}
}

// Load reads the class list and optional notes metadata from a dataset
// root laid out as:
//
//	<root>/classes.txt  (one class name per line, order = class id)
//	<root>/notes.json   (optional free-form metadata)
//
// Arguments:
//   - root: Dataset root directory.
//
// Returns:
//   - *Registry: The loaded registry.
//   - error: A config fault if classes.txt is missing or empty.
func Load(root string) (*Registry, error) {
	r, err := LoadFile(filepath.Join(root, "classes.txt"))
	if err != nil {
		return nil, err
	}

	notesPath := filepath.Join(root, "notes.json")
	if data, err := os.ReadFile(notesPath); err == nil {
		var notes map[string]interface{}
		if err := json.Unmarshal(data, &notes); err != nil {
			// Notes are informational only.
			logrus.WithError(err).Warnf("ignoring malformed %s", notesPath)
		} else {
			r.notes = notes
		}
	}

	return r, nil
}

// LoadFile reads a class list file directly.
//
// Arguments:
//   - path: Path to the class list file.
//
// Returns:
//   - *Registry: The loaded registry.
//   - error: A config fault if the file is missing or holds no names.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Configf("class list file not found: %s", path)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "reading class list")
	}
	if len(names) == 0 {
		return nil, faults.Configf("class list file is empty: %s", path)
	}

	logrus.WithField("classes", names).Info("class registry loaded")
	return &Registry{names: names}, nil
}

// NewRegistry builds a registry from an in-memory name list. Used by tests
// and by callers that already resolved the class set.
func NewRegistry(names []string) *Registry {
	cp := make([]string, len(names))
	copy(cp, names)
	return &Registry{names: cp}
}

// Len returns the number of classes.
func (r *Registry) Len() int { return len(r.names) }

// Name returns the class name for an id. Out-of-range ids yield a
// placeholder rather than panicking, matching batch-prediction semantics
// where a corrupt artifact must not crash the harness.
func (r *Registry) Name(id int) string {
	if id < 0 || id >= len(r.names) {
		return fmt.Sprintf("unknown_%d", id)
	}
	return r.names[id]
}

// Names returns a copy of the ordered class name list.
func (r *Registry) Names() []string {
	cp := make([]string, len(r.names))
	copy(cp, r.names)
	return cp
}

// Notes returns the free-form dataset metadata, if any was present.
func (r *Registry) Notes() map[string]interface{} { return r.notes }
