package export

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/docsight-ai/go-idclass/faults"
	"github.com/docsight-ai/go-idclass/models"
)

// containerMagic leads every artifact file.
var containerMagic = [4]byte{'Q', 'I', 'D', 'C'}

const containerVersion uint16 = 1

// Container is the quantized model artifact: the serialized topology
// plus every weight tensor, conv and dense kernels as int8.
type Container struct {
	Variant    models.Variant
	NumClasses int
	Width      int
	Height     int
	Spec       []models.LayerSpec

	Quantized []QuantizedTensor
	Floats    []FloatTensor

	// Calibrated artifacts expect uint8 input with this quantization.
	Calibrated bool
	InputScale float32
	InputZero  uint8
}

// Save writes the container to path and logs the resulting size.
//
// Arguments:
//   - path: Destination file, created or truncated.
//
// Returns:
//   - error: A framework fault on encoding failure, a config fault on
//     I/O failure.
func (c *Container) Save(path string) error {
	var buf bytes.Buffer
	buf.Write(containerMagic[:])
	if err := binary.Write(&buf, binary.LittleEndian, containerVersion); err != nil {
		return faults.Wrap(faults.KindFramework, err, "writing artifact header")
	}
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return faults.Wrap(faults.KindFramework, err, "encoding artifact")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return faults.Wrap(faults.KindConfig, err, "writing artifact")
	}
	logrus.Infof("artifact saved to %s (%.1f KB)", path, float64(buf.Len())/1024)
	return nil
}

// Load reads a container written by Save.
//
// Arguments:
//   - path: Artifact file.
//
// Returns:
//   - *Container: The decoded artifact.
//   - error: A config fault when the file is missing, truncated or not
//     an artifact.
func Load(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "reading artifact")
	}
	if len(data) < 6 || !bytes.Equal(data[:4], containerMagic[:]) {
		return nil, faults.Configf("%s is not a model artifact", path)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != containerVersion {
		return nil, faults.Configf("unsupported artifact version %d", v)
	}

	var c Container
	if err := gob.NewDecoder(bytes.NewReader(data[6:])).Decode(&c); err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "decoding artifact")
	}
	return &c, nil
}

// ArtifactInfo describes an artifact without fully loading its weights
// into a model.
type ArtifactInfo struct {
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	Variant    string `json:"variant"`
	InputShape []int  `json:"input_shape"`
	NumClasses int    `json:"num_classes"`
	InputDType string `json:"input_dtype"`
	Calibrated bool   `json:"calibrated"`
}

// Info inspects an artifact file.
//
// Arguments:
//   - path: Artifact file.
//
// Returns:
//   - *ArtifactInfo: Shape, dtype and file size.
//   - error: An error value for a missing or malformed file, never a
//     panic.
func Info(path string) (*ArtifactInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "inspecting artifact")
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	dtype := "float32"
	if c.Calibrated {
		dtype = "uint8"
	}
	return &ArtifactInfo{
		Path:       path,
		SizeBytes:  fi.Size(),
		Variant:    string(c.Variant),
		InputShape: []int{1, 3, c.Height, c.Width},
		NumClasses: c.NumClasses,
		InputDType: dtype,
		Calibrated: c.Calibrated,
	}, nil
}
