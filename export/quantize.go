// Package export - Size-optimized model artifacts: symmetric int8
// weight quantization packed into a self-describing container, with an
// optional calibration pass for input quantization.
package export

import (
	"github.com/chewxy/math32"
)

// QuantizedTensor is one weight tensor stored as symmetric int8 values
// with a single per-tensor scale.
type QuantizedTensor struct {
	Name  string
	Shape []int
	Scale float32
	Data  []int8
}

// FloatTensor is a tensor kept at full precision, used for biases and
// normalization statistics whose footprint is negligible.
type FloatTensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Quantize maps float32 values onto int8 with a symmetric per-tensor
// scale of maxabs/127. An all-zero tensor gets scale 1.
//
// Arguments:
//   - name: Tensor name carried into the container.
//   - shape: Tensor dimensions.
//   - values: Full-precision values.
//
// Returns:
//   - QuantizedTensor: The quantized form.
func Quantize(name string, shape []int, values []float32) QuantizedTensor {
	var maxAbs float32
	for _, v := range values {
		if a := math32.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	scale := float32(1)
	if maxAbs > 0 {
		scale = maxAbs / 127
	}

	data := make([]int8, len(values))
	for i, v := range values {
		q := math32.Round(v / scale)
		if q > 127 {
			q = 127
		}
		if q < -127 {
			q = -127
		}
		data[i] = int8(q)
	}
	return QuantizedTensor{Name: name, Shape: shape, Scale: scale, Data: data}
}

// Dequantize reconstructs approximate float32 values. The round-trip
// error is bounded by scale/2 per element.
func (q QuantizedTensor) Dequantize() []float32 {
	out := make([]float32, len(q.Data))
	for i, v := range q.Data {
		out[i] = float32(v) * q.Scale
	}
	return out
}
