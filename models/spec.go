// Package models - Variant-tagged classifier factory on the gorgonia
// backend.
package models

import "fmt"

// Variant is the unique tag of a fixed network topology.
type Variant string

const (
	// VariantTransfer is the transfer-learned backbone with a small dense
	// head. The backbone is frozen for base training.
	VariantTransfer Variant = "transfer"
	// VariantCustomCNN is the four-block convolutional network.
	VariantCustomCNN Variant = "custom_cnn"
	// VariantLightweight is the three-block network optimized for
	// minimal parameter count.
	VariantLightweight Variant = "lightweight"
)

// OpKind identifies a layer operation.
type OpKind string

const (
	// OpConv is a 2D convolution with bias.
	OpConv OpKind = "conv"
	// OpBatchNorm is batch normalization over channels.
	OpBatchNorm OpKind = "batchnorm"
	// OpReLU is a rectifier activation.
	OpReLU OpKind = "relu"
	// OpMaxPool is 2x2 max pooling.
	OpMaxPool OpKind = "maxpool"
	// OpGlobalAvgPool averages each channel plane to a scalar.
	OpGlobalAvgPool OpKind = "gap"
	// OpFlatten reshapes feature maps into a vector per sample.
	OpFlatten OpKind = "flatten"
	// OpDropout zeroes activations during training only.
	OpDropout OpKind = "dropout"
	// OpDense is a fully connected layer with bias.
	OpDense OpKind = "dense"
	// OpSoftmax is the classification head activation.
	OpSoftmax OpKind = "softmax"
)

// LayerSpec describes one layer of a topology. The spec list is the
// serializable description shared by training, export and the quantized
// inference engine.
type LayerSpec struct {
	Kind OpKind `json:"kind"`
	// Name keys the layer's weight tensors; empty for weightless layers.
	Name string `json:"name,omitempty"`
	// In and Out are channel (conv) or feature (dense) counts.
	In  int `json:"in,omitempty"`
	Out int `json:"out,omitempty"`
	// Kernel is the square kernel size for conv layers.
	Kernel int `json:"kernel,omitempty"`
	// Rate is the dropout probability.
	Rate float64 `json:"rate,omitempty"`
	// Backbone marks layers belonging to the pretrained feature
	// extractor; only backbone layers participate in freezing.
	Backbone bool `json:"backbone,omitempty"`
	// Trainable gates whether the layer's weights receive gradients.
	Trainable bool `json:"trainable,omitempty"`
}

func conv(name string, in, out, kernel int, backbone, trainable bool) LayerSpec {
	return LayerSpec{Kind: OpConv, Name: name, In: in, Out: out, Kernel: kernel,
		Backbone: backbone, Trainable: trainable}
}

func batchNorm(name string, channels int, backbone, trainable bool) LayerSpec {
	return LayerSpec{Kind: OpBatchNorm, Name: name, Out: channels,
		Backbone: backbone, Trainable: trainable}
}

func relu() LayerSpec    { return LayerSpec{Kind: OpReLU} }
func maxPool() LayerSpec { return LayerSpec{Kind: OpMaxPool} }
func gap() LayerSpec     { return LayerSpec{Kind: OpGlobalAvgPool} }
func flatten() LayerSpec { return LayerSpec{Kind: OpFlatten} }

func dropout(rate float64) LayerSpec { return LayerSpec{Kind: OpDropout, Rate: rate} }

func dense(name string, in, out int) LayerSpec {
	return LayerSpec{Kind: OpDense, Name: name, In: in, Out: out, Trainable: true}
}

func softmax() LayerSpec { return LayerSpec{Kind: OpSoftmax} }

// topology returns the fixed layer list for a variant. Dense input sizes
// that depend on spatial dimensions are resolved at graph-build time, so
// dense In fields here may stay zero.
func topology(v Variant, numClasses int) ([]LayerSpec, error) {
	switch v {
	case VariantTransfer:
		// Frozen feature extractor, then the classification head:
		// global pooling and two dense blocks with dropout.
		return []LayerSpec{
			conv("backbone_conv1", 3, 32, 3, true, false),
			relu(),
			batchNorm("backbone_bn1", 32, true, false),
			maxPool(),
			conv("backbone_conv2", 32, 64, 3, true, false),
			relu(),
			batchNorm("backbone_bn2", 64, true, false),
			maxPool(),
			conv("backbone_conv3", 64, 128, 3, true, false),
			relu(),
			batchNorm("backbone_bn3", 128, true, false),
			maxPool(),
			conv("backbone_conv4", 128, 256, 3, true, false),
			relu(),
			batchNorm("backbone_bn4", 256, true, false),
			maxPool(),
			gap(),
			dropout(0.2),
			dense("feature_layer", 256, 128),
			relu(),
			dropout(0.2),
			dense("predictions", 128, numClasses),
			softmax(),
		}, nil
	case VariantCustomCNN:
		return []LayerSpec{
			conv("conv1", 3, 32, 3, false, true),
			relu(),
			batchNorm("bn1", 32, false, true),
			maxPool(),
			conv("conv2", 32, 64, 3, false, true),
			relu(),
			batchNorm("bn2", 64, false, true),
			maxPool(),
			conv("conv3", 64, 128, 3, false, true),
			relu(),
			batchNorm("bn3", 128, false, true),
			maxPool(),
			conv("conv4", 128, 128, 3, false, true),
			relu(),
			batchNorm("bn4", 128, false, true),
			maxPool(),
			flatten(),
			dropout(0.5),
			dense("fc1", 0, 512),
			relu(),
			dropout(0.3),
			dense("predictions", 512, numClasses),
			softmax(),
		}, nil
	case VariantLightweight:
		return []LayerSpec{
			conv("conv1", 3, 16, 3, false, true),
			relu(),
			batchNorm("bn1", 16, false, true),
			maxPool(),
			conv("conv2", 16, 32, 3, false, true),
			relu(),
			batchNorm("bn2", 32, false, true),
			maxPool(),
			conv("conv3", 32, 64, 3, false, true),
			relu(),
			batchNorm("bn3", 64, false, true),
			maxPool(),
			gap(),
			dropout(0.3),
			dense("fc1", 64, 64),
			relu(),
			dropout(0.2),
			dense("predictions", 64, numClasses),
			softmax(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model variant: %q", v)
	}
}
