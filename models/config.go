package models

// Config parameterizes classifier construction. Zero values fall back to
// the documented defaults via Normalize.
type Config struct {
	// Variant selects the topology.
	Variant Variant
	// NumClasses sizes the softmax head.
	NumClasses int
	// Width and Height are the input spatial resolution.
	Width  int
	Height int
	// LearningRate is the base-training Adam rate.
	LearningRate float64
	// BackboneSnapshot optionally points at a pretrained backbone weight
	// snapshot for the transfer variant.
	BackboneSnapshot string
	// Seed drives weight initialization.
	Seed int64
}

// Normalize fills defaults in place and returns the config.
func (c Config) Normalize() Config {
	if c.Variant == "" {
		c.Variant = VariantTransfer
	}
	if c.Width == 0 {
		c.Width = 224
	}
	if c.Height == 0 {
		c.Height = 224
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}
