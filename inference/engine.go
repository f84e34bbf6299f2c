// Package inference - Classification engines over exported artifacts
// and the batch harness that drives them.
package inference

import (
	"context"
)

// Prediction is the outcome of classifying one image.
type Prediction struct {
	ClassID       int       `json:"class_id"`
	ClassName     string    `json:"class_name"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// Engine is the interface all classification engines implement.
type Engine interface {
	// Predict classifies one sample, HWC float32 in [0,1] at the
	// engine's input resolution.
	Predict(ctx context.Context, sample []float32) (*Prediction, error)
	// InputSize returns the expected input resolution.
	InputSize() (height, width int)
	// Info describes the loaded model.
	Info() map[string]interface{}
	Close() error
}
