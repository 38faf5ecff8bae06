// Package extract turns face photos into feature vectors through an external
// embedding service and classifies the ways that can fail.
package extract

import "context"

// Extractor produces a fixed-length feature vector for the dominant face in an image.
// Failures are *Error values.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
	// Model identifies the vector space. Vectors from different models are not comparable.
	Model() string
}
