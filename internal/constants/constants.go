// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Cache constants
const (
	// DefaultStaleness is the maximum snapshot age before the next read rebuilds it
	DefaultStaleness = 300 * time.Second

	// DefaultRefreshTimeout bounds a whole refresh (repository query plus every extraction)
	DefaultRefreshTimeout = 2 * time.Minute

	// DefaultRefreshWorkers is the number of reference photos extracted in parallel
	DefaultRefreshWorkers = 4

	// DefaultReferenceImageWidth is the width reference photos are downscaled to before extraction
	DefaultReferenceImageWidth = 800
)

// Face matching constants
const (
	// DefaultThreshold is the default maximum score accepted as a match (inclusive)
	// Lower values = stricter matching
	DefaultThreshold = 0.5

	// DefaultAmbiguityGap is the minimum separation between best and second-best score
	DefaultAmbiguityGap = 0.1

	// DefaultProbeImageWidth is the width probe photos are downscaled to before extraction
	DefaultProbeImageWidth = 640

	// DefaultAuditLimit is the default number of collision pairs reported by an audit
	DefaultAuditLimit = 100
)

// Extraction constants
const (
	// MinFaceSize is the minimum face width and height in pixels
	MinFaceSize = 30

	// MinDetectionScore is the minimum detector confidence for a face to be considered
	MinDetectionScore = 0.5

	// JPEGQuality is used when re-encoding downscaled images
	JPEGQuality = 90

	// MaxImagePixels caps the declared width*height of an image before it is decoded
	MaxImagePixels = 40_000_000
)

// HNSW graph parameters for the enrollment collision audit
const (
	HNSWMaxNeighbors = 16
	HNSWEfSearch     = 64
)
