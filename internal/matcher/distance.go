package matcher

import "math"

// EuclideanDistance returns the L2 distance between two equal-length vectors.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance computes 1 - cosine similarity, a value in [0, 2].
// Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}

// Score combines both dissimilarities: (1-w)*euclidean + w*cosineDistance.
// Lower is always more similar. w must be in [0, 1].
func Score(a, b []float32, cosineWeight float64) float64 {
	if cosineWeight == 0 {
		return EuclideanDistance(a, b)
	}
	return (1-cosineWeight)*EuclideanDistance(a, b) + cosineWeight*CosineDistance(a, b)
}

// Confidence is a display-only transform of a score: 1 - score clamped to [0, 1].
func Confidence(score float64) float64 {
	return max(0, min(1, 1-score))
}
