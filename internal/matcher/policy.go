package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/constants"
)

// Policy holds the per-call matching knobs.
type Policy struct {
	// Threshold is the maximum accepted score, inclusive.
	Threshold float64
	// AmbiguityGap is the required separation between best and second best.
	AmbiguityGap float64
	// AmbiguityCheck enables the ambiguous-match downgrade.
	AmbiguityCheck bool
	// CosineWeight mixes cosine distance into the score (0 = pure Euclidean).
	CosineWeight float64
}

// DefaultPolicy returns threshold 0.5, gap 0.1, ambiguity check on, Euclidean score.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:      constants.DefaultThreshold,
		AmbiguityGap:   constants.DefaultAmbiguityGap,
		AmbiguityCheck: true,
	}
}

// PolicyFromConfig converts a configured policy.
func PolicyFromConfig(pc config.PolicyConfig) Policy {
	return Policy{
		Threshold:      pc.Threshold,
		AmbiguityGap:   pc.AmbiguityGap,
		AmbiguityCheck: pc.AmbiguityCheck,
		CosineWeight:   pc.CosineWeight,
	}
}

// ErrInvalidPolicy is wrapped by Validate failures.
var ErrInvalidPolicy = errors.New("invalid match policy")

// Validate rejects negative or non-finite thresholds and gaps and cosine weights outside [0, 1].
func (p Policy) Validate() error {
	switch {
	case math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) || p.Threshold < 0:
		return fmt.Errorf("%w: threshold %v", ErrInvalidPolicy, p.Threshold)
	case math.IsNaN(p.AmbiguityGap) || math.IsInf(p.AmbiguityGap, 0) || p.AmbiguityGap < 0:
		return fmt.Errorf("%w: ambiguity gap %v", ErrInvalidPolicy, p.AmbiguityGap)
	case math.IsNaN(p.CosineWeight) || p.CosineWeight < 0 || p.CosineWeight > 1:
		return fmt.Errorf("%w: cosine weight %v must be within [0, 1]", ErrInvalidPolicy, p.CosineWeight)
	}
	return nil
}
