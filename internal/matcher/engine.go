// Package matcher decides whether a probe vector belongs to an enrolled identity.
package matcher

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/embedcache"
)

var (
	// ErrDimensionMismatch means probe and reference vectors come from different
	// extractor contracts. It is a programming error and never coerced.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyProbe is returned for a zero-length probe vector.
	ErrEmptyProbe = errors.New("empty probe vector")
)

// candidate is the best or second-best entry seen so far.
type candidate struct {
	ref   embedcache.ReferenceVector
	score float64
	ok    bool
}

// Match scores probe against every snapshot entry and applies policy.
//
// Entries are visited in identity id order and ties keep the first visited
// entry, so the verdict is a pure function of (probe, snapshot, policy).
func Match(probe []float32, snap *embedcache.Snapshot, policy Policy) (Verdict, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if snap.Len() == 0 {
		return &Rejection{Reason: ReasonEmptyReferenceSet}, nil
	}

	if len(probe) == 0 {
		return nil, ErrEmptyProbe
	}

	var best, second candidate
	for ref := range snap.All() {
		if len(ref.Vector) != len(probe) {
			return nil, fmt.Errorf("%w: probe has %d dimensions, identity %s has %d",
				ErrDimensionMismatch, len(probe), ref.IdentityID, len(ref.Vector))
		}

		score := Score(probe, ref.Vector, policy.CosineWeight)
		switch {
		case !best.ok || score < best.score:
			second = best
			best = candidate{ref: ref, score: score, ok: true}
		case !second.ok || score < second.score:
			second = candidate{ref: ref, score: score, ok: true}
		}
	}

	if best.score > policy.Threshold {
		return rejection(ReasonNoMatch, best, second), nil
	}

	if policy.AmbiguityCheck && second.ok && best.score+policy.AmbiguityGap > second.score {
		return rejection(ReasonAmbiguous, best, second), nil
	}

	return &Acceptance{
		IdentityID:  best.ref.IdentityID,
		DisplayName: best.ref.DisplayName,
		Distance:    best.score,
		Confidence:  Confidence(best.score),
	}, nil
}

func rejection(reason Reason, best, second candidate) *Rejection {
	return &Rejection{
		Reason:          reason,
		HasCandidate:    best.ok,
		BestIdentityID:  best.ref.IdentityID,
		BestDisplayName: best.ref.DisplayName,
		BestDistance:    best.score,
		HasSecond:       second.ok,
		SecondDistance:  second.score,
	}
}
