package embedcache

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"
)

// ReferenceVector is one enrolled identity's cached feature vector.
// SourceReference is kept for diagnostics only.
type ReferenceVector struct {
	IdentityID      string
	DisplayName     string
	Vector          []float32
	SourceReference string
}

// SkipReason says why a repository row is missing from a snapshot.
type SkipReason string

const (
	SkipImageMissing         SkipReason = "image_missing"
	SkipImageUnreadable      SkipReason = "image_unreadable"
	SkipDecodeFailure        SkipReason = "decode_failure"
	SkipNoFace               SkipReason = "no_face"
	SkipFaceTooSmall         SkipReason = "face_too_small"
	SkipExtractorUnavailable SkipReason = "extractor_unavailable"
	SkipDimensionMismatch    SkipReason = "dimension_mismatch"
)

// Snapshot is an immutable point-in-time view of the reference set.
// Nothing in it changes after construction; callers must not modify the
// vectors they read from it.
type Snapshot struct {
	entries []ReferenceVector // sorted by identity id
	index   map[string]int
	dim     int

	generatedAt  time.Time
	duration     time.Duration
	sourceCount  int
	loadedCount  int
	skipped      map[SkipReason]int
	invalidation uint64 // invalidation generation the refresh started under
}

// NewSnapshot builds a snapshot from reference vectors. When an identity
// appears more than once the last entry wins. All vectors must share one
// non-zero length.
func NewSnapshot(generatedAt time.Time, refs []ReferenceVector) (*Snapshot, error) {
	s := &Snapshot{
		generatedAt: generatedAt,
		sourceCount: len(refs),
		loadedCount: len(refs),
		skipped:     map[SkipReason]int{},
	}
	if err := s.fill(refs); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) fill(refs []ReferenceVector) error {
	byID := make(map[string]ReferenceVector, len(refs))
	for _, r := range refs {
		if len(r.Vector) == 0 {
			return fmt.Errorf("identity %s has an empty vector", r.IdentityID)
		}
		if s.dim == 0 {
			s.dim = len(r.Vector)
		} else if len(r.Vector) != s.dim {
			return fmt.Errorf("identity %s has %d dimensions, expected %d", r.IdentityID, len(r.Vector), s.dim)
		}
		byID[r.IdentityID] = r
	}

	s.entries = slices.SortedFunc(maps.Values(byID), func(a, b ReferenceVector) int {
		return CompareIDs(a.IdentityID, b.IdentityID)
	})
	s.index = make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.IdentityID] = i
	}
	return nil
}

// CompareIDs orders identity ids numerically when both are decimal integers
// and lexically otherwise, so "2" sorts before "10".
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		ta, tb := trimZeros(a), trimZeros(b)
		if c := cmp.Compare(len(ta), len(tb)); c != 0 {
			return c
		}
		if c := cmp.Compare(ta, tb); c != 0 {
			return c
		}
	}
	return cmp.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}

// Len returns the number of identities in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Dim returns the vector length shared by every entry (0 when empty).
func (s *Snapshot) Dim() int {
	if s == nil {
		return 0
	}
	return s.dim
}

// Get returns the entry of one identity.
func (s *Snapshot) Get(identityID string) (ReferenceVector, bool) {
	if s == nil {
		return ReferenceVector{}, false
	}
	i, ok := s.index[identityID]
	if !ok {
		return ReferenceVector{}, false
	}
	return s.entries[i], true
}

// All iterates entries in identity id order.
func (s *Snapshot) All() iter.Seq[ReferenceVector] {
	return func(yield func(ReferenceVector) bool) {
		if s == nil {
			return
		}
		for _, e := range s.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entries returns a copy of the entry list in identity id order.
func (s *Snapshot) Entries() []ReferenceVector {
	if s == nil {
		return nil
	}
	return slices.Clone(s.entries)
}

// GeneratedAt is when the refresh that built the snapshot finished.
func (s *Snapshot) GeneratedAt() time.Time { return s.generatedAt }

// RefreshDuration is how long the building refresh took.
func (s *Snapshot) RefreshDuration() time.Duration { return s.duration }

// SourceCount is the number of repository rows considered.
func (s *Snapshot) SourceCount() int { return s.sourceCount }

// LoadedCount is the number of rows that yielded a usable vector. It can exceed
// Len when an identity has several photos.
func (s *Snapshot) LoadedCount() int { return s.loadedCount }

// Skipped returns a copy of the per-reason counts of excluded rows.
func (s *Snapshot) Skipped() map[SkipReason]int {
	return maps.Clone(s.skipped)
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.generatedAt)
}
