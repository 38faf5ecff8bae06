package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReferenceRepository provides read access to enrolled identities and their photos
type ReferenceRepository interface {
	// ListEnrolled returns every (identity, photo) pair. Identities without a photo are omitted.
	ListEnrolled(ctx context.Context) ([]EnrolledIdentity, error)
}

// IdentityCounter reports how many identities exist, with or without photos
type IdentityCounter interface {
	CountIdentities(ctx context.Context) (int, error)
}

// LoginRecorder is the side-effect sink for successful authentications
type LoginRecorder interface {
	// RecordLogin appends a login event for the identity at the given time
	RecordLogin(ctx context.Context, identityID string, at time.Time) error
}

// LoginHistory provides read access to recorded logins
type LoginHistory interface {
	// RecentLogins returns the newest login events first
	RecentLogins(ctx context.Context, limit int) ([]LoginEvent, error)
}

// VectorMemo stores feature vectors already extracted from a photo so a refresh
// can skip the extractor for photos it has seen before.
type VectorMemo interface {
	// LoadVector returns the memoized vector, or ErrNotFound
	LoadVector(ctx context.Context, sourceReference, model string) ([]float32, error)
	// StoreVector memoizes a vector (replacing any previous one for the same key)
	StoreVector(ctx context.Context, sourceReference, model string, vector []float32) error
}

// Backend bundles the repositories of one SQL backend
type Backend interface {
	ReferenceRepository
	IdentityCounter
	LoginRecorder
	LoginHistory
	Ping(ctx context.Context) error
	Close() error
}
