package database

import (
	"time"
)

// EnrolledIdentity is one (identity, photo) row backing an enrolled person.
// An identity with several photos appears once per photo.
type EnrolledIdentity struct {
	IdentityID      string
	DisplayName     string
	PhotoReference  string
	PhotoCapturedAt time.Time
}

// LoginEvent is an append-only record of a successful authentication
type LoginEvent struct {
	IdentityID  string
	DisplayName string
	LoggedAt    time.Time
}

// StoredVector is a previously extracted feature vector keyed by its source photo
type StoredVector struct {
	SourceReference string
	Model           string
	Vector          []float32
	Dim             int
	CreatedAt       time.Time
}
