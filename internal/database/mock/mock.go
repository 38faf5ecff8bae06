// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-auth/internal/database"
)

// MockReferenceRepository is a mock implementation of database.ReferenceRepository
// and database.IdentityCounter. It counts ListEnrolled calls.
type MockReferenceRepository struct {
	mu   sync.RWMutex
	rows []database.EnrolledIdentity

	listCalls atomic.Int64
	// Delay blocks ListEnrolled for the given duration (or until ctx ends).
	Delay time.Duration

	// Error injection
	ListError  error
	CountError error
}

// NewMockReferenceRepository creates a new mock repository holding the given rows.
func NewMockReferenceRepository(rows ...database.EnrolledIdentity) *MockReferenceRepository {
	return &MockReferenceRepository{rows: slices.Clone(rows)}
}

// AddRow appends a row to the mock repository.
func (m *MockReferenceRepository) AddRow(row database.EnrolledIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
}

// SetRows replaces all rows.
func (m *MockReferenceRepository) SetRows(rows []database.EnrolledIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = slices.Clone(rows)
}

// SetListError sets the error returned by ListEnrolled (nil clears it).
func (m *MockReferenceRepository) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListError = err
}

// ListCalls returns how many times ListEnrolled was called.
func (m *MockReferenceRepository) ListCalls() int {
	return int(m.listCalls.Load())
}

// ListEnrolled returns a copy of the stored rows.
func (m *MockReferenceRepository) ListEnrolled(ctx context.Context) ([]database.EnrolledIdentity, error) {
	m.listCalls.Add(1)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ListError != nil {
		return nil, m.ListError
	}
	return slices.Clone(m.rows), nil
}

// CountIdentities returns the number of distinct identity ids.
func (m *MockReferenceRepository) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.CountError != nil {
		return 0, m.CountError
	}
	seen := make(map[string]struct{}, len(m.rows))
	for _, r := range m.rows {
		seen[r.IdentityID] = struct{}{}
	}
	return len(seen), nil
}

// MockLoginRecorder is a mock implementation of database.LoginRecorder
// and database.LoginHistory.
type MockLoginRecorder struct {
	mu     sync.Mutex
	events []database.LoginEvent

	// Error injection
	RecordError error
}

// NewMockLoginRecorder creates a new mock login recorder
func NewMockLoginRecorder() *MockLoginRecorder {
	return &MockLoginRecorder{}
}

// RecordLogin stores the event.
func (m *MockLoginRecorder) RecordLogin(ctx context.Context, identityID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordError != nil {
		return m.RecordError
	}
	m.events = append(m.events, database.LoginEvent{IdentityID: identityID, LoggedAt: at})
	return nil
}

// RecentLogins returns recorded events newest first.
func (m *MockLoginRecorder) RecentLogins(ctx context.Context, limit int) ([]database.LoginEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := slices.Clone(m.events)
	slices.Reverse(events)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Events returns all recorded events in insertion order.
func (m *MockLoginRecorder) Events() []database.LoginEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

type memoKey struct {
	ref   string
	model string
}

// MockVectorMemo is an in-memory database.VectorMemo.
type MockVectorMemo struct {
	mu      sync.Mutex
	vectors map[memoKey][]float32

	loads  int
	stores int

	// Error injection
	LoadError  error
	StoreError error
}

// NewMockVectorMemo creates an empty memo
func NewMockVectorMemo() *MockVectorMemo {
	return &MockVectorMemo{vectors: make(map[memoKey][]float32)}
}

// LoadVector returns a stored vector or database.ErrNotFound.
func (m *MockVectorMemo) LoadVector(ctx context.Context, sourceRef, model string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	v, ok := m.vectors[memoKey{sourceRef, model}]
	if !ok {
		return nil, database.ErrNotFound
	}
	return slices.Clone(v), nil
}

// StoreVector saves a copy of the vector.
func (m *MockVectorMemo) StoreVector(ctx context.Context, sourceRef, model string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores++
	if m.StoreError != nil {
		return m.StoreError
	}
	m.vectors[memoKey{sourceRef, model}] = slices.Clone(vector)
	return nil
}

// Len returns the number of stored vectors.
func (m *MockVectorMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors)
}

// Stores returns how many times StoreVector was called.
func (m *MockVectorMemo) Stores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}
