package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/mock"
	"github.com/kozaktomas/face-auth/internal/embedcache"
)

func TestHealth_OK(t *testing.T) {
	repo := mock.NewMockReferenceRepository(
		database.EnrolledIdentity{IdentityID: "1", DisplayName: "Alice", PhotoReference: "a.jpg"},
		database.EnrolledIdentity{IdentityID: "1", DisplayName: "Alice", PhotoReference: "a2.jpg"},
		database.EnrolledIdentity{IdentityID: "2", DisplayName: "Bob", PhotoReference: "b.jpg"},
	)
	cache := &stubCache{snap: testSnapshot(t, embedcache.ReferenceVector{IdentityID: "1", DisplayName: "Alice", Vector: []float32{0, 1}})}
	h := NewHealthHandler(repo, cache)
	rec := httptest.NewRecorder()

	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if resp.IdentitiesInDatabase == nil || *resp.IdentitiesInDatabase != 2 {
		t.Errorf("expected 2 identities, got %v", resp.IdentitiesInDatabase)
	}
	if !resp.Cache.Ready || resp.Cache.Entries != 1 || resp.Cache.GeneratedAt == nil {
		t.Errorf("unexpected cache info %+v", resp.Cache)
	}
	if repo.ListCalls() != 0 {
		t.Error("health must not list enrolled photos")
	}
}

func TestHealth_ColdCache(t *testing.T) {
	h := NewHealthHandler(mock.NewMockReferenceRepository(), &stubCache{})
	rec := httptest.NewRecorder()

	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Cache.Ready {
		t.Error("expected cache not ready before the first refresh")
	}
}

func TestHealth_RepositoryDown(t *testing.T) {
	repo := mock.NewMockReferenceRepository()
	repo.CountError = errors.New("connection refused")
	h := NewHealthHandler(repo, &stubCache{})
	rec := httptest.NewRecorder()

	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if resp := decodeBody[healthResponse](t, rec); resp.Status != "degraded" {
		t.Errorf("expected degraded, got %q", resp.Status)
	}
}
