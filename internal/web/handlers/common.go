package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-auth/internal/authn"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxBodyBytes caps request bodies; probe photos arrive base64-encoded.
const maxBodyBytes = 20 << 20

// Authenticator runs one authentication attempt.
type Authenticator interface {
	Authenticate(ctx context.Context, image []byte, policy matcher.Policy) (*authn.Result, error)
}

// CacheController is the part of the embedding cache exposed over HTTP.
type CacheController interface {
	Current() *embedcache.Snapshot
	Snapshot(ctx context.Context) (*embedcache.Snapshot, error)
	ForceRefresh(ctx context.Context) (*embedcache.Snapshot, error)
	Invalidate()
	LastFailure() (time.Time, error)
	Staleness() time.Duration
}

// Publisher propagates invalidations to other replicas.
type Publisher interface {
	Publish(ctx context.Context, reason string) error
}

// PolicyResolver looks up named match policies.
type PolicyResolver interface {
	Policy(name string) (config.PolicyConfig, bool)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
