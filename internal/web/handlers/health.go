package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/database"
)

// HealthHandler reports repository reachability and cache readiness.
type HealthHandler struct {
	identities database.IdentityCounter
	cache      CacheController
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(identities database.IdentityCounter, cache CacheController) *HealthHandler {
	return &HealthHandler{identities: identities, cache: cache}
}

type healthResponse struct {
	Status               string          `json:"status"`
	IdentitiesInDatabase *int            `json:"identities_in_database,omitempty"`
	Cache                healthCacheInfo `json:"cache"`
}

type healthCacheInfo struct {
	Ready       bool       `json:"ready"`
	Entries     int        `json:"entries"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	AgeSeconds  float64    `json:"age_seconds"`
}

// Get never triggers a cache refresh.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if snap := h.cache.Current(); snap != nil {
		generatedAt := snap.GeneratedAt()
		resp.Cache = healthCacheInfo{
			Ready:       true,
			Entries:     snap.Len(),
			GeneratedAt: &generatedAt,
			AgeSeconds:  snap.Age(time.Now()).Seconds(),
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	count, err := h.identities.CountIdentities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("health check: counting identities failed")
		resp.Status = "degraded"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.IdentitiesInDatabase = &count

	respondJSON(w, http.StatusOK, resp)
}
