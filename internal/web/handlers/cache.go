package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/matcher"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/names"
)

// CacheHandler exposes the embedding cache to operators.
type CacheHandler struct {
	cache              CacheController
	bus                Publisher // nil when Redis is not configured
	metrics            *metrics.Manager
	defaultMaxDistance float64
}

// NewCacheHandler creates a new cache handler. Audits without max_distance use
// defaultMaxDistance, normally the default acceptance threshold.
func NewCacheHandler(cache CacheController, bus Publisher, m *metrics.Manager, defaultMaxDistance float64) *CacheHandler {
	return &CacheHandler{cache: cache, bus: bus, metrics: m, defaultMaxDistance: defaultMaxDistance}
}

type identityInfo struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
}

type failureInfo struct {
	At    time.Time `json:"at"`
	Error string    `json:"error"`
}

type cacheStatsResponse struct {
	Ready            bool                          `json:"ready"`
	Entries          int                           `json:"entries"`
	Dimension        int                           `json:"dimension"`
	GeneratedAt      *time.Time                    `json:"generated_at,omitempty"`
	AgeSeconds       float64                       `json:"age_seconds"`
	StalenessSeconds float64                       `json:"staleness_seconds"`
	RefreshMS        int64                         `json:"refresh_ms"`
	SourceRows       int                           `json:"source_rows"`
	Skipped          map[embedcache.SkipReason]int `json:"skipped,omitempty"`
	LastFailure      *failureInfo                  `json:"last_failure,omitempty"`
	Identities       []identityInfo                `json:"identities"`
}

type auditResponse struct {
	MaxDistance float64             `json:"max_distance"`
	Entries     int                 `json:"entries"`
	Collisions  []matcher.Collision `json:"collisions"`
}

// Stats handles GET /api/v1/cache. It reports the published snapshot without
// refreshing it.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.stats(h.cache.Current(), r.URL.Query().Get("name")))
}

// Refresh handles POST /api/v1/cache/refresh.
func (h *CacheHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cache.ForceRefresh(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("forced cache refresh failed")
		respondError(w, http.StatusServiceUnavailable, "cache refresh failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.stats(snap, ""))
}

// Invalidate handles POST /api/v1/cache/invalidate. The local cache is marked
// stale at once; other replicas are notified when a bus is configured.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.cache.Invalidate()
	h.metrics.Invalidated("local")

	propagated := false
	if h.bus != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.bus.Publish(ctx, "api"); err != nil {
			log.Warn().Err(err).Msg("publishing cache invalidation failed")
		} else {
			propagated = true
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":     "invalidated",
		"propagated": propagated,
	})
}

// Audit handles GET /api/v1/cache/audit?max_distance=&limit=.
func (h *CacheHandler) Audit(w http.ResponseWriter, r *http.Request) {
	maxDistance := h.defaultMaxDistance
	if s := r.URL.Query().Get("max_distance"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "max_distance must be a non-negative number")
			return
		}
		maxDistance = v
	}

	limit := constants.DefaultAuditLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	snap, err := h.cache.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "reference set not available")
		return
	}

	collisions := matcher.Audit(snap, maxDistance, limit)
	if collisions == nil {
		collisions = []matcher.Collision{}
	}
	respondJSON(w, http.StatusOK, auditResponse{
		MaxDistance: maxDistance,
		Entries:     snap.Len(),
		Collisions:  collisions,
	})
}

func (h *CacheHandler) stats(snap *embedcache.Snapshot, nameQuery string) cacheStatsResponse {
	resp := cacheStatsResponse{
		StalenessSeconds: h.cache.Staleness().Seconds(),
		Identities:       []identityInfo{},
	}
	if at, err := h.cache.LastFailure(); err != nil {
		resp.LastFailure = &failureInfo{At: at, Error: err.Error()}
	}
	if snap == nil {
		return resp
	}

	generatedAt := snap.GeneratedAt()
	resp.Ready = true
	resp.Entries = snap.Len()
	resp.Dimension = snap.Dim()
	resp.GeneratedAt = &generatedAt
	resp.AgeSeconds = snap.Age(time.Now()).Seconds()
	resp.RefreshMS = snap.RefreshDuration().Milliseconds()
	resp.SourceRows = snap.SourceCount()
	resp.Skipped = snap.Skipped()

	entries := names.Filter(snap.Entries(), nameQuery, func(e embedcache.ReferenceVector) string {
		return e.DisplayName
	})
	for _, e := range entries {
		resp.Identities = append(resp.Identities, identityInfo{IdentityID: e.IdentityID, DisplayName: e.DisplayName})
	}
	return resp
}
