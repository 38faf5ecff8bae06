package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/authn"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

// AuthenticateHandler serves face login attempts.
type AuthenticateHandler struct {
	service  Authenticator
	policies PolicyResolver
}

// NewAuthenticateHandler creates a new authenticate handler
func NewAuthenticateHandler(service Authenticator, policies PolicyResolver) *AuthenticateHandler {
	return &AuthenticateHandler{service: service, policies: policies}
}

type authenticateRequest struct {
	// Image is base64, optionally as a data URL ("data:image/jpeg;base64,...").
	Image     string   `json:"image"`
	Policy    string   `json:"policy,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type candidateInfo struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
}

type authenticateResponse struct {
	AttemptID     string `json:"attempt_id"`
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`

	IdentityID  string   `json:"identity_id,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`

	Reason         string         `json:"reason,omitempty"`
	BestCandidate  *candidateInfo `json:"best_candidate,omitempty"`
	SecondDistance *float64       `json:"second_distance,omitempty"`

	Threshold           float64   `json:"threshold"`
	CandidatesChecked   int       `json:"candidates_checked"`
	ProcessingMS        int64     `json:"processing_ms"`
	SnapshotGeneratedAt time.Time `json:"snapshot_generated_at"`
	LoginRecorded       bool      `json:"login_recorded"`
}

type extractionErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Authenticate handles POST /api/v1/authenticate.
func (h *AuthenticateHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	image, err := decodeImage(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pc, ok := h.policies.Policy(req.Policy)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown policy: "+req.Policy)
		return
	}
	policy := matcher.PolicyFromConfig(pc)
	if req.Threshold != nil {
		policy.Threshold = *req.Threshold
	}

	result, err := h.service.Authenticate(r.Context(), image, policy)
	if err != nil {
		h.respondAuthError(w, req.Policy, err)
		return
	}

	respondJSON(w, http.StatusOK, buildAuthenticateResponse(result, policy))
}

func (h *AuthenticateHandler) respondAuthError(w http.ResponseWriter, policyName string, err error) {
	var extractErr *extract.Error
	switch {
	case errors.As(err, &extractErr):
		status := http.StatusUnprocessableEntity
		if extractErr.Kind == extract.KindUnavailable {
			status = http.StatusServiceUnavailable
			log.Error().Err(err).Msg("feature extractor unavailable")
		}
		respondJSON(w, status, extractionErrorResponse{
			Error: extractErr.UserMessage(),
			Kind:  extractErr.Kind.String(),
		})
	case errors.Is(err, matcher.ErrInvalidPolicy):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, embedcache.ErrNoSnapshot):
		log.Error().Err(err).Msg("authentication without reference snapshot")
		respondError(w, http.StatusServiceUnavailable, "reference set not available, try again later")
	case errors.Is(err, matcher.ErrDimensionMismatch):
		log.Error().Err(err).Str("policy", sanitizeForLog(policyName)).Msg("probe and reference vectors disagree")
		respondError(w, http.StatusInternalServerError, "face model mismatch")
	default:
		log.Error().Err(err).Msg("authentication failed")
		respondError(w, http.StatusInternalServerError, "authentication failed")
	}
}

func buildAuthenticateResponse(result *authn.Result, policy matcher.Policy) authenticateResponse {
	resp := authenticateResponse{
		AttemptID:           result.AttemptID,
		Threshold:           policy.Threshold,
		CandidatesChecked:   result.CandidatesChecked,
		ProcessingMS:        result.Duration.Milliseconds(),
		SnapshotGeneratedAt: result.SnapshotGeneratedAt,
		LoginRecorded:       result.LoginRecorded,
	}

	switch v := result.Verdict.(type) {
	case *matcher.Acceptance:
		resp.Authenticated = true
		resp.Message = "Welcome, " + v.DisplayName
		resp.IdentityID = v.IdentityID
		resp.DisplayName = v.DisplayName
		resp.Distance = &v.Distance
		resp.Confidence = &v.Confidence
	case *matcher.Rejection:
		resp.Reason = string(v.Reason)
		resp.Message = rejectionMessage(v.Reason)
		if v.HasCandidate {
			resp.BestCandidate = &candidateInfo{
				IdentityID:  v.BestIdentityID,
				DisplayName: v.BestDisplayName,
				Distance:    v.BestDistance,
			}
		}
		if v.HasSecond {
			resp.SecondDistance = &v.SecondDistance
		}
	}
	return resp
}

func rejectionMessage(reason matcher.Reason) string {
	switch reason {
	case matcher.ReasonEmptyReferenceSet:
		return "No users are enrolled yet."
	case matcher.ReasonAmbiguous:
		return "The face matches more than one user. Please try again."
	default:
		return "Face not recognized."
	}
}

// decodeImage accepts plain or URL-safe base64, padded or not, with an
// optional data URL prefix.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, errors.New("image data URL must be base64 encoded")
		}
		s = payload
	}
	if s == "" {
		return nil, errors.New("image is required")
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("image is not valid base64")
}
