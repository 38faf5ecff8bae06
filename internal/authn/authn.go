// Package authn runs one face authentication attempt end to end: probe image
// to vector, vector against the cached reference set, login on acceptance.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/matcher"
	"github.com/kozaktomas/face-auth/internal/metrics"
)

// SnapshotSource is the part of the embedding cache the service needs.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*embedcache.Snapshot, error)
}

// Result describes one authentication attempt.
type Result struct {
	AttemptID           string
	Verdict             matcher.Verdict
	CandidatesChecked   int
	Duration            time.Duration
	SnapshotGeneratedAt time.Time
	// LoginRecorded is false for rejections, dry runs and failed writes.
	LoginRecorded bool
}

// Options tunes a Service.
type Options struct {
	MaxProbeImageWidth int // 0 disables probe downscaling
	// DryRun skips login recording (CLI testing against production data).
	DryRun  bool
	Metrics *metrics.Manager
	Clock   func() time.Time
}

// Service authenticates probe images.
type Service struct {
	extractor extract.Extractor
	cache     SnapshotSource
	logins    database.LoginRecorder
	opts      Options
}

// NewService creates a Service. logins may be nil when DryRun is set.
func NewService(extractor extract.Extractor, cache SnapshotSource, logins database.LoginRecorder, opts Options) *Service {
	if opts.MaxProbeImageWidth < 0 {
		opts.MaxProbeImageWidth = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{extractor: extractor, cache: cache, logins: logins, opts: opts}
}

// Authenticate extracts the probe vector, matches it and records a login on
// acceptance. Extraction failures are returned as *extract.Error; a failed
// login write is logged but does not turn an acceptance into an error.
func (s *Service) Authenticate(ctx context.Context, image []byte, policy matcher.Policy) (*Result, error) {
	start := s.opts.Clock()
	attemptID := uuid.NewString()
	logger := log.With().Str("attempt_id", attemptID).Logger()

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	probe, err := s.probeVector(ctx, image)
	if err != nil {
		var extractErr *extract.Error
		if errors.As(err, &extractErr) {
			s.opts.Metrics.ExtractFailure(extractErr.Kind.String())
			logger.Info().Str("kind", extractErr.Kind.String()).Err(extractErr.Err).Msg("probe image rejected")
		}
		return nil, err
	}

	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reference snapshot: %w", err)
	}

	matchStart := s.opts.Clock()
	verdict, err := matcher.Match(probe, snap, policy)
	if err != nil {
		logger.Error().Err(err).Int("probe_dim", len(probe)).Int("snapshot_dim", snap.Dim()).Msg("match failed")
		return nil, fmt.Errorf("match probe: %w", err)
	}
	matchTime := s.opts.Clock().Sub(matchStart)

	result := &Result{
		AttemptID:           attemptID,
		Verdict:             verdict,
		CandidatesChecked:   snap.Len(),
		SnapshotGeneratedAt: snap.GeneratedAt(),
	}

	switch v := verdict.(type) {
	case *matcher.Acceptance:
		s.opts.Metrics.ObserveVerdict("accepted", "", matchTime)
		result.LoginRecorded = s.recordLogin(ctx, v.IdentityID)
		logger.Info().
			Str("identity_id", v.IdentityID).
			Float64("distance", v.Distance).
			Bool("login_recorded", result.LoginRecorded).
			Msg("authentication accepted")
	case *matcher.Rejection:
		s.opts.Metrics.ObserveVerdict("rejected", string(v.Reason), matchTime)
		ev := logger.Info().Str("reason", string(v.Reason)).Int("candidates", snap.Len())
		if v.HasCandidate {
			ev = ev.Str("best_identity_id", v.BestIdentityID).Float64("best_distance", v.BestDistance)
		}
		ev.Msg("authentication rejected")
	}

	result.Duration = s.opts.Clock().Sub(start)
	return result, nil
}

func (s *Service) probeVector(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, &extract.Error{Kind: extract.KindDecodeFailure, Err: errors.New("empty image")}
	}

	scaled, err := extract.Downscale(image, s.opts.MaxProbeImageWidth)
	if err != nil {
		return nil, err
	}

	return s.extractor.Extract(ctx, scaled)
}

func (s *Service) recordLogin(ctx context.Context, identityID string) bool {
	if s.opts.DryRun || s.logins == nil {
		return false
	}
	// The login row is written even if the client has already gone away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.logins.RecordLogin(wctx, identityID, s.opts.Clock()); err != nil {
		log.Error().Err(err).Str("identity_id", identityID).Msg("failed to record login")
		return false
	}
	return true
}
