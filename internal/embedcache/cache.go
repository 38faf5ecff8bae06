// Package embedcache keeps the enrolled reference vectors warm in memory.
//
// The current snapshot is published through an atomic pointer, so readers
// never block and never see a half-built set. Rebuilds are coalesced with
// singleflight: at most one runs at a time and concurrent triggers share its
// result.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/imagestore"
	"github.com/kozaktomas/face-auth/internal/metrics"
)

// ErrNoSnapshot is returned when no snapshot has ever been built and building one failed.
var ErrNoSnapshot = errors.New("no reference snapshot available")

const refreshKey = "refresh"

// ImageLoader returns the bytes behind a photo reference. Missing photos wrap
// imagestore.ErrImageNotFound.
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// ProgressFunc is called after each repository row is processed. It may be
// called from several goroutines at once.
type ProgressFunc func(done, total int)

// Options tunes a Cache. Zero values select the defaults.
type Options struct {
	Staleness      time.Duration
	RefreshTimeout time.Duration
	// FailureBackoff is how long a failed refresh keeps a stale snapshot from
	// being rebuilt again by plain reads. ForceRefresh ignores it.
	FailureBackoff time.Duration
	MaxImageWidth  int // 0 disables downscaling
	Workers        int

	Memo     database.VectorMemo // optional
	Metrics  *metrics.Manager    // optional
	Progress ProgressFunc        // optional
	Clock    func() time.Time    // defaults to time.Now
}

// Cache owns the current snapshot and decides when to rebuild it.
type Cache struct {
	repo      database.ReferenceRepository
	images    ImageLoader
	extractor extract.Extractor
	opts      Options

	current      atomic.Pointer[Snapshot]
	invalidation atomic.Uint64
	group        singleflight.Group

	mu           sync.Mutex
	lastFailure  time.Time
	lastErr      error
	backoffUntil time.Time
}

// New creates a cache. No I/O happens until the first Snapshot or ForceRefresh.
func New(repo database.ReferenceRepository, images ImageLoader, extractor extract.Extractor, opts Options) *Cache {
	if opts.Staleness <= 0 {
		opts.Staleness = constants.DefaultStaleness
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = constants.DefaultRefreshTimeout
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = min(10*time.Second, opts.Staleness)
	}
	if opts.MaxImageWidth < 0 {
		opts.MaxImageWidth = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.DefaultRefreshWorkers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		repo:      repo,
		images:    images,
		extractor: extractor,
		opts:      opts,
	}
}

// Staleness returns the configured maximum snapshot age.
func (c *Cache) Staleness() time.Duration {
	return c.opts.Staleness
}

// Current returns the last published snapshot without any I/O. It is nil
// until the first successful refresh.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// LastFailure returns when the most recent refresh failed and why. Both are
// zero after a successful refresh.
func (c *Cache) LastFailure() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFailure, c.lastErr
}

// Invalidate marks the current snapshot stale without blocking. The next
// Snapshot call rebuilds. A refresh already running when Invalidate is called
// does not count as fresh.
func (c *Cache) Invalidate() {
	c.invalidation.Add(1)
	c.mu.Lock()
	c.backoffUntil = time.Time{}
	c.mu.Unlock()
	log.Debug().Msg("embedding cache invalidated")
}

func (c *Cache) isFresh(s *Snapshot) bool {
	if s.invalidation < c.invalidation.Load() {
		return false
	}
	return s.Age(c.opts.Clock()) <= c.opts.Staleness
}

func (c *Cache) inFailureBackoff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Clock().Before(c.backoffUntil)
}

// Snapshot returns the current snapshot, rebuilding it first when it is
// missing, older than the staleness duration or invalidated. When the rebuild
// fails the previous snapshot is returned with a nil error; an error is only
// returned when no snapshot was ever built.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	prev := c.current.Load()
	if prev != nil && (c.isFresh(prev) || c.inFailureBackoff()) {
		return prev, nil
	}

	snap, err := c.refresh(ctx)
	if err == nil {
		return snap, nil
	}

	if prev = c.current.Load(); prev != nil {
		log.Warn().Err(err).
			Time("generated_at", prev.GeneratedAt()).
			Int("entries", prev.Len()).
			Msg("serving stale embedding snapshot after failed refresh")
		return prev, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
}

// ForceRefresh rebuilds the snapshot unconditionally, or joins a rebuild that
// is already running. On failure the previous snapshot keeps serving and the
// error is returned.
func (c *Cache) ForceRefresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx)
}

// refresh runs (or joins) the single in-flight rebuild. The rebuild is detached
// from ctx so one impatient caller cannot abort it for everyone; it is bounded
// by RefreshTimeout instead. The caller stops waiting when ctx ends.
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefreshTimeout)
		defer cancel()
		return c.rebuild(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for embedding refresh: %w", ctx.Err())
	}
}

type rowResult struct {
	vector   []float32
	skip     SkipReason
	err      error
	fromMemo bool
}

func (c *Cache) rebuild(ctx context.Context) (*Snapshot, error) {
	start := c.opts.Clock()
	invalidation := c.invalidation.Load()

	snap, err := c.build(ctx, invalidation, start)
	elapsed := c.opts.Clock().Sub(start)

	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.lastFailure = c.opts.Clock()
		// An Invalidate that arrived mid-refresh must not be swallowed by the backoff.
		if c.invalidation.Load() == invalidation {
			c.backoffUntil = c.lastFailure.Add(c.opts.FailureBackoff)
		}
		c.mu.Unlock()
		c.opts.Metrics.ObserveRefresh(metrics.RefreshFailed, elapsed)
		log.Error().Err(err).Dur("duration", elapsed).Msg("embedding cache refresh failed")
		return nil, err
	}

	snap.duration = elapsed
	c.current.Store(snap)

	c.mu.Lock()
	c.lastErr = nil
	c.lastFailure = time.Time{}
	c.backoffUntil = time.Time{}
	c.mu.Unlock()

	c.opts.Metrics.ObserveRefresh(metrics.RefreshOK, elapsed)
	c.opts.Metrics.SetSnapshot(snap.Len(), snap.SourceCount(), snap.GeneratedAt())
	for reason, n := range snap.skipped {
		c.opts.Metrics.AddSkipped(string(reason), n)
	}

	log.Info().
		Int("source_rows", snap.SourceCount()).
		Int("loaded_rows", snap.LoadedCount()).
		Int("identities", snap.Len()).
		Int("dim", snap.Dim()).
		Dur("duration", elapsed).
		Msg("embedding cache refreshed")

	return snap, nil
}

func (c *Cache) build(ctx context.Context, invalidation uint64, start time.Time) (*Snapshot, error) {
	rows, err := c.repo.ListEnrolled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enrolled identities: %w", err)
	}

	results := make([]rowResult, len(rows))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = c.loadRow(ctx, row)
			if c.opts.Progress != nil {
				c.opts.Progress(int(done.Add(1)), len(rows))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh aborted after %s: %w", c.opts.Clock().Sub(start).Round(time.Millisecond), err)
	}

	snap := &Snapshot{
		generatedAt:  c.opts.Clock(),
		sourceCount:  len(rows),
		skipped:      map[SkipReason]int{},
		invalidation: invalidation,
	}

	refs := make([]ReferenceVector, 0, len(rows))
	dim := dominantDim(results)
	memoHits := 0
	for i, r := range results {
		row := rows[i]
		if r.skip == "" && len(r.vector) != dim {
			r.skip = SkipDimensionMismatch
			r.err = fmt.Errorf("vector has %d dimensions, expected %d", len(r.vector), dim)
			log.Error().Err(r.err).
				Str("identity_id", row.IdentityID).
				Str("photo", row.PhotoReference).
				Msg("extractor returned a vector of unexpected length")
		}
		if r.skip != "" {
			snap.skipped[r.skip]++
			log.Debug().Err(r.err).
				Str("identity_id", row.IdentityID).
				Str("photo", row.PhotoReference).
				Str("reason", string(r.skip)).
				Msg("skipping reference photo")
			continue
		}
		if r.fromMemo {
			memoHits++
		}
		refs = append(refs, ReferenceVector{
			IdentityID:      row.IdentityID,
			DisplayName:     row.DisplayName,
			Vector:          r.vector,
			SourceReference: row.PhotoReference,
		})
	}

	if err := snap.fill(refs); err != nil {
		return nil, fmt.Errorf("assemble snapshot: %w", err)
	}
	snap.loadedCount = len(refs)

	if memoHits > 0 {
		log.Debug().Int("memo_hits", memoHits).Msg("reused memoized reference vectors")
	}
	return snap, nil
}

// loadRow turns one repository row into a vector or a skip reason.
func (c *Cache) loadRow(ctx context.Context, row database.EnrolledIdentity) rowResult {
	data, err := c.images.Load(ctx, row.PhotoReference)
	if err != nil {
		if errors.Is(err, imagestore.ErrImageNotFound) {
			return rowResult{skip: SkipImageMissing, err: err}
		}
		return rowResult{skip: SkipImageUnreadable, err: err}
	}

	key := memoKey(row.PhotoReference, data, c.opts.MaxImageWidth)
	if c.opts.Memo != nil {
		vec, err := c.opts.Memo.LoadVector(ctx, key, c.extractor.Model())
		switch {
		case err == nil && len(vec) > 0:
			return rowResult{vector: vec, fromMemo: true}
		case err != nil && !errors.Is(err, database.ErrNotFound):
			log.Debug().Err(err).Str("photo", row.PhotoReference).Msg("vector memo lookup failed")
		}
	}

	scaled, err := extract.Downscale(data, c.opts.MaxImageWidth)
	if err != nil {
		return rowResult{skip: skipReasonFor(err), err: err}
	}

	vec, err := c.extractor.Extract(ctx, scaled)
	if err != nil {
		return rowResult{skip: skipReasonFor(err), err: err}
	}
	if len(vec) == 0 {
		return rowResult{skip: SkipExtractorUnavailable, err: errors.New("extractor returned an empty vector")}
	}

	if c.opts.Memo != nil {
		if err := c.opts.Memo.StoreVector(ctx, key, c.extractor.Model(), vec); err != nil {
			log.Debug().Err(err).Str("photo", row.PhotoReference).Msg("vector memo store failed")
		}
	}
	return rowResult{vector: vec}
}

// memoKey ties a memoized vector to the photo content and the width it was
// downscaled to, so replacing the file or changing CACHE_MAX_IMAGE_WIDTH forces
// a new extraction.
func memoKey(ref string, data []byte, width int) string {
	sum := sha256.Sum256(data)
	return ref + "#" + hex.EncodeToString(sum[:8]) + "@w" + strconv.Itoa(width)
}

// dominantDim returns the most common vector length among usable rows, so a
// single bad extraction cannot push every correct row out of the snapshot.
// Ties go to the length seen first.
func dominantDim(results []rowResult) int {
	counts := make(map[int]int)
	for _, r := range results {
		if r.skip == "" {
			counts[len(r.vector)]++
		}
	}
	dim, best := 0, 0
	for _, r := range results {
		if r.skip == "" && counts[len(r.vector)] > best {
			dim, best = len(r.vector), counts[len(r.vector)]
		}
	}
	return dim
}

func skipReasonFor(err error) SkipReason {
	switch extract.KindOf(err) {
	case extract.KindNoFaceDetected:
		return SkipNoFace
	case extract.KindFaceTooSmall:
		return SkipFaceTooSmall
	case extract.KindDecodeFailure:
		return SkipDecodeFailure
	default:
		return SkipExtractorUnavailable
	}
}
