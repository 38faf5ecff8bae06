package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/database/mariadb"
	"github.com/kozaktomas/face-auth/internal/database/postgres"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/imagestore"
	"github.com/kozaktomas/face-auth/internal/metrics"
)

// stores groups the opened repositories; Close releases all of them.
type stores struct {
	backend database.Backend
	memo    database.VectorMemo // nil when no memo is configured
	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("closing database")
		}
	}
}

// openStores connects to the reference repository selected by
// DATABASE_DRIVER and, when configured, the pgvector memo. A postgres
// reference repository doubles as the memo unless VECTOR_MEMO_DATABASE_URL
// points elsewhere.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	s := &stores{}
	switch cfg.Database.Driver {
	case "mariadb", "mysql":
		pool, err := mariadb.NewPool(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MariaDB: %w", err)
		}
		if err := pool.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to prepare MariaDB schema: %w", err)
		}
		s.backend = pool
		s.closers = append(s.closers, pool.Close)
	case "postgres", "postgresql":
		pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		s.backend = pool
		s.closers = append(s.closers, pool.Close)
		if cfg.Memo.URL == "" {
			s.memo = pool
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q (want mariadb or postgres)", cfg.Database.Driver)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("reference repository connected")

	if cfg.Memo.URL != "" {
		memoCfg := cfg.Database
		memoCfg.URL = cfg.Memo.URL
		pool, err := postgres.Open(ctx, &memoCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open vector memo: %w", err)
		}
		s.memo = pool
		s.closers = append(s.closers, pool.Close)
		log.Info().Msg("vector memo enabled")
	}

	return s, nil
}

// newCache wires the embedding cache to the repository, the photo directory
// and the embedding service.
func newCache(cfg *config.Config, st *stores, extractor extract.Extractor, m *metrics.Manager, progress embedcache.ProgressFunc) (*embedcache.Cache, error) {
	images, err := imagestore.New(cfg.Photos.Dir)
	if err != nil {
		return nil, fmt.Errorf("photo directory: %w", err)
	}

	return embedcache.New(st.backend, images, extractor, embedcache.Options{
		Staleness:      cfg.Cache.Staleness,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		MaxImageWidth:  cfg.Cache.MaxImageWidth,
		Workers:        cfg.Cache.Workers,
		Memo:           st.memo,
		Metrics:        m,
		Progress:       progress,
	}), nil
}
