package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-auth/internal/authn"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/invalidation"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/web"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Auth HTTP API.
The reference snapshot is built in the background at startup (unless
--no-warmup is set) and rebuilt on demand once it is older than
CACHE_STALENESS. With REDIS_URL set, invalidations are shared between
replicas.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("no-warmup", false, "Do not build the reference snapshot at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.NewManager()
	extractor := extract.NewClient(cfg.Extractor)
	cache, err := newCache(cfg, st, extractor, m, nil)
	if err != nil {
		return err
	}

	service := authn.NewService(extractor, cache, st.backend, authn.Options{
		MaxProbeImageWidth: cfg.Match.MaxProbeImageWidth,
		Metrics:            m,
	})

	var bus handlers.Publisher
	if cfg.Redis.URL != "" {
		b, err := invalidation.Open(ctx, cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer b.Close()
		bus = b

		go func() {
			err := b.Subscribe(ctx, func(ev invalidation.Event) {
				log.Info().Str("origin", ev.Origin).Str("reason", ev.Reason).Msg("remote cache invalidation")
				cache.Invalidate()
				m.Invalidated("remote")
			})
			if err != nil {
				log.Error().Err(err).Msg("invalidation subscriber stopped")
			}
		}()
	}

	if !mustGetBool(cmd, "no-warmup") {
		go func() {
			snap, err := cache.ForceRefresh(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("initial snapshot build failed, retrying on first request")
				return
			}
			log.Info().Int("entries", snap.Len()).Dur("took", snap.RefreshDuration()).Msg("reference snapshot ready")
		}()
	}

	server := web.NewServer(cfg, web.Dependencies{
		Authenticator: service,
		Cache:         cache,
		Identities:    st.backend,
		Bus:           bus,
		Metrics:       m,
	})

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Auth API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
