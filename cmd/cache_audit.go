package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/extract"
	"github.com/kozaktomas/face-auth/internal/matcher"
)

var cacheAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Find enrolled identities that look alike",
	Long: `Build the reference snapshot and list pairs of identities whose reference
vectors are closer than --max-distance. Such pairs are likely to be rejected
as ambiguous at login and usually need a better reference photo.

Examples:
  # Pairs within the default threshold
  face-auth cache audit

  # Stricter distance, top 20, JSON
  face-auth cache audit --max-distance 0.35 --limit 20 --json`,
	RunE: runCacheAudit,
}

func init() {
	cacheCmd.AddCommand(cacheAuditCmd)

	cacheAuditCmd.Flags().Float64("max-distance", 0, "Maximum Euclidean distance (default: MATCH_THRESHOLD)")
	cacheAuditCmd.Flags().Int("limit", constants.DefaultAuditLimit, "Maximum pairs to report (0 = all)")
	cacheAuditCmd.Flags().Bool("json", false, "Output as JSON")
}

// AuditResult is the --json output of cache audit
type AuditResult struct {
	Identities  int                 `json:"identities"`
	MaxDistance float64             `json:"max_distance"`
	Collisions  []matcher.Collision `json:"collisions"`
}

func runCacheAudit(cmd *cobra.Command, args []string) error {
	maxDistance := mustFlag(cmd, "max-distance", (*pflag.FlagSet).GetFloat64)
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	if maxDistance <= 0 {
		maxDistance = cfg.Match.Threshold
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	progress, finish := refreshProgress(jsonOutput)
	cache, err := newCache(cfg, st, extract.NewClient(cfg.Extractor), nil, progress)
	if err != nil {
		return err
	}
	snap, err := cache.ForceRefresh(ctx)
	finish()
	if err != nil {
		return fmt.Errorf("cache refresh failed: %w", err)
	}

	collisions := matcher.Audit(snap, maxDistance, limit)
	if jsonOutput {
		if collisions == nil {
			collisions = []matcher.Collision{}
		}
		return outputJSON(AuditResult{Identities: snap.Len(), MaxDistance: maxDistance, Collisions: collisions})
	}

	fmt.Printf("Audited %d identities (max distance %.3f)\n\n", snap.Len(), maxDistance)
	if len(collisions) == 0 {
		fmt.Println("No look-alike pairs found.")
		return nil
	}
	for _, c := range collisions {
		fmt.Printf("  %.4f  %s (%s)  <->  %s (%s)\n", c.Distance, c.NameA, c.IdentityA, c.NameB, c.IdentityB)
	}
	return nil
}
