package cmd

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/embedcache"
	"github.com/kozaktomas/face-auth/internal/extract"
)

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Build the reference snapshot and report what was loaded",
	Long: `Build the reference snapshot once, the same way the server does, and
report how many enrolled photos produced a vector and why the others were
skipped. With a vector memo configured the extracted vectors are stored
for the next start.

Examples:
  # Build with a progress bar
  face-auth cache refresh

  # JSON output including the loaded identities
  face-auth cache refresh --json --list`,
	RunE: runCacheRefresh,
}

func init() {
	cacheCmd.AddCommand(cacheRefreshCmd)

	cacheRefreshCmd.Flags().Bool("json", false, "Output as JSON")
	cacheRefreshCmd.Flags().Bool("list", false, "List the loaded identities")
}

// CacheRefreshResult represents the result of a cache refresh
type CacheRefreshResult struct {
	Success       bool                          `json:"success"`
	SourceRows    int                           `json:"source_rows"`
	Loaded        int                           `json:"loaded"`
	Identities    int                           `json:"identities"`
	Dimension     int                           `json:"dimension"`
	Skipped       map[embedcache.SkipReason]int `json:"skipped,omitempty"`
	DurationMs    int64                         `json:"duration_ms"`
	DurationHuman string                        `json:"duration_human,omitempty"`
	Entries       []CacheEntry                  `json:"entries,omitempty"`
}

// CacheEntry is one loaded identity, without its vector
type CacheEntry struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Photo       string `json:"photo"`
}

func runCacheRefresh(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	list := mustGetBool(cmd, "list")

	ctx := context.Background()
	cfg := config.Load()

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

	if !jsonOutput {
		fmt.Println("Building reference snapshot...")
	}
	snap, err := cache.ForceRefresh(ctx)
	finish()
	if err != nil {
		return fmt.Errorf("cache refresh failed: %w", err)
	}

	result := CacheRefreshResult{
		Success:       true,
		SourceRows:    snap.SourceCount(),
		Loaded:        snap.LoadedCount(),
		Identities:    snap.Len(),
		Dimension:     snap.Dim(),
		Skipped:       snap.Skipped(),
		DurationMs:    snap.RefreshDuration().Milliseconds(),
		DurationHuman: snap.RefreshDuration().Round(time.Millisecond).String(),
	}
	if list {
		for ref := range snap.All() {
			result.Entries = append(result.Entries, CacheEntry{
				IdentityID:  ref.IdentityID,
				DisplayName: ref.DisplayName,
				Photo:       ref.SourceReference,
			})
		}
	}

	if jsonOutput {
		return outputJSON(result)
	}
	printCacheRefresh(result)
	return nil
}

// refreshProgress returns a progress callback backed by a progress bar, or
// nil when output is JSON. finish must be called once the refresh is done.
func refreshProgress(jsonOutput bool) (embedcache.ProgressFunc, func()) {
	if jsonOutput {
		return nil, func() {}
	}

	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Extracting reference vectors"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("photos"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(done)
	}
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			bar.Finish()
			fmt.Println()
		}
	}
	return progress, finish
}

func printCacheRefresh(r CacheRefreshResult) {
	fmt.Printf("Snapshot built in %s\n", r.DurationHuman)
	fmt.Printf("  Enrolled photos:  %d\n", r.SourceRows)
	fmt.Printf("  Vectors loaded:   %d\n", r.Loaded)
	fmt.Printf("  Identities:       %d\n", r.Identities)
	if r.Dimension > 0 {
		fmt.Printf("  Vector dimension: %d\n", r.Dimension)
	}

	if len(r.Skipped) > 0 {
		reasons := make([]string, 0, len(r.Skipped))
		for reason := range r.Skipped {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		fmt.Println("\nSkipped photos:")
		for _, reason := range reasons {
			fmt.Printf("  %-22s %d\n", reason, r.Skipped[embedcache.SkipReason(reason)])
		}
	}

	if len(r.Entries) > 0 {
		fmt.Println("\nIdentities:")
		for _, e := range r.Entries {
			fmt.Printf("  %-8s %-30s %s\n", e.IdentityID, e.DisplayName, e.Photo)
		}
	}
}
