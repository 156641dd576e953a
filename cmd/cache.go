package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the answer caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache settings, counters and backing stores",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached answers for a session",
	Long:  `Removes a session's cached answers from memory and from the Redis tier when one is configured.`,
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().Bool("json", false, "output stats as JSON")
	cacheClearCmd.Flags().String("session", "", "session whose answers are dropped (required)")
	_ = cacheClearCmd.MarkFlagRequired("session")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelCache)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	docs, err := a.docs.Count(ctx)
	if err != nil {
		return err
	}
	stats := a.cache.Stats()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			cache.LayerStats
			KeywordChunks int  `json:"keyword_chunks"`
			Redis         bool `json:"redis"`
		}{stats, docs, a.redis != nil})
	}

	opts := a.cache.Options()
	redis := "disabled"
	if a.redis != nil {
		redis = cfg.Cache.Redis.Addr
	} else if cfg.Cache.Redis.Addr != "" {
		redis = "unreachable (" + cfg.Cache.Redis.Addr + ")"
	}
	fmt.Println(box("Cache settings",
		row("Context TTL", opts.ContextTTL),
		row("Response TTL", opts.ResponseTTL()),
		row("Embedding TTL", opts.EmbeddingTTL),
		row("Fuzzy match", fmt.Sprintf("%v (>= %.2f)", opts.Fuzzy, opts.FuzzyThreshold)),
		row("Janitor", cfg.Cache.JanitorSchedule),
		row("Redis tier", redis),
		row("Keyword chunks", docs),
	))
	fmt.Println(cacheStatsBox(stats))
	return nil
}

// cacheStatsBox renders hit rates and sizes for each cache.
func cacheStatsBox(s cache.LayerStats) string {
	line := func(st cache.Stats) string {
		return fmt.Sprintf("%d entries, %d hits, %d misses, %.0f%% hit rate, %.2f MB",
			st.Entries, st.Hits, st.Misses, st.HitRate*100, st.SizeMB)
	}
	return box("Cache usage",
		row("Context", line(s.Context)),
		row("Response", line(s.Response)),
		row("Embedding", line(s.Embedding)),
		row("Total", line(s.Total)),
	)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	session, _ := cmd.Flags().GetString("session")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelCache)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}
	if a.redis == nil {
		fmt.Fprintln(os.Stderr, "No Redis tier configured; in-memory caches live only as long as one process.")
	}

	n := a.cache.InvalidateSession(ctx, session)
	fmt.Printf("Dropped %d cached answers for session %s\n", n, session)
	return nil
}
