package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mikelane/gremlins/internal/cache"
	"github.com/mikelane/gremlins/internal/model"
)

// cacheCmd groups result-cache maintenance.
var cacheCmd = newCacheCmd()

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
		Long: `The result cache remembers gremlin outcomes keyed by source and test
content, so unchanged code is not re-tested. These commands inspect or
prune it.`,
	}

	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCacheInvalidateCmd())

	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and location",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openExistingCache()
			if err != nil {
				return err
			}
			defer closeCache(c)

			stats := c.Stats()
			cmd.Printf("cache directory:\t%s\n", viper.GetString(cacheDirConfigKey))
			cmd.Printf("cached results:\t%d\n", stats.Entries)

			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached result",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openExistingCache()
			if err != nil {
				return err
			}
			defer closeCache(c)

			if err := c.Clear(); err != nil {
				return err
			}
			cmd.Println("cache cleared")

			return nil
		},
	}
}

func newCacheInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate FILE",
		Short: "Drop cached results for one source file",
		Long: `Drop every cached result belonging to the given file, named by its
path relative to the project root (the same form gremlin ids use).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openExistingCache()
			if err != nil {
				return err
			}
			defer closeCache(c)

			removed, err := c.InvalidateFile(model.Path(args[0]))
			if err != nil {
				return err
			}
			cmd.Printf("invalidated %d cached result(s) for %s\n", removed, args[0])

			return nil
		},
	}
}

// openExistingCache opens the configured cache directory, ignoring the
// no-cache flag: maintenance commands always address the cache itself.
func openExistingCache() (*cache.Cache, error) {
	store, err := cache.OpenBadgerStore(viper.GetString(cacheDirConfigKey))
	if err != nil {
		return nil, err
	}

	return cache.New(store), nil
}

func closeCache(c *cache.Cache) {
	if err := c.Close(); err != nil {
		slog.Error("Failed to close result cache", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}
