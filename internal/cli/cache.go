package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-edu/mind-insights/internal/platform/cache"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

func newCacheCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the query result cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current cache version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cached, closeFn, err := openCache(cmd, env)
			if err != nil {
				return err
			}
			defer closeFn()
			ver, err := cached.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ver)
			return nil
		},
	}
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Invalidate every cached query result",
		Long: `Invalidate every cached query result by bumping the cache version. Entries
of older versions are never read again and expire with their TTL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cached, closeFn, err := openCache(cmd, env)
			if err != nil {
				return err
			}
			defer closeFn()
			ver, err := cached.Bump(cmd.Context())
			if err != nil {
				return fmt.Errorf("flush cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "query cache flushed, version %d\n", ver)
			return nil
		},
	}
	cmd.AddCommand(version, flush)
	return cmd
}

// openCache connects to Redis only; no warehouse is opened.
func openCache(cmd *cobra.Command, env Env) (*warehouse.Cached, func(), error) {
	cfg, err := env.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := cache.New(cmd.Context(), cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	cached := warehouse.NewCached(nil, client, cfg.QueryCacheTTL, commandLogger(cmd))
	return cached, func() { _ = client.Close() }, nil
}
