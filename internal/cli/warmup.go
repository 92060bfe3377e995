package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-edu/mind-insights/internal/app"
	"github.com/mind-edu/mind-insights/internal/platform/cache"
	"github.com/mind-edu/mind-insights/jobs"
)

func newWarmupCommand(env Env) *cobra.Command {
	var (
		ranges []string
		inline bool
	)
	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Warm the query cache",
		Long: `Warm the query cache by loading every dashboard page for every identity.
By default a task is enqueued for the worker; --inline runs the warm-up in
this process.

Examples:
  mindctl warmup
  mindctl warmup --range 7d --range 30d --inline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			payload := jobs.WarmupPayload{Ranges: ranges}
			out := cmd.OutOrStdout()
			if !inline {
				queueRedis, err := cfg.QueueRedis()
				if err != nil {
					return err
				}
				client := jobs.NewClient(queueRedis)
				defer client.Close()
				info, err := client.EnqueueWarmup(cmd.Context(), payload)
				if err != nil {
					return fmt.Errorf("enqueue warmup: %w", err)
				}
				fmt.Fprintf(out, "enqueued %s on queue %s\n", info.ID, info.Queue)
				return nil
			}

			logger := commandLogger(cmd)
			redisClient, err := cache.New(cmd.Context(), cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer redisClient.Close()
			insights, err := app.BuildInsights(cfg, logger, redisClient, nil)
			if err != nil {
				return err
			}
			defer insights.Close()
			job := jobs.NewWarmupJob(insights.Pages, insights.Identities, logger, nil)
			summary, err := job.Run(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "warmed %d pages (%d partial, %d skipped)\n", summary.Pages, summary.Partial, summary.Skipped)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ranges, "range", nil, "time windows to warm (repeatable)")
	cmd.Flags().BoolVar(&inline, "inline", false, "run in this process instead of enqueueing")
	return cmd
}
