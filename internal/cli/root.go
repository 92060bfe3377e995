// Package cli implements mindctl, the operator command line of the
// dashboard.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-edu/mind-insights/internal/app"
)

// Env carries what commands read from the outside world.
type Env struct {
	// LoadConfig reads the process configuration.
	LoadConfig func() (*app.Config, error)
	Stdin      io.Reader
}

func (e Env) withDefaults() Env {
	if e.LoadConfig == nil {
		e.LoadConfig = app.LoadToolConfig
	}
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	return e
}

// NewRootCommand assembles the mindctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	env = env.withDefaults()
	root := &cobra.Command{
		Use:   "mindctl",
		Short: "Operate the Mind Insights dashboard",
		Long: `mindctl manages credentials, inspects widget queries and maintains the
query cache and the local warehouse of the Mind Insights dashboard.

Configuration is read from the environment and an optional .env file, the
same way the server reads it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("verbose", false, "log warehouse activity to stderr")

	root.AddCommand(
		newHashPasswordCommand(env),
		newCheckCommand(),
		newQueryCommand(env),
		newCacheCommand(env),
		newWarehouseCommand(env),
		newWarmupCommand(env),
	)
	return root
}

// ExecuteContext runs mindctl with the process arguments.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand(Env{}).ExecuteContext(ctx)
}

func commandLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}
