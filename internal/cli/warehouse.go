package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

func newWarehouseCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Maintain a local SQLite warehouse",
		Long: `Maintain the SQLite warehouse used for local development and preview
deployments. BigQuery and PostgreSQL warehouses are owned by the data
pipeline and are never written to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the warehouse schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openLocal(cmd, env)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}

	var at string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo dataset into an empty warehouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = parsed
			}
			db, err := openLocal(cmd, env)
			if err != nil {
				return err
			}
			defer db.Close()
			empty, err := db.Empty(cmd.Context())
			if err != nil {
				return err
			}
			if !empty {
				return errors.New("warehouse already holds data")
			}
			dataset := warehouse.DemoDataset(now)
			if err := db.Load(cmd.Context(), dataset); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d learners, %d grades, %d spans\n",
				len(dataset.Learners), len(dataset.Grades), len(dataset.Spans))
			return nil
		},
	}
	seedCmd.Flags().StringVar(&at, "at", "", "anchor time of the dataset (RFC3339), defaults to now")

	cmd.AddCommand(migrateCmd, seedCmd)
	return cmd
}

// openLocal opens and migrates the configured SQLite warehouse.
func openLocal(cmd *cobra.Command, env Env) (*warehouse.SQLite, error) {
	cfg, err := env.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.WarehouseDriver != warehouse.DriverSQLite {
		return nil, fmt.Errorf("warehouse commands need WAREHOUSE_DRIVER=sqlite, got %q", cfg.WarehouseDriver)
	}
	db, err := warehouse.OpenSQLite(cmd.Context(), cfg.WarehouseDSN)
	if err != nil {
		return nil, err
	}
	if err := warehouse.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
