package cmd

import (
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/logging"
)

func seedCmd() *cobra.Command {
	var (
		records int
		rngSeed int64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the analytics database with generated sample data",
		Long: `Apply pending migrations, then insert generated app portfolio rows
so the assistant has data to query out of the box.

Examples:
  askdb seed                      # 50 rows, random values
  askdb seed --records 500        # bigger dataset
  askdb seed --seed 42            # reproducible fixture`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(verbose)

			// Schema first; ErrNoChange means it is already in place.
			m, err := newMigrator()
			if err != nil {
				return err
			}
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				m.Close()
				return fmt.Errorf("migrate up: %w", err)
			}
			m.Close()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			n, err := db.Seed(cmd.Context(), database.SeedOptions{
				Records: records,
				Seed:    rngSeed,
			})
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			slog.Info("sample data inserted", "rows", n, "table", db.Table(), "driver", db.Driver())
			return nil
		},
	}

	cmd.Flags().IntVar(&records, "records", 50, "number of rows to generate")
	cmd.Flags().Int64Var(&rngSeed, "seed", 0, "rng seed for reproducible data (0 = time-based)")

	return cmd
}
