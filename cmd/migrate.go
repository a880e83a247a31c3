package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/class-reports/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back, or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("database.dsn is required to run migrations")
			}
			pool, err := pgstore.NewPool(cmd.Context(), pgstore.PoolConfig{
				DSN:      cfg.Database.DSN,
				MaxConns: 2,
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()
			if err := pgstore.Migrate(cmd.Context(), pool, direction); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			cmd.Printf("migrate %s complete\n", direction)
			return nil
		},
	}
}
