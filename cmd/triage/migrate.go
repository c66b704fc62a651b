package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/migrate"
)

func migrateCmd(configPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires the postgres driver, configured %q", cfg.Database.Driver)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if dryRun {
				pending, err := migrate.Pending(ctx, pool)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(pending) == 0 {
					fmt.Fprintln(out, "schema is up to date")
					return nil
				}
				for _, m := range pending {
					fmt.Fprintf(out, "pending %s_%s\n", m.Version, m.Name)
				}
				return nil
			}
			return migrate.Apply(ctx, pool, logger.Named("migrate"))
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}
