package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaip/budget-chat/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and stored functions",
		Long: `Apply the embedded migrations to the configured Postgres database.
Migrations already recorded in schema_migrations are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				migrations, err := storage.Migrations()
				if err != nil {
					return err
				}
				names := make([]string, 0, len(migrations))
				for _, m := range migrations {
					names = append(names, m.Version)
				}
				if outputJSON {
					return printJSON(map[string]interface{}{"migrations": names})
				}
				for _, n := range names {
					ui.Plain("  %s", n)
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			db, err := storage.Open(ctx, cfg.Database.DSN, storage.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			spin := ui.NewSpinner("Applying migrations...")
			applied, err := storage.Migrate(ctx, db)
			spin.Stop()
			if err != nil {
				ui.Error("Migration failed: %v", err)
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"applied": applied})
			}
			if len(applied) == 0 {
				ui.Info("Database is up to date")
				return nil
			}
			for _, name := range applied {
				ui.Success("Applied %s", name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without applying them")
	return cmd
}
