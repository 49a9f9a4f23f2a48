package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.store.Close()

			if err := b.migrate(cmd.Context()); err != nil {
				return err
			}
			slog.Info("schema up to date", "backend", cfg.StoreBackend)
			return nil
		},
	}
}
