package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avstrong/innkeeper/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			l := newLogger(cfg, os.Stdout, true)

			if err := app.Run(cfg, l); err != nil {
				l.LogErrorf("Failed to run app: %v", err.Error())

				return err
			}

			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed the demo property",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			l := newLogger(cfg, os.Stderr, false)

			storage, closeStorage, err := app.OpenStorage(l, cfg.Storage)
			if err != nil {
				return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
			}
			defer closeStorage()

			return app.Seed(context.Background(), l, cfg, storage)
		},
	}
}
