package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowhq/burrow/pkg/config"
	"github.com/burrowhq/burrow/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.DatabaseURL, cfg.DatabasePoolSize)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach database: %w", err)
		}
		if err := storage.Migrate(ctx, store.DB()); err != nil {
			return err
		}

		fmt.Println("migrations applied")
		return nil
	},
}
