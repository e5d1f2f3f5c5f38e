package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/thereal-baitjet/Stream-Slicer/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the ledger schema (and River's tables on postgres)",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	h, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.Backend.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}
	slog.Info("ledger schema applied", "driver", cfg.Store.Driver)
	if h.Pool != nil {
		return migrateRiver(ctx, h.Pool, slog.Default())
	}
	return nil
}
