package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thereal-baitjet/Stream-Slicer/internal/config"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "stream-slicer",
	Short:         "Stream Slicer API server",
	Long:          "Finds viral clips in stream recordings and bills the analysis against a credit ledger.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "TOML config file (default $CONFIG_PATH or ./"+config.DefaultPath+")")
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig is shared by every subcommand.
func loadConfig() (config.Config, error) {
	return config.Load(config.Path(flagConfig))
}
