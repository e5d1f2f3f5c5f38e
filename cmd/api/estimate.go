package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thereal-baitjet/Stream-Slicer/internal/pricing"
)

var estimateCmd = &cobra.Command{
	Use:     "estimate <duration>",
	Short:   "Estimate the credit cost of analyzing a video of the given length",
	Example: "  stream-slicer estimate 1h30m",
	Args:    cobra.ExactArgs(1),
	RunE:    runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return err
	}
	credits, err := calc.Estimate(int64(d.Seconds()))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s of video: about %d credits (minimum charge %d)\n",
		d, credits, calc.MinimumCharge())
	return nil
}
