package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rationfit",
	Short: "Least-cost feed ration formulation",
	Long: `Rationfit finds the cheapest blend of feed ingredients whose nutrient
concentrations satisfy a set of bounds, using a two-phase basin-hopping
search over a penalized cost.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		// stdout carries reports, so logs go to stderr
		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

var (
	dataDir   string
	storeKind string
)

// addStoreFlags registers the checkpoint store flags on a command
func addStoreFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints, reports and traces")
	cmd.PersistentFlags().StringVar(&storeKind, "store", "fs", "Checkpoint store backend: fs, sqlite")
}
