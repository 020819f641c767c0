package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/config"
	"github.com/cwbudde/rationfit/internal/fit"
)

var (
	catalogPath string
	payload     string
	configPath  string
	outPath     string
	seed        int64
	restarts    int
	backend     string
	localMethod string
	strict      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Formulate a least-cost ration",
	Long: `Loads an ingredient and nutrient catalog, runs the exploration and
refinement searches and prints the resulting blend.

With --payload the catalog is passed inline as JSON, human-readable output is
suppressed and the JSON report is written to stdout.`,
	RunE: runFormulation,
}

func init() {
	runCmd.Flags().StringVar(&catalogPath, "catalog", "", "Catalog file (.json, .yaml)")
	runCmd.Flags().StringVar(&payload, "payload", "", "Inline JSON catalog; prints the JSON report only")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML search settings file")
	runCmd.Flags().StringVar(&outPath, "out", "", "Also write the JSON report to this file")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	runCmd.Flags().IntVar(&restarts, "restarts", 1, "Independent searches to run in parallel")
	runCmd.Flags().StringVar(&backend, "backend", "basinhopping", "Global search: basinhopping, mayfly")
	runCmd.Flags().StringVar(&localMethod, "local", "nelder-mead", "Local minimizer: nelder-mead, bfgs")
	runCmd.Flags().BoolVar(&strict, "strict", false, "Fail on chart rows naming unknown ingredients or nutrients")

	runCmd.MarkFlagsOneRequired("catalog", "payload")
	runCmd.MarkFlagsMutuallyExclusive("catalog", "payload")
	rootCmd.AddCommand(runCmd)
}

// resolveSettings layers changed flags over the settings file over the defaults
func resolveSettings(cmd *cobra.Command) (config.Settings, error) {
	settings := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Settings{}, err
		}
		settings = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		settings.Seed = seed
	}
	if flags.Changed("restarts") {
		settings.Restarts = restarts
	}
	if flags.Changed("backend") {
		settings.Backend = backend
	}
	if flags.Changed("local") {
		settings.LocalMethod = localMethod
	}

	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

func loadCatalog() (*catalog.Catalog, error) {
	opts := catalog.BuildOptions{Strict: strict}
	if payload != "" {
		return catalog.ParsePayload(payload, opts)
	}
	return catalog.LoadFile(catalogPath, opts)
}

func runFormulation(cmd *cobra.Command, args []string) error {
	settings, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	searcher, err := settings.Searcher()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	slog.Info("Starting formulation",
		"backend", settings.Backend,
		"local", settings.LocalMethod,
		"restarts", settings.Restarts,
		"seed", settings.Seed,
	)

	start := time.Now()
	result, err := fit.Formulate(ctx, cat, settings.SearchConfig(), searcher)
	if result == nil {
		return err
	}
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return err
	}

	report := fit.NewFormulationReport(cat, result)
	slog.Info("Formulation complete",
		"elapsed", time.Since(start),
		"objective", result.Objective,
		"base_cost", result.BaseCost,
		"feasible", report.Feasible,
		"interrupted", interrupted,
	)

	if outPath != "" {
		if werr := writeReportFile(outPath, report); werr != nil {
			return werr
		}
	}

	out := cmd.OutOrStdout()
	if payload != "" {
		if werr := writeReportJSON(out, report); werr != nil {
			return werr
		}
	} else if werr := report.WriteText(out); werr != nil {
		return werr
	}

	if interrupted {
		return fmt.Errorf("search interrupted, reported best blend so far: %w", err)
	}
	return nil
}

func writeReportJSON(w io.Writer, report *fit.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeReportFile(path string, report *fit.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := writeReportJSON(f, report); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
