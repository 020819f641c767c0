package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cwbudde/rationfit/internal/catalog"
	"github.com/cwbudde/rationfit/internal/server"
	"github.com/cwbudde/rationfit/internal/store"
)

var resumeCatalogPath string

var resumeCmd = &cobra.Command{
	Use:   "resume JOB-ID",
	Short: "Resume a job from its checkpoint",
	Long: `Reruns a stored job starting from its checkpointed blend. The trace is
appended to and the checkpoint and report are replaced.

With --catalog the stored catalog is swapped for an edited one (new prices or
bounds); its ingredients must match the checkpoint's by name and order.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeCatalogPath, "catalog", "", "Replacement catalog file with the same ingredients")
	addStoreFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	st, err := store.Open(storeKind, dataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer st.Close()

	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint %s is unusable: %w", jobID, err)
	}

	cfg := cp.Config
	if resumeCatalogPath != "" {
		cfg, err = withCatalog(cfg, resumeCatalogPath)
		if err != nil {
			return err
		}
		if err := cp.IsCompatible(cfg); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Resuming %s from %s (objective %.4f, %s)\n",
		jobID, cp.Phase, cp.BestCost, cp.ToInfo().Summary())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	job, err := server.RunJob(ctx, st, jobID, cfg, cp.BestAmounts, true)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if job.Report != nil {
		if werr := job.Report.WriteText(cmd.OutOrStdout()); werr != nil {
			return werr
		}
	}
	return err
}

// withCatalog replaces the job's catalog with the record in path
func withCatalog(cfg store.JobConfig, path string) (store.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read catalog: %w", err)
	}
	rec, err := catalog.DecodeRecord(data, catalog.FormatFromPath(path))
	if err != nil {
		return cfg, err
	}
	cfg.Catalog = *rec
	cfg.CatalogPath = path
	if _, err := cfg.BuildCatalog(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
