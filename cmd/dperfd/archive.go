package main

import (
	"fmt"

	"github.com/ethpandaops/dperf/pkg/api/store"
	"github.com/ethpandaops/dperf/pkg/archive"
	"github.com/spf13/cobra"
)

var archiveConcurrency int

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive every stored run to S3",
	Long:  `Copy every stored run document to the configured S3-compatible bucket.`,
	RunE:  runArchive,
}

func init() {
	addConfigFlags(archiveCmd.Flags())
	archiveCmd.Flags().IntVar(&archiveConcurrency, "concurrency", 0,
		"parallel uploads (defaults to archive.concurrency)")
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Archive.S3.Enabled {
		return fmt.Errorf("S3 archiving is not enabled in config")
	}

	archiver, err := archive.NewS3Archiver(log, &cfg.Archive.S3)
	if err != nil {
		return fmt.Errorf("creating S3 archiver: %w", err)
	}

	ctx := cmd.Context()

	if err := archiver.Preflight(ctx); err != nil {
		return fmt.Errorf("archive preflight: %w", err)
	}

	s := store.NewStore(log, &cfg.Database)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	concurrency := cfg.Archive.Concurrency
	if archiveConcurrency > 0 {
		concurrency = archiveConcurrency
	}

	log.WithField("bucket", cfg.Archive.S3.Bucket).Info("Archiving runs")

	n, err := archive.Backfill(ctx, log, s, archiver, concurrency)
	if err != nil {
		return fmt.Errorf("archiving runs (%d done): %w", n, err)
	}

	return nil
}
