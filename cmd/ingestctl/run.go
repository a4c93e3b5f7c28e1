package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/sfvector-ingest/internal/config"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

var phasesFlag []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline (or a chosen subset of phases)",
	Long: `Runs enumerate, describe, the enrichment phases, emit, and upload in
order. Enumerate must be selected and always lists objects through the
tenant CLI. Describe and the enrichment phases skip refs the Progress
Store already marks done; emit and upload run whenever selected.

Use --phases to restrict a run to a subset, e.g. for re-emitting a corpus
without uploading it:

  ingestctl run --phases enumerate,describe,emit`,
	RunE: runRunCommand,
}

func init() {
	runCmd.Flags().StringSliceVar(&phasesFlag, "phases", nil,
		"Comma-separated phase names to run (default: all)")
	rootCmd.AddCommand(runCmd)
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(phasesFlag) > 0 {
		cfg.Phases = phasesFlag
	}

	logger := ingestlog.New(ingestlog.Config{
		Component: "ingestctl",
		JSON:      true,
	})

	shutdown, err := telemetry.Init(cmd.Context(), telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(cmd.Context()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("sfvector-ingest"))
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}

	p, err := buildPipeline(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("wire pipeline: %w", err)
	}
	defer func() {
		if p.closeProg != nil {
			if err := p.closeProg(); err != nil {
				logger.Warn("progress store close failed", "error", err)
			}
		}
		if p.limiter != nil {
			p.limiter.Close()
		}
	}()

	report, err := p.orchestrator.Run(cmd.Context())
	if err != nil {
		return err
	}

	logger.Info("run complete",
		"enumerated", report.Enumerated,
		"described", report.Described,
		"enriched", report.Enriched,
		"emitted", report.Emitted,
		"uploaded", report.Uploaded,
		"errored", report.Errored,
		"cache_hits", report.CacheStats.Hits,
		"cache_misses", report.CacheStats.Misses,
		"elapsed", report.Elapsed.String(),
	)
	return nil
}
