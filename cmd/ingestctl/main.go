// Command ingestctl runs the tenant extraction-and-ingestion pipeline:
// enumerate schema objects, describe and enrich them via the tenant CLI
// bridge, emit a chunked document corpus, and upsert it into the vector
// index. Each phase can also be run in isolation for a resumable,
// multi-day operator workflow.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sfvector-ingest/internal/orchestrator"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Extract and ingest a tenant's schema into the vector index",
	Long: `ingestctl drives the extraction pipeline against a tenant org:
enumerating schema objects through an authenticated CLI bridge, describing
and enriching them under a shared rate limit and retry budget, emitting a
chunked JSONL document corpus, and upserting changed chunks into the
configured vector index.

Every phase tracks its own progress independently, so a run interrupted by
a quota wall or a killed process resumes from where it stopped rather than
starting over.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to the pipeline config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, orchestrator.ErrQuotaWall) {
			fmt.Fprintln(os.Stderr, "ingestctl: quota wall reached, run again to resume")
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "ingestctl:", err)
		os.Exit(1)
	}
}
