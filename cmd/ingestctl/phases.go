package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// phaseCommand builds a shortcut for `ingestctl run --phases <list>` with
// a fixed phase list (each list starts with enumerate, which every run
// requires), so an operator resuming a specific stage doesn't need to
// spell the phase list out by hand.
func phaseCommand(use, short string, phases ...model.Phase) *cobra.Command {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			phasesFlag = names
			return runRunCommand(cmd, args)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		phaseCommand("enumerate", "Enumerate tenant schema objects", model.PhaseEnumerate),
		phaseCommand("describe", "Describe enumerated objects", model.PhaseEnumerate, model.PhaseDescribe),
		phaseCommand("enrich", "Run every enrichment phase",
			model.PhaseEnumerate, model.PhaseDescribe, model.PhaseStats,
			model.PhaseAutomation, model.PhaseSecurity, model.PhaseHistory, model.PhaseOrgSecurity),
		phaseCommand("emit", "Emit the chunked document corpus", model.PhaseEnumerate, model.PhaseEmit),
		phaseCommand("upload", "Upsert changed chunks into the vector index", model.PhaseEnumerate, model.PhaseUpload),
	)
}
