package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kartka/internal/journal"
	"kartka/internal/logger"
	"kartka/internal/pipeline"
)

var hydrateCmd = &cobra.Command{
	Use:   "hydrate",
	Short: "Rebuild the search index from the letters stored in Google Drive",
	Long: `Download every PDF in the Drive folder, transcribe it again and push its
lines to the search index. Nothing is uploaded.

A letter that fails does not stop the others; it is saved in the journal and
'kartka retry' tries it again.`,
	Example: `  # Rebuild the index after losing the Sonic data directory
  kartka hydrate

  # Four letters at a time
  kartka hydrate --workers 4`,
	Args: cobra.NoArgs,
	RunE: runHydrate,
}

func init() {
	rootCmd.AddCommand(hydrateCmd)

	hydrateCmd.Flags().Int("workers", 0, "Letters processed at once (default from hydrate.workers)")
	hydrateCmd.Flags().Bool("no-progress", false, "Log each letter instead of drawing a progress bar")
}

func runHydrate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("hydrate")

	workers, _ := cmd.Flags().GetInt("workers")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, cfg, pipelineNeeds, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if workers > 0 {
		a.pipeline.HydrateWorkers = workers
	}

	log.Info().Str("folder", cfg.Store.RootFolder).Msg("Starting hydration from Drive")

	var progress *hydrateProgress
	if noProgress {
		a.pipeline.Observer = logObserver(log)
	} else {
		progress = newHydrateProgress(log)
		a.pipeline.Observer = progress.observe
	}

	report, err := a.pipeline.RehydrateAll(ctx)
	if progress != nil {
		progress.finish()
	}

	for _, f := range report.Failures {
		entry := journal.FromRemote(f.Entry, pipeline.FailedStep(f.Err), f.Err)
		if jerr := a.journal.Record(entry); jerr != nil {
			log.Error().Err(jerr).Str("document", f.Entry.Name).Msg("Failed to journal the letter")
		}
		log.Warn().Err(f.Err).Str("document", f.Entry.Name).Msg("Letter not rehydrated")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Hydration complete: %d of %d letters indexed, %d failed.\n",
		report.Processed, report.Listed, len(report.Failures))
	if len(report.Failures) > 0 {
		fmt.Fprintln(out, "Failed letters were saved; run 'kartka retry' to try them again.")
	}

	if err != nil {
		if errors.Is(err, pipeline.ErrRemoteList) {
			return fmt.Errorf("listing the Drive folder failed, hydration is incomplete: %w", err)
		}
		return describeFailure(err)
	}
	return nil
}
