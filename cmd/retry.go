package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kartka/internal/journal"
	"kartka/internal/logger"
	"kartka/internal/pipeline"
	"kartka/pkg/models"
)

var retryCmd = &cobra.Command{
	Use:   "retry [journal ids...]",
	Short: "Retry the letters whose ingestion or hydration failed",
	Long: `Resume letters saved in the journal, all of them or only the given ids. Steps
that already succeeded are not repeated: a letter that was uploaded is not uploaded
again, a transcript is not extracted again. Letters that succeed are removed from
the journal.`,
	Example: `  # Show what is pending
  kartka retry --list

  # Try everything again
  kartka retry

  # Try one letter
  kartka retry 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().Bool("list", false, "Only list the pending letters")
}

func runRetry(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("retry")
	list, _ := cmd.Flags().GetBool("list")
	out := cmd.OutOrStdout()

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	n := pipelineNeeds
	if list {
		n = needs{journal: true}
	}
	a, err := newApp(ctx, cfg, n, log)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := pendingEntries(a.journal, args)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "Nothing to retry.")
		return nil
	}

	if list {
		for _, e := range entries {
			fmt.Fprintf(out, "%s\t%s\t%s\tfailed at %s (%d retries): %s\n",
				e.ID, e.Origin, e.Name, e.Step, e.Attempts, e.Error)
		}
		return nil
	}

	a.pipeline.Observer = logObserver(log)
	failed := retryEntries(ctx, a.pipeline, a.journal, entries, log)

	fmt.Fprintf(out, "Retried %d letters, %d still failing.\n", len(entries), failed)
	if failed > 0 {
		return fmt.Errorf("%d letters still failing, see 'kartka retry --list'", failed)
	}
	return nil
}

// pendingEntries returns the entries named by ids, or every entry when ids is empty.
func pendingEntries(j *journal.Journal, ids []string) ([]journal.Entry, error) {
	if len(ids) == 0 {
		return j.List()
	}
	entries := make([]journal.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := j.Get(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// retryEntries resumes every entry through p. Recovered entries leave the journal;
// the others are saved with their progress and the new error. It returns how many
// entries still fail.
func retryEntries(ctx context.Context, p *pipeline.Pipeline, j *journal.Journal, entries []journal.Entry, log zerolog.Logger) int {
	failed := 0
	for i := range entries {
		e := &entries[i]
		elog := log.With().Str("journal_id", e.ID).Str("document", e.Name).Logger()

		var doc *models.Document
		var err error
		switch e.Origin {
		case journal.OriginHydrate:
			err = p.RehydrateOne(ctx, e.Remote())
		default:
			doc = e.Document()
			err = p.Ingest(ctx, doc)
		}

		if err != nil {
			failed++
			e.Update(doc, pipeline.FailedStep(err), err)
			if jerr := j.Save(e); jerr != nil {
				elog.Error().Err(jerr).Msg("Failed to update journal entry")
			}
			elog.Warn().Err(err).Msg("Retry failed")
			if ctx.Err() != nil {
				failed += len(entries) - i - 1
				break
			}
			continue
		}

		if err := j.Delete(e.ID); err != nil {
			elog.Error().Err(err).Msg("Failed to remove journal entry")
		}
		elog.Info().Msg("Letter recovered")
	}
	return failed
}
