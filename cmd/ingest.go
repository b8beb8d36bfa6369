package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kartka/internal/journal"
	"kartka/internal/logger"
	"kartka/internal/pipeline"
	"kartka/pkg/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest one letter from its page images",
	Long: `Ingest one letter: the given image files are its pages, in order.

Every page is transcribed with Google Cloud OCR, the pages are combined into one
PDF named after the current minute and uploaded to the Drive folder, and every
non-blank line of the transcript is pushed to the search index.

If a step fails, the letter is kept in the local journal and 'kartka retry'
resumes it without repeating the steps that already succeeded.`,
	Example: `  # Ingest a two page letter
  kartka ingest page-1.jpg page-2.jpg

  # Use another configuration file
  kartka --config ~/kartka.yaml ingest scan.tiff`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ingest")

	for _, path := range args {
		if err := validatePageFile(path, log); err != nil {
			return err
		}
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, cfg, pipelineNeeds, log)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := ingestFiles(ctx, a, args, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Done: %s -> %s\n", doc.Name, a.formatter().Link(doc.RemoteID))
	return nil
}

// ingestFiles ingests paths as one document, journaling it on failure.
func ingestFiles(ctx context.Context, a *app, paths []string, log zerolog.Logger) (*models.Document, error) {
	pages := make([]*models.Page, len(paths))
	for i, path := range paths {
		// Journaled paths must resolve from any working directory.
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		pages[i] = models.NewFilePage(abs)
	}
	doc := models.NewDocument(time.Now(), pages)

	log.Info().
		Str("document", doc.Name).
		Int("pages", len(pages)).
		Msg("Ingesting letter")

	a.pipeline.Observer = logObserver(log)
	if err := a.pipeline.Ingest(ctx, doc); err != nil {
		entry := journal.FromDocument(journal.OriginIngest, doc, pipeline.FailedStep(err), err)
		if jerr := a.journal.Save(entry); jerr != nil {
			log.Error().Err(jerr).Msg("Failed to journal the letter")
		} else {
			log.Warn().Str("journal_id", entry.ID).Msg("Letter saved for 'kartka retry'")
		}
		return doc, describeFailure(err)
	}

	log.Info().
		Str("document", doc.Name).
		Str("remote_id", doc.RemoteID).
		Msg("Letter ingested")
	return doc, nil
}

// validatePageFile checks that a page image exists and is a non-empty regular file
func validatePageFile(path string, log zerolog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("Page file not found")
			return fmt.Errorf("page file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing page file")
			return fmt.Errorf("permission denied accessing page file: %s", path)
		}
		return fmt.Errorf("error accessing page file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("page file is empty: %s", path)
	}
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		log.Warn().Str("file", path).Msg("PDF given as a page image, it will fail to decode")
	}
	return nil
}
