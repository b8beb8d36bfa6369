package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kartka/internal/config"
	"kartka/internal/logger"
	"kartka/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [terms...]",
	Short: "Search letters by words of their text",
	Long: `Search the index for letters containing the given terms.

Matching letters are printed newest first, one per line, as the ingestion date and
a Google Drive link to the PDF.`,
	Example: `  # Find letters mentioning a tax office
  kartka search urząd skarbowy

  # Only the five newest matches, as JSON
  kartka search --limit 5 --json invoice`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runSearch,
	ValidArgsFunction: completeSearchTerms,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", 0, "Maximum number of letters to list (0 lists all)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("search")

	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	terms := strings.Join(args, " ")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, cfg, needs{index: true}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.index.Query(ctx, cfg.Search.CollectionName, cfg.Search.BucketName, terms)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results, errs := a.formatter().Format(ids)
	for _, err := range errs {
		log.Warn().Err(err).Msg("Skipping unreadable index entry")
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	log.Debug().Str("terms", terms).Int("matches", len(results)).Msg("Search finished")

	out := cmd.OutOrStdout()
	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No letters found.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintln(out, r.Line())
	}
	return nil
}

// completeSearchTerms suggests indexed words once two characters are typed. Completion
// runs outside the normal command flow, so it loads the configuration itself and stays
// silent on any failure.
func completeSearchTerms(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len([]rune(toComplete)) < 2 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	c, err := config.Load(configPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	idx, err := search.New(c)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	words, err := idx.Suggest(ctx, c.Search.CollectionName, c.Search.BucketName, toComplete)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return words, cobra.ShellCompDirectiveNoFileComp
}
