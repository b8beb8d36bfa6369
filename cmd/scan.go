package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"kartka/internal/logger"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Ingest the files in the scan directory as one letter",
	Long: `Take every file in layout.scan_dir, oldest first, as the pages of one letter and
ingest it. Point your scanner at the scan directory, scan the pages in order and
run this command.`,
	Example: `  # Show the page order without ingesting
  kartka scan --dry-run

  # Ingest and remove the scanned files afterwards
  kartka scan --delete`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("delete", false, "Remove the scanned files after a successful ingest")
	scanCmd.Flags().Bool("dry-run", false, "Only print the files in the order they would be ingested")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	remove, _ := cmd.Flags().GetBool("delete")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	files, err := scannedFiles(cfg.Layout.ScanDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files in %s", cfg.Layout.ScanDir)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Will ingest these files in this order:")
	for i, f := range files {
		fmt.Fprintf(out, "%d) %s\n", i+1, f)
	}
	if dryRun {
		return nil
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, cfg, pipelineNeeds, log)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := ingestFiles(ctx, a, files, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Done: %s -> %s\n", doc.Name, a.formatter().Link(doc.RemoteID))

	if remove {
		for _, f := range files {
			log.Info().Str("file", f).Msg("Removing scanned file")
			if err := os.Remove(f); err != nil {
				return fmt.Errorf("failed to remove %s: %w", f, err)
			}
		}
	}
	return nil
}

// scannedFiles lists the regular files of dir ordered by modification time, the order
// a scanner writes pages in. Ties keep name order.
func scannedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan directory: %w", err)
	}

	type scanned struct {
		path string
		info os.FileInfo
	}
	var files []scanned
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, scanned{path: filepath.Join(dir, e.Name()), info: info})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].info.ModTime().Before(files[j].info.ModTime())
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
