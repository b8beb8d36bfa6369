package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kartka/internal/config"
	"kartka/internal/logger"
)

var version = "1.0.0"

var (
	configPath  string
	timeoutSecs int

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kartka",
	Short: "Kartka - archive scanned letters in Google Drive and find them again",
	Long: `Kartka turns scanned letters into searchable documents.

Each ingested letter is transcribed with Google Cloud OCR, packaged into a single
PDF, uploaded to a Google Drive folder and indexed line by line in a search engine
(Sonic or Elasticsearch). Searching prints a dated Drive link per matching letter.

The search index can always be rebuilt from Drive with the hydrate command.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the CLI and exits 1 on any failure.
func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			log.Debug().Err(err).Msg("Invalid configuration")
		} else {
			log.Error().Err(err).Msg("Command execution failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Kartka configuration file location")
	rootCmd.PersistentFlags().IntVar(&timeoutSecs, "timeout", 3600, "Timeout in seconds")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Setup(c.GetLoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := c.EnsureDirs(); err != nil {
		return err
	}

	cfg = c
	log := logger.WithComponent("cmd")
	log.Debug().
		Str("config", configPath).
		Str("command", cmd.Name()).
		Msg("Configuration loaded")
	return nil
}
