package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kartka/internal/config"
	"kartka/internal/logger"
	"kartka/internal/search"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the connections to the search index and Google Drive",
	Long: `Check that the search index answers and that Google Drive accepts the
configured credentials. Each dependency is reported as passed or failed.`,
	Example: `  kartka check`,
	Args:    cobra.NoArgs,
	RunE:    runCheck,
}

// ErrCheckFailed is returned when at least one dependency is unreachable.
var ErrCheckFailed = errors.New("checks failed")

type pinger interface {
	Ping(ctx context.Context) error
}

// dependency is one remote service check connects to and pings.
type dependency struct {
	name    string
	connect func(ctx context.Context) (pinger, error)
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("check")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	out := cmd.OutOrStdout()
	failed, total := checkDependencies(ctx, out, dependencies(cfg), log)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrCheckFailed, failed, total)
	}
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func dependencies(c *config.Config) []dependency {
	return []dependency{
		{
			name: fmt.Sprintf("search index (%s)", c.Search.Backend),
			connect: func(context.Context) (pinger, error) {
				return search.New(c)
			},
		},
		{
			name: "Google Drive",
			connect: func(ctx context.Context) (pinger, error) {
				return newStore(ctx, c)
			},
		},
	}
}

// checkDependencies connects to and pings every dependency, reporting each one. A
// dependency that cannot be built is reported failed without stopping the others.
func checkDependencies(ctx context.Context, out io.Writer, deps []dependency, log zerolog.Logger) (failed, total int) {
	for _, d := range deps {
		err := checkOne(ctx, d)
		if err != nil {
			failed++
			log.Error().Err(err).Str("dependency", d.name).Msg("Check failed")
		}
		reportCheck(out, d.name, err)
	}
	return failed, len(deps)
}

func checkOne(ctx context.Context, d dependency) error {
	p, err := d.connect(ctx)
	if err != nil {
		return err
	}
	if c, ok := p.(io.Closer); ok {
		defer c.Close()
	}
	return p.Ping(ctx)
}

func reportCheck(out io.Writer, name string, err error) {
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "✗ %s: %v\n", name, err)
		return
	}
	color.New(color.FgGreen).Fprintf(out, "✓ %s\n", name)
}
