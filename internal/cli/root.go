// Package cli is the operator command line: the scheduled maintenance entry
// point plus the admin operations of the HTTP surface.
package cli

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"
	"github.com/xelth-com/stocksyncgo/internal/app"
	"github.com/xelth-com/stocksyncgo/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Open builds the service and returns its release func; replaced in tests
	Open func() (*app.App, func(), error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the stocksyncctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openFromEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stocksyncctl",
		Short:         "Operate the stock synchronization service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			if !opts.Verbose {
				log.SetOutput(io.Discard)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newProcessQueueCommand(opts))
	cmd.AddCommand(newRetryFailedCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newScanMapCommand(opts))
	cmd.AddCommand(newDuplicatesCommand(opts))
	cmd.AddCommand(newDiscrepanciesCommand(opts))
	cmd.AddCommand(newTestStoreCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newGenKeyCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withApp opens the service, runs fn and closes it again
func (o *RootOptions) withApp(fn func(a *app.App) error) error {
	a, release, err := o.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	defer release()
	return fn(a)
}

func openFromEnv() (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	syncCfg, err := config.LoadSyncConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, syncCfg)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { _ = a.Close() }, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
