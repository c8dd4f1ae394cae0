package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Driver     string // overrides store.driver
	DB         string // path, URL or DSN of the selected driver
	LogFile    string // overrides log.file
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the numbering CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "numbering",
		Short: "Collision-free sequence numbers",
		Long: `Issue human-readable sequential designators such as INV-10000, INV-10001
from a transactional store. Every designator is issued at most once.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a CUE or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (memory|sqlite|bolt|pebble|redis|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "store address: file path, redis URL or postgres DSN")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "also write logs to this rotating file")

	cmd.AddCommand(NewAllocateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
