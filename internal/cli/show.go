package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/numbering/numbering"
)

// SeriesOutput is a series counter in JSON output.
type SeriesOutput struct {
	Prefix    string `json:"prefix"`
	LastID    int64  `json:"last_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <prefix>",
		Short: "Show the counter of a series",
		Long: `Show the last issued id of a series without changing it.
Pass "" for the empty prefix.

Examples:
  numbering show INV-
  numbering show "" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, prefix string, cmd *cobra.Command) error {
	e, err := opts.openEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	alloc, err := e.newAllocator(nil)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	s, err := alloc.Series(cmd.Context(), prefix)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		if errors.Is(err, numbering.ErrSeriesNotFound) {
			return WrapExitError(ExitFailure, fmt.Sprintf("series %q not found", prefix), err)
		}
		return allocationExitError("failed to read series", err)
	}

	out := SeriesOutput{
		Prefix:    s.Prefix,
		LastID:    s.LastID,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	text := fmt.Sprintf("prefix:     %q\nlast_id:    %d\ncreated_at: %s\nupdated_at: %s\n",
		out.Prefix, out.LastID, out.CreatedAt, out.UpdatedAt)
	return formatter.Success(out, text)
}
