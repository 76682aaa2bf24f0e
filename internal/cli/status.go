package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status <peer-id>",
		Short:         "Show the durable sync history for a peer",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, peerID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	n, cleanup, err := openNode(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	attempts, err := n.engine.History(ctx, peerID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read sync history", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(attempts, func(w io.Writer) {
		if len(attempts) == 0 {
			fmt.Fprintf(w, "no sync history for %s\n", peerID)
			return
		}
		for _, a := range attempts {
			fmt.Fprintf(w, "%s  %s  attempts=%d  %s\n", a.Token, a.Outcome, a.Attempts, a.Detail)
		}
	})
}
