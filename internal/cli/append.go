package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cairnlog/cairn/internal/event"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Actor   string
	Payload string
	Parents []string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <type>",
		Short: "Append an event to the local log",
		Long: `Append an event to the local log.

Parents default to the current heads, chaining the new event onto all open
branches. The event ID is computed from content and printed on success.

Example:
  cairn append given --actor alice --payload '{"recordId":"rec-1","title":"Draft"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "originating actor (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "event payload as JSON")
	cmd.Flags().StringSliceVar(&opts.Parents, "parent", nil, "explicit parent event ID (repeatable)")
	cmd.MarkFlagRequired("actor")

	return cmd
}

func runAppend(opts *AppendOptions, eventType string, cmd *cobra.Command) error {
	var payload event.Object
	if err := json.Unmarshal([]byte(opts.Payload), &payload); err != nil {
		return WrapExitError(ExitCommandError, "invalid --payload JSON", err)
	}

	ctx := cmd.Context()
	n, cleanup, err := openNode(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	e, err := n.log.AppendLocal(ctx, eventType, opts.Actor, payload, opts.Parents)
	if err != nil {
		return WrapExitError(ExitFailure, "append event", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(e, func(w io.Writer) {
		fmt.Fprintln(w, e.ID)
	})
}
