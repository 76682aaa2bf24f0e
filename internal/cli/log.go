package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cairnlog/cairn/internal/event"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Actor string
	Type  string
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "log",
		Short:         "List events in the local log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "filter by actor")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by event type")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	n, cleanup, err := openNode(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	events := []event.Event{}
	for _, e := range n.log.All() {
		if opts.Actor != "" && e.Actor != opts.Actor {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		events = append(events, e)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(events, func(w io.Writer) {
		for _, e := range events {
			fmt.Fprintf(w, "%s  %s  %s  clock=%d  parents=[%s]\n",
				shortID(e.ID), e.Type, e.Actor, e.LogicalClock, strings.Join(shortIDs(e.Parents), " "))
		}
		fmt.Fprintf(w, "%d event(s)\n", len(events))
	})
}

// NewHeadsCommand creates the heads command.
func NewHeadsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "heads",
		Short:         "List the DAG heads of the local log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeads(rootOpts, cmd)
		},
	}
	return cmd
}

func runHeads(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	n, cleanup, err := openNode(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	heads := n.log.Heads()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(heads, func(w io.Writer) {
		for _, id := range heads {
			fmt.Fprintln(w, id)
		}
	})
}

// shortID truncates content-addressed IDs for text output. Caller-assigned
// short IDs pass through untouched.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func shortIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = shortID(id)
	}
	return out
}
