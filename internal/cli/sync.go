package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cairnlog/cairn/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <peer-id>",
		Short: "Synchronize the local log with a peer",
		Long: `Synchronize the local log with a peer.

The peer must be declared in the manifest. Sync runs over the loopback
transport against the peer's store: both sides exchange inventories, pull
and push missing events, and record the outcome durably in their logs.
Failed attempts retry with exponential backoff before giving up.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, peerID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	n, cleanup, err := openNode(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	peer, ok := n.manifest.Peer(peerID)
	if !ok {
		return WrapExitError(ExitCommandError, fmt.Sprintf("peer %q not in manifest", peerID), nil)
	}

	remote, peerCleanup, err := openPeerNode(ctx, n, peer, opts.Manifest, n.logger)
	if err != nil {
		return err
	}
	defer peerCleanup()

	transport := syncer.NewLoopbackTransport(remote.engine)
	stats, err := n.engine.SyncWith(ctx, transport, peer.ID)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("sync with %s", peer.ID), err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(stats, func(w io.Writer) {
		fmt.Fprintf(w, "Synced with %s: received %d, sent %d, conflicts %d\n",
			peer.ID, stats.Received, stats.Sent, stats.Conflicts)
	})
}
