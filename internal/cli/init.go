package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cairnlog/cairn/internal/config"
	"github.com/cairnlog/cairn/internal/store"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Workspace string
	NodeID    string
	Store     string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a node manifest and an empty store",
		Long: `Create a node manifest and an empty store.

Example:
  cairn init --workspace research --node node-a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace name (required)")
	cmd.Flags().StringVar(&opts.NodeID, "node", "", "node identity (required)")
	cmd.Flags().StringVar(&opts.Store, "store", "cairn.db", "store path, relative to the manifest")
	cmd.MarkFlagRequired("workspace")
	cmd.MarkFlagRequired("node")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Manifest); err == nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("manifest already exists: %s", opts.Manifest), nil)
	}

	src := fmt.Sprintf(`workspace: %q

node: id: %q

store: %q

peers: []
`, opts.Workspace, opts.NodeID, opts.Store)

	// Validate the generated manifest before writing anything.
	if _, err := config.Parse([]byte(src), opts.Manifest); err != nil {
		return WrapExitError(ExitCommandError, "invalid manifest parameters", err)
	}

	if err := os.WriteFile(opts.Manifest, []byte(src), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write manifest", err)
	}

	st, err := store.Open(resolveStorePath(opts.Manifest, opts.Store))
	if err != nil {
		return WrapExitError(ExitCommandError, "create store", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	data := map[string]string{
		"manifest":  opts.Manifest,
		"workspace": opts.Workspace,
		"node_id":   opts.NodeID,
		"store":     opts.Store,
	}
	return formatter.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "Initialized node %s in workspace %s\n", opts.NodeID, opts.Workspace)
		fmt.Fprintf(w, "  manifest: %s\n", opts.Manifest)
		fmt.Fprintf(w, "  store:    %s\n", opts.Store)
	})
}
