package cli

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/cairnlog/cairn/internal/config"
	"github.com/cairnlog/cairn/internal/eventlog"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/syncer"
)

// node bundles the opened pieces of a cairn node: manifest, store, log, and
// sync engine.
type node struct {
	manifest *config.Manifest
	store    *store.Store
	log      *eventlog.Log
	engine   *syncer.Engine
	logger   *slog.Logger
}

// openNode loads the manifest and opens the node it describes. The store
// path resolves relative to the manifest's directory.
func openNode(ctx context.Context, opts *RootOptions) (*node, func(), error) {
	manifest, err := config.Load(opts.Manifest)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load manifest", err)
	}

	logger := newLogger(opts)

	st, err := store.Open(resolveStorePath(opts.Manifest, manifest.Store))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}

	l, err := eventlog.Open(ctx, st, manifest.Workspace, manifest.Node.ID, logger)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open log", err)
	}

	eng := syncer.New(l, st,
		syncer.WithLogger(logger),
		syncer.WithRetryPolicy(manifest.Retry.Policy()),
		syncer.WithFrames(manifest.Frames),
	)

	cleanup := func() {
		eng.Close()
		st.Close()
	}
	return &node{manifest: manifest, store: st, log: l, engine: eng, logger: logger}, cleanup, nil
}

// openPeerNode opens a peer's store for loopback sync. The peer runs with
// the same workspace and its manifest-declared identity.
func openPeerNode(ctx context.Context, local *node, peer config.Peer, manifestPath string, logger *slog.Logger) (*node, func(), error) {
	st, err := store.Open(resolveStorePath(manifestPath, peer.Store))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open peer store", err)
	}

	l, err := eventlog.Open(ctx, st, local.manifest.Workspace, peer.ID, logger)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open peer log", err)
	}

	eng := syncer.New(l, st, syncer.WithLogger(logger))
	cleanup := func() {
		eng.Close()
		st.Close()
	}
	return &node{manifest: local.manifest, store: st, log: l, engine: eng, logger: logger}, cleanup, nil
}

func resolveStorePath(manifestPath, storePath string) string {
	if filepath.IsAbs(storePath) {
		return storePath
	}
	return filepath.Join(filepath.Dir(manifestPath), storePath)
}
