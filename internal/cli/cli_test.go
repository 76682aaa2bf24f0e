package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func initNode(t *testing.T, dir, workspace, nodeID, storeName string) string {
	t.Helper()
	manifest := filepath.Join(dir, nodeID+".cue")
	_, err := runCLI(t,
		"init",
		"--manifest", manifest,
		"--workspace", workspace,
		"--node", nodeID,
		"--store", storeName,
	)
	require.NoError(t, err)
	return manifest
}

func TestInit_CreatesManifestAndStore(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	_, err := os.Stat(manifest)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "a.db"))
	require.NoError(t, err)
}

func TestInit_RefusesExistingManifest(t *testing.T) {
	dir := t.TempDir()
	initNode(t, dir, "research", "node-a", "a.db")

	_, err := runCLI(t,
		"init",
		"--manifest", filepath.Join(dir, "node-a.cue"),
		"--workspace", "research",
		"--node", "node-a",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAppendAndLog(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	out, err := runCLI(t,
		"append", "given",
		"--manifest", manifest,
		"--actor", "alice",
		"--payload", `{"recordId":"rec-1","title":"Draft"}`,
	)
	require.NoError(t, err)
	firstID := out[:len(out)-1] // trailing newline
	assert.NotEmpty(t, firstID)

	_, err = runCLI(t,
		"append", "given",
		"--manifest", manifest,
		"--actor", "bob",
		"--payload", `{"recordId":"rec-2"}`,
	)
	require.NoError(t, err)

	out, err = runCLI(t, "log", "--manifest", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "2 event(s)")

	// Actor filter narrows the listing.
	out, err = runCLI(t, "log", "--manifest", manifest, "--actor", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "1 event(s)")

	// The second append chained onto the first, leaving one head.
	out, err = runCLI(t, "heads", "--manifest", manifest)
	require.NoError(t, err)
	lines := bytes.Count([]byte(out), []byte("\n"))
	assert.Equal(t, 1, lines)
}

func TestAppend_InvalidPayload(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	_, err := runCLI(t,
		"append", "given",
		"--manifest", manifest,
		"--actor", "alice",
		"--payload", `{not json`,
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAppend_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	out, err := runCLI(t,
		"append", "given",
		"--manifest", manifest,
		"--actor", "alice",
		"--format", "json",
	)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := runCLI(t, "log", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSyncAndStatus_TwoLocalNodes(t *testing.T) {
	dir := t.TempDir()
	manifestA := initNode(t, dir, "research", "node-a", "a.db")
	initNode(t, dir, "research", "node-b", "b.db")

	// Declare node-b as a peer of node-a.
	src := `
workspace: "research"
node: id: "node-a"
store: "a.db"
peers: [{id: "node-b", store: "b.db"}]
`
	require.NoError(t, os.WriteFile(manifestA, []byte(src), 0o644))

	// One event on each side.
	_, err := runCLI(t,
		"append", "given",
		"--manifest", manifestA,
		"--actor", "alice",
		"--payload", `{"recordId":"rec-a"}`,
	)
	require.NoError(t, err)
	_, err = runCLI(t,
		"append", "given",
		"--manifest", filepath.Join(dir, "node-b.cue"),
		"--actor", "bob",
		"--payload", `{"recordId":"rec-b"}`,
	)
	require.NoError(t, err)

	out, err := runCLI(t, "sync", "node-b", "--manifest", manifestA)
	require.NoError(t, err)
	assert.Contains(t, out, "received 1")
	assert.Contains(t, out, "sent 1")
	assert.Contains(t, out, "conflicts 0")

	// Both logs now hold both data events.
	out, err = runCLI(t, "log", "--manifest", manifestA, "--actor", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "1 event(s)")
	out, err = runCLI(t, "log", "--manifest", filepath.Join(dir, "node-b.cue"), "--actor", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "1 event(s)")

	// The outcome is durable and visible in status.
	out, err = runCLI(t, "status", "node-b", "--manifest", manifestA)
	require.NoError(t, err)
	assert.Contains(t, out, "success")
}

func TestSync_UnknownPeer(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	_, err := runCLI(t, "sync", "node-z", "--manifest", manifest)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not in manifest")
}

func TestStatus_NoHistory(t *testing.T) {
	dir := t.TempDir()
	manifest := initNode(t, dir, "research", "node-a", "a.db")

	out, err := runCLI(t, "status", "node-b", "--manifest", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "no sync history")
}
