package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullManifest(t *testing.T) {
	src := []byte(`
workspace: "research"
frames: ["papers", "notes"]
node: id: "node-a"
store: "a.db"
peers: [{id: "node-b", store: "b.db"}]
retry: {
	attempts: 2
	base_delay_ms: 250
}
`)
	m, err := Parse(src, "manifest.cue")
	require.NoError(t, err)

	assert.Equal(t, "research", m.Workspace)
	assert.Equal(t, []string{"papers", "notes"}, m.Frames)
	assert.Equal(t, "node-a", m.Node.ID)
	assert.Equal(t, "a.db", m.Store)
	require.Len(t, m.Peers, 1)
	assert.Equal(t, Peer{ID: "node-b", Store: "b.db"}, m.Peers[0])
	assert.Equal(t, 2, m.Retry.Attempts)
	assert.Equal(t, 250, m.Retry.BaseDelayMS)
}

func TestParse_DefaultsApplied(t *testing.T) {
	src := []byte(`
workspace: "research"
node: id: "node-a"
`)
	m, err := Parse(src, "manifest.cue")
	require.NoError(t, err)

	assert.Empty(t, m.Frames)
	assert.Equal(t, "cairn.db", m.Store)
	assert.Empty(t, m.Peers)
	assert.Equal(t, 4, m.Retry.Attempts)
	assert.Equal(t, 1000, m.Retry.BaseDelayMS)
}

func TestParse_MissingWorkspace(t *testing.T) {
	src := []byte(`node: id: "node-a"`)
	_, err := Parse(src, "manifest.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestParse_EmptyNodeID(t *testing.T) {
	src := []byte(`
workspace: "research"
node: id: ""
`)
	_, err := Parse(src, "manifest.cue")
	require.Error(t, err)
}

func TestParse_AttemptsOutOfRange(t *testing.T) {
	src := []byte(`
workspace: "research"
node: id: "node-a"
retry: attempts: 0
`)
	_, err := Parse(src, "manifest.cue")
	require.Error(t, err)
}

func TestParse_PeerWithoutStore(t *testing.T) {
	src := []byte(`
workspace: "research"
node: id: "node-a"
peers: [{id: "node-b"}]
`)
	_, err := Parse(src, "manifest.cue")
	require.Error(t, err)
}

func TestParse_MalformedCUE(t *testing.T) {
	_, err := Parse([]byte(`workspace: {`), "manifest.cue")
	require.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace: "research"
node: id: "node-a"
`), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", m.Node.ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
}

func TestRetry_Policy(t *testing.T) {
	p := Retry{Attempts: 3, BaseDelayMS: 500}.Policy()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
}

func TestManifest_PeerLookup(t *testing.T) {
	m := &Manifest{Peers: []Peer{{ID: "node-b", Store: "b.db"}}}

	p, ok := m.Peer("node-b")
	require.True(t, ok)
	assert.Equal(t, "b.db", p.Store)

	_, ok = m.Peer("node-z")
	assert.False(t, ok)
}
