package synctest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLoadScenario_Defaults(t *testing.T) {
	path := writeScenario(t, `
name: defaults
nodes:
  - id: node-a
    events:
      - {id: e1, actor: alice, clock: 1}
  - id: node-b
sync: {from: node-a, to: node-b}
expect: {received: 0, sent: 1}
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "ws", s.Workspace)
	assert.Equal(t, "ws", s.Nodes[0].Workspace)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, "given", s.Nodes[0].Events[0].Type)
	assert.Equal(t, "node-a", s.Nodes[0].Events[0].Node)
}

func TestLoadScenario_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing name": `
nodes: [{id: a}, {id: b}]
sync: {from: a, to: b}
`,
		"one node": `
name: x
nodes: [{id: a}]
sync: {from: a, to: a}
`,
		"unknown sync target": `
name: x
nodes: [{id: a}, {id: b}]
sync: {from: a, to: c}
`,
		"self sync": `
name: x
nodes: [{id: a}, {id: b}]
sync: {from: a, to: a}
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, src))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenarios_SortedByFilename(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := map[string]bool{}
	for _, s := range scenarios {
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
	assert.True(t, names["basic-exchange"])
	assert.True(t, names["workspace-mismatch"])
}
