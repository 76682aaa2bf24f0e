package synctest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Error    string       `json:"error,omitempty"`
	Trace    []TraceEntry `json:"trace"`
}

// RunWithGolden executes a scenario, checks its expect block, and compares
// the message trace against testdata/golden/{name}.golden.
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	r, err := Run(context.Background(), s)
	require.NoError(t, err, "harness failure")

	r.Assert(t)

	snapshot := TraceSnapshot{
		Scenario: s.Name,
		Trace:    r.Trace,
	}
	if r.Err != nil {
		snapshot.Error = r.Err.Error()
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, s.Name, data)
	return r
}
