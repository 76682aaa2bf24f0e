package synctest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnlog/cairn/internal/event"
	"github.com/cairnlog/cairn/internal/eventlog"
)

// Assert checks the run outcome against the scenario's expect block.
func (r *Result) Assert(t *testing.T) {
	t.Helper()
	expect := r.Scenario.Expect

	if expect.Error != "" {
		require.Error(t, r.Err, "scenario expects a sync failure")
		assert.Contains(t, r.Err.Error(), expect.Error)
	} else {
		require.NoError(t, r.Err)
		assert.Equal(t, expect.Received, r.Stats.Received, "received")
		assert.Equal(t, expect.Sent, r.Stats.Sent, "sent")
		assert.Equal(t, expect.Conflicts, r.Stats.Conflicts, "conflicts")
	}

	if expect.Converged {
		assert.ElementsMatch(t, dataEventIDs(r.From), dataEventIDs(r.To),
			"logs must hold the same data events")
	}

	assert.Equal(t, expect.ParkedOnFrom, r.From.ParkedCount(), "parked on initiator")

	if expect.FailureRecorded {
		assert.True(t, hasOutcomeEvent(r.From, "sync:failure"),
			"initiator must durably record the failure")
	}
}

// dataEventIDs returns event IDs excluding sync bookkeeping records.
func dataEventIDs(l *eventlog.Log) []string {
	ids := []string{}
	for _, e := range l.All() {
		if kind, ok := e.Payload["kind"].(event.String); ok {
			if kind == "sync:success" || kind == "sync:failure" {
				continue
			}
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func hasOutcomeEvent(l *eventlog.Log, kind string) bool {
	for _, e := range l.All() {
		if e.Payload["kind"] == event.String(kind) {
			return true
		}
	}
	return false
}
