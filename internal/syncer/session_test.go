package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnlog/cairn/internal/bloom"
	"github.com/cairnlog/cairn/internal/event"
	"github.com/cairnlog/cairn/internal/eventlog"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/wire"
)

type testNode struct {
	log    *eventlog.Log
	store  *store.Store
	engine *Engine
}

func createTestNode(t *testing.T, nodeID string, opts ...Option) *testNode {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	l, err := eventlog.Open(context.Background(), st, "ws", nodeID, logger)
	require.NoError(t, err)

	opts = append([]Option{
		WithLogger(logger),
		WithTokenGenerator(&seqTokens{}),
	}, opts...)
	eng := New(l, st, opts...)
	t.Cleanup(eng.Close)

	return &testNode{log: l, store: st, engine: eng}
}

// seqTokens generates tok-1, tok-2, ... without a fixed budget.
type seqTokens struct{ n int }

func (g *seqTokens) Generate() string {
	g.n++
	return fmt.Sprintf("tok-%d", g.n)
}

func importBloom(inv wire.Inv) (*bloom.Filter, error) {
	return bloom.Import(inv.Bloom)
}

func (n *testNode) session(t *testing.T, remoteID string) *Session {
	t.Helper()
	return n.engine.sessionFor(remoteID)
}

// peerEvent builds an event as a remote node would ship it.
func peerEvent(id, actor, nodeID, target string, clock int64, parents ...string) event.Event {
	if parents == nil {
		parents = []string{}
	}
	payload := event.Object{}
	if target != "" {
		payload["recordId"] = event.String(target)
	}
	return event.Event{
		ID:      id,
		Type:    "given",
		Actor:   actor,
		Parents: parents,
		Context: event.Context{
			Workspace:     "ws",
			NodeID:        nodeID,
			SchemaVersion: event.SchemaVersion,
		},
		Payload:      payload,
		LogicalClock: clock,
	}
}

func TestScopeHandshake_Accepted(t *testing.T) {
	a := createTestNode(t, "node-a")
	b := createTestNode(t, "node-b")

	sa := a.session(t, "node-b")
	sb := b.session(t, "node-a")

	scope := sa.ScopeMessage()
	assert.Equal(t, "ws", scope.Workspace)
	assert.Equal(t, "node-a", scope.NodeID)
	assert.Equal(t, wire.ProtocolVersion, scope.ProtocolVersion)

	reply := sb.HandleScope(scope)
	ack, ok := reply.(wire.ScopeAck)
	require.True(t, ok, "expected SCOPE_ACK, got %T", reply)
	assert.Equal(t, "ws", ack.Workspace)
	assert.Equal(t, "node-b", ack.NodeID)

	sa.HandleScopeAck(ack)
	require.NoError(t, sa.requireScoped())
	require.NoError(t, sb.requireScoped())
}

func TestScopeHandshake_VersionMismatch(t *testing.T) {
	b := createTestNode(t, "node-b")
	sb := b.session(t, "node-a")

	scope := wire.Scope{
		Workspace:       "ws",
		NodeID:          "node-a",
		ProtocolVersion: "999",
	}
	reply := sb.HandleScope(scope)
	refuse, ok := reply.(wire.Refuse)
	require.True(t, ok)
	assert.Equal(t, ReasonUnsupportedProtocolVersion, refuse.Reason)
	assert.Error(t, sb.requireScoped())
}

func TestScopeHandshake_WorkspaceMismatch(t *testing.T) {
	b := createTestNode(t, "node-b")
	sb := b.session(t, "node-a")

	scope := wire.Scope{
		Workspace:       "other-ws",
		NodeID:          "node-a",
		ProtocolVersion: wire.ProtocolVersion,
	}
	reply := sb.HandleScope(scope)
	refuse, ok := reply.(wire.Refuse)
	require.True(t, ok)
	assert.Equal(t, ReasonWorkspaceMismatch, refuse.Reason)
}

func TestInvMessage_FilterCoversAllEvents(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()

	_, err := a.log.Append(ctx, peerEvent("e1", "alice", "node-a", "r1", 1))
	require.NoError(t, err)
	_, err = a.log.Append(ctx, peerEvent("e2", "alice", "node-a", "r1", 2, "e1"))
	require.NoError(t, err)

	inv := a.session(t, "node-b").InvMessage()
	assert.Equal(t, 2, inv.Count)
	assert.Equal(t, []string{"e2"}, inv.Heads)

	f, err := importBloom(inv)
	require.NoError(t, err)
	assert.True(t, f.MightContain("e1"))
	assert.True(t, f.MightContain("e2"))
}

func TestHandleInv_DiffsInventories(t *testing.T) {
	a := createTestNode(t, "node-a")
	b := createTestNode(t, "node-b")
	ctx := context.Background()

	// Shared history plus one unique event per side.
	shared := peerEvent("shared", "alice", "node-a", "r1", 1)
	_, err := a.log.Append(ctx, shared)
	require.NoError(t, err)
	_, err = b.log.Append(ctx, shared)
	require.NoError(t, err)
	_, err = a.log.Append(ctx, peerEvent("only-a", "alice", "node-a", "r2", 2, "shared"))
	require.NoError(t, err)
	_, err = b.log.Append(ctx, peerEvent("only-b", "bob", "node-b", "r3", 2, "shared"))
	require.NoError(t, err)

	sa := a.session(t, "node-b")
	have, want, err := sa.HandleInv(b.session(t, "node-a").InvMessage())
	require.NoError(t, err)

	assert.Contains(t, have.IDs, "only-a", "local event missing from remote filter is offered")
	assert.NotContains(t, have.IDs, "shared")
	assert.Equal(t, []string{"only-b"}, want.IDs, "remote head missing locally is requested")
}

func TestSendMessage_VerbatimAndFiltered(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()

	e := peerEvent("e1", "alice", "node-a", "r1", 1)
	_, err := a.log.Append(ctx, e)
	require.NoError(t, err)

	send := a.session(t, "node-b").SendMessage([]string{"e1", "unknown"})
	require.Len(t, send.Events, 1)
	assert.Equal(t, e, send.Events[0], "events ship verbatim, actor included")
}

func TestApplyEvents_Classification(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	noActor := peerEvent("no-actor", "", "node-b", "r1", 1)
	outside := peerEvent("outside", "bob", "node-b", "r1", 1)
	outside.Context.Workspace = "other-ws"
	orphan := peerEvent("orphan", "bob", "node-b", "r1", 3, "missing-parent")
	good := peerEvent("good", "bob", "node-b", "r1", 1)

	res, err := s.ApplyEvents(ctx, []event.Event{noActor, outside, orphan, good})
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, Rejection{EventID: "no-actor", Reason: ReasonMissingActor}, res.Rejected[0])
	assert.Equal(t, Rejection{EventID: "outside", Reason: ReasonOutsideScope}, res.Rejected[1])
	require.Len(t, res.Parked, 1)
	assert.Equal(t, "orphan", res.Parked[0].EventID)
	assert.Equal(t, []string{"missing-parent"}, res.Parked[0].WaitingFor)
	assert.Empty(t, res.Conflicts)
}

func TestApplyEvents_DuplicateTreatedAsAccepted(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	e := peerEvent("e1", "bob", "node-b", "r1", 1)
	_, err := s.ApplyEvents(ctx, []event.Event{e})
	require.NoError(t, err)

	res, err := s.ApplyEvents(ctx, []event.Event{e})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, res.Accepted, "idempotent re-receipt")
	assert.Empty(t, res.Rejected)
}

func TestApplyEvents_ParkedThenCascades(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	child := peerEvent("child", "bob", "node-b", "r1", 2, "parent")
	res, err := s.ApplyEvents(ctx, []event.Event{child})
	require.NoError(t, err)
	require.Len(t, res.Parked, 1)

	// Parent arrives in a later batch; the parked child lands with it.
	parent := peerEvent("parent", "bob", "node-b", "r1", 1)
	res, err = s.ApplyEvents(ctx, []event.Event{parent})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "child"}, res.Accepted)
	assert.True(t, a.log.Contains("child"))
}

func TestApplyEvents_CascadedEventStillDetectsConflict(t *testing.T) {
	ctx := context.Background()

	// edit-a branches from root plus an aux event the local node has not
	// seen, so arrival order decides whether it applies directly or parks
	// and lands through the cascade.
	editA := peerEvent("edit-a", "bob", "node-b", "rec-1", 3, "root", "aux")
	aux := peerEvent("aux", "bob", "node-b", "", 2, "root")

	apply := func(t *testing.T, batches ...[]event.Event) []wire.Conflict {
		t.Helper()
		a := createTestNode(t, "node-a")
		_, err := a.log.Append(ctx, peerEvent("root", "alice", "node-a", "rec-1", 1))
		require.NoError(t, err)
		_, err = a.log.Append(ctx, peerEvent("edit-b", "alice", "node-a", "rec-1", 2, "root"))
		require.NoError(t, err)

		s := a.session(t, "node-b")
		conflicts := []wire.Conflict{}
		for _, batch := range batches {
			res, err := s.ApplyEvents(ctx, batch)
			require.NoError(t, err)
			conflicts = append(conflicts, res.Conflicts...)
		}
		require.True(t, a.log.Contains("edit-a"))
		return conflicts
	}

	inOrder := apply(t, []event.Event{aux, editA})
	require.Len(t, inOrder, 1)
	assert.Equal(t, []string{"edit-b", "edit-a"}, inOrder[0].EventIDs)

	// Reversed arrival: edit-a parks on the missing aux, then cascades in
	// when aux lands. The same conflict must surface.
	cascaded := apply(t, []event.Event{editA}, []event.Event{aux})
	require.Len(t, cascaded, 1)
	assert.Equal(t, "concurrent_update", cascaded[0].ConflictType)
	assert.Equal(t, inOrder[0].EventIDs, cascaded[0].EventIDs)
}

func TestApplyEvents_ConcurrentEditConflictsButAccepts(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	// Local: root -> local-edit, both touching rec-1.
	_, err := a.log.Append(ctx, peerEvent("root", "alice", "node-a", "rec-1", 1))
	require.NoError(t, err)
	_, err = a.log.Append(ctx, peerEvent("local-edit", "alice", "node-a", "rec-1", 2, "root"))
	require.NoError(t, err)

	// Remote edit branched from root: concurrent with local-edit.
	remote := peerEvent("remote-edit", "bob", "node-b", "rec-1", 2, "root")
	res, err := s.ApplyEvents(ctx, []event.Event{remote})
	require.NoError(t, err)

	assert.Equal(t, []string{"remote-edit"}, res.Accepted, "conflicts never block acceptance")
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "concurrent_update", c.ConflictType)
	assert.Equal(t, []string{"local-edit", "remote-edit"}, c.EventIDs)
	assert.Equal(t, "node-a", c.DetectedBy)

	// root is an ancestor of remote-edit, so it must not conflict.
	for _, conflict := range res.Conflicts {
		assert.NotContains(t, conflict.EventIDs, "root")
	}
}

func TestApplyEvents_DuplicateDoesNotRereportConflict(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	_, err := a.log.Append(ctx, peerEvent("root", "alice", "node-a", "rec-1", 1))
	require.NoError(t, err)
	_, err = a.log.Append(ctx, peerEvent("local-edit", "alice", "node-a", "rec-1", 2, "root"))
	require.NoError(t, err)

	remote := peerEvent("remote-edit", "bob", "node-b", "rec-1", 2, "root")
	res, err := s.ApplyEvents(ctx, []event.Event{remote})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)

	res, err = s.ApplyEvents(ctx, []event.Event{remote})
	require.NoError(t, err)
	assert.Equal(t, []string{"remote-edit"}, res.Accepted, "still an idempotent accept")
	assert.Empty(t, res.Conflicts, "conflict was recorded on first application")
}

func TestApplyEvents_AncestorIsNotAConflict(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	_, err := a.log.Append(ctx, peerEvent("root", "alice", "node-a", "rec-1", 1))
	require.NoError(t, err)

	// Linear descendant of root touching the same target.
	child := peerEvent("child", "bob", "node-b", "rec-1", 2, "root")
	res, err := s.ApplyEvents(ctx, []event.Event{child})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts, "causally ordered edits are not conflicts")
}

func TestApplyEvents_VectorClockAdvances(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	_, err := s.ApplyEvents(ctx, []event.Event{peerEvent("e1", "bob", "node-b", "r1", 9)})
	require.NoError(t, err)

	assert.Equal(t, int64(9), a.log.VectorClock()["node-b"])
}

func TestRecordSyncSuccess_DurableEventAndAudit(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	e, err := s.RecordSyncSuccess(ctx, Stats{Received: 2, Sent: 1, Conflicts: 0}, 1)
	require.NoError(t, err)

	assert.Equal(t, "given", e.Type)
	assert.Equal(t, "system", e.Actor)
	assert.Equal(t, event.String("sync:success"), e.Payload["kind"])
	assert.Equal(t, event.Int(2), e.Payload["received"])
	assert.True(t, a.log.Contains(e.ID), "outcome is part of the log itself")

	attempts, err := a.store.ReadSyncAttempts(ctx, "node-b")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "success", attempts[0].Outcome)
	assert.Equal(t, e.ID, attempts[0].EventID)
}

func TestRecordSyncFailure_DurableEventAndAudit(t *testing.T) {
	a := createTestNode(t, "node-a")
	ctx := context.Background()
	s := a.session(t, "node-b")

	e, err := s.RecordSyncFailure(ctx, assert.AnError, 4)
	require.NoError(t, err)

	assert.Equal(t, "system", e.Actor)
	assert.Equal(t, event.String("sync:failure"), e.Payload["kind"])
	assert.Equal(t, event.Bool(true), e.Payload["finalAttempt"])
	assert.Equal(t, event.Int(4), e.Payload["attempts"])

	attempts, err := a.store.ReadSyncAttempts(ctx, "node-b")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "failure", attempts[0].Outcome)
	assert.Equal(t, 4, attempts[0].Attempts)
}

func TestHandle_RequiresScope(t *testing.T) {
	a := createTestNode(t, "node-a")
	s := a.session(t, "node-b")

	_, err := s.Handle(context.Background(), wire.Want{IDs: []string{"e1"}})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}
