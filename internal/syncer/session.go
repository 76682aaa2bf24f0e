package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cairnlog/cairn/internal/bloom"
	"github.com/cairnlog/cairn/internal/event"
	"github.com/cairnlog/cairn/internal/eventlog"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/wire"
)

// Session is the per-remote protocol handler. It builds and processes the
// protocol messages, classifies received events, detects concurrent edits
// via DAG ancestry, and records sync outcomes as durable events in the
// local log.
//
// A session is stateful: the scope handshake must complete before inventory
// or event exchange. State is implicit in which messages have been handled.
//
// Thread-safety: all exported methods are safe for concurrent use, but the
// engine serializes syncs per remote, so contention is rare.
type Session struct {
	mu sync.Mutex

	log      *eventlog.Log
	store    *store.Store
	logger   *slog.Logger
	tokens   TokenGenerator
	dispatch *dispatcher

	remoteID string
	frames   []string

	// negotiated remote scope, valid once scoped is true
	scoped          bool
	remoteWorkspace string
	remoteFrames    []string
	remoteNodeID    string
}

// Rejection is one event refused during ApplyEvents.
type Rejection struct {
	EventID string
	Reason  string
}

// ParkedEvent is one event held back for missing ancestors.
type ParkedEvent struct {
	EventID    string
	WaitingFor []string
}

// ApplyResult classifies every event of one SEND batch into exactly one of
// accepted, rejected, or parked; conflicts are additional information about
// accepted events, never a fourth terminal state.
type ApplyResult struct {
	Accepted  []string
	Rejected  []Rejection
	Conflicts []wire.Conflict
	Parked    []ParkedEvent
}

func newSession(log *eventlog.Log, st *store.Store, remoteID string, frames []string, tokens TokenGenerator, dispatch *dispatcher, logger *slog.Logger) *Session {
	return &Session{
		log:      log,
		store:    st,
		logger:   logger.With("remote_id", remoteID),
		tokens:   tokens,
		dispatch: dispatch,
		remoteID: remoteID,
		frames:   append([]string{}, frames...),
	}
}

// RemoteID returns the peer this session talks to.
func (s *Session) RemoteID() string { return s.remoteID }

// ScopeMessage builds the opening handshake message.
func (s *Session) ScopeMessage() wire.Scope {
	return wire.Scope{
		Workspace:       s.log.Workspace(),
		Frames:          append([]string{}, s.frames...),
		NodeID:          s.log.NodeID(),
		ProtocolVersion: wire.ProtocolVersion,
		VectorClock:     s.log.VectorClock(),
	}
}

// HandleScope processes a peer's SCOPE. On version or workspace mismatch it
// returns a REFUSE; otherwise it records the remote scope, merges vector
// clocks, and returns a SCOPE_ACK.
func (s *Session) HandleScope(msg wire.Scope) wire.Message {
	if msg.ProtocolVersion != wire.ProtocolVersion {
		s.logger.Warn("scope refused", "reason", ReasonUnsupportedProtocolVersion,
			"local_version", wire.ProtocolVersion, "remote_version", msg.ProtocolVersion)
		return wire.Refuse{Reason: ReasonUnsupportedProtocolVersion}
	}
	if msg.Workspace != s.log.Workspace() {
		s.logger.Warn("scope refused", "reason", ReasonWorkspaceMismatch,
			"local_workspace", s.log.Workspace(), "remote_workspace", msg.Workspace)
		return wire.Refuse{Reason: ReasonWorkspaceMismatch}
	}

	s.mu.Lock()
	s.scoped = true
	s.remoteWorkspace = msg.Workspace
	s.remoteFrames = append([]string{}, msg.Frames...)
	s.remoteNodeID = msg.NodeID
	s.mu.Unlock()

	s.log.MergeVectorClock(msg.VectorClock)

	return wire.ScopeAck{
		Workspace:   s.log.Workspace(),
		NodeID:      s.log.NodeID(),
		VectorClock: s.log.VectorClock(),
	}
}

// HandleScopeAck completes the initiator side of the handshake.
func (s *Session) HandleScopeAck(msg wire.ScopeAck) {
	s.mu.Lock()
	s.scoped = true
	s.remoteWorkspace = msg.Workspace
	s.remoteNodeID = msg.NodeID
	s.mu.Unlock()

	s.log.MergeVectorClock(msg.VectorClock)
}

// InvMessage advertises the local inventory: heads, count, and a Bloom
// filter over every in-scope event ID, sized 10 bits per event with a 1024
// bit floor.
func (s *Session) InvMessage() wire.Inv {
	ids := s.inScopeIDs()

	f := bloom.New(bloom.SizeFor(len(ids)), bloom.DefaultHashCount)
	for _, id := range ids {
		f.Add(id)
	}

	return wire.Inv{
		Heads:        s.log.Heads(),
		Count:        len(ids),
		Bloom:        f.Export(),
		LogicalClock: s.log.LogicalClock(),
	}
}

// HandleInv diffs the remote inventory against the local log.
//
// The HAVE side is an asymmetric push-offer: any local event the remote's
// Bloom filter does not match is offered. False positives make this an
// under-offer, never an over-offer; the WANT side and later sync rounds
// close the gap.
//
// The WANT side requests every remote head missing locally. Interior missing
// events surface through the parked mechanism once their descendants arrive.
func (s *Session) HandleInv(msg wire.Inv) (wire.Have, wire.Want, error) {
	remote, err := bloom.Import(msg.Bloom)
	if err != nil {
		return wire.Have{}, wire.Want{}, &ProtocolError{Code: "bad_inventory", Message: err.Error()}
	}

	have := []string{}
	for _, id := range s.inScopeIDs() {
		if !remote.MightContain(id) {
			have = append(have, id)
		}
	}

	want := []string{}
	for _, id := range msg.Heads {
		if !s.log.Contains(id) {
			want = append(want, id)
		}
	}

	s.logger.Debug("inventory diffed",
		"remote_count", msg.Count, "offer", len(have), "request", len(want))

	return wire.Have{IDs: have}, wire.Want{IDs: want}, nil
}

// SendMessage looks up the requested IDs and ships the events verbatim,
// actor included. Unknown and out-of-scope IDs are silently dropped from the
// batch; the requester learns what it actually got from the payload.
func (s *Session) SendMessage(ids []string) wire.Send {
	events := []event.Event{}
	for _, id := range ids {
		e, ok := s.log.Get(id)
		if !ok {
			continue
		}
		if !s.inScope(e) {
			continue
		}
		events = append(events, e)
	}
	return wire.Send{Events: events}
}

// ApplyEvents validates and applies one batch of received events,
// classifying each into accepted, rejected, or parked and recording
// conflicts for concurrent same-target edits. Events that land through a
// parked cascade are checked for conflicts at that point, so detection does
// not depend on arrival order. Conflicting events are still accepted:
// conflicts are informational, never blocking.
func (s *Session) ApplyEvents(ctx context.Context, events []event.Event) (ApplyResult, error) {
	res := ApplyResult{
		Accepted:  []string{},
		Rejected:  []Rejection{},
		Conflicts: []wire.Conflict{},
		Parked:    []ParkedEvent{},
	}

	// A cascade can surface both sides of the same concurrent pair, so
	// conflicts are deduped per batch by their event pair.
	seenPairs := make(map[string]bool)
	record := func(conflicts []wire.Conflict) {
		for _, c := range conflicts {
			key := conflictKey(c.EventIDs)
			if seenPairs[key] {
				continue
			}
			seenPairs[key] = true
			res.Conflicts = append(res.Conflicts, c)
			s.dispatch.enqueue(func(o Observer) { o.OnConflict(s.remoteID, c) })
		}
	}

	for _, e := range events {
		if e.Actor == "" {
			res.Rejected = append(res.Rejected, Rejection{EventID: e.ID, Reason: ReasonMissingActor})
			continue
		}
		if !s.inScope(e) {
			res.Rejected = append(res.Rejected, Rejection{EventID: e.ID, Reason: ReasonOutsideScope})
			continue
		}

		conflicts := s.findConcurrent(e)

		appendRes, err := s.log.Append(ctx, e)
		if err != nil {
			return res, fmt.Errorf("apply %s: %w", e.ID, err)
		}

		switch appendRes.Status {
		case eventlog.StatusApplied:
			res.Accepted = append(res.Accepted, e.ID)
			record(conflicts)
			// Cascaded events skipped detection when they parked; check
			// them now that they are in the log.
			for _, id := range appendRes.Cascaded {
				res.Accepted = append(res.Accepted, id)
				if unparked, ok := s.log.Get(id); ok {
					record(s.findConcurrent(unparked))
				}
			}
		case eventlog.StatusDuplicate:
			// Re-receipt of an applied event is a plain idempotent accept;
			// its conflicts were recorded on first application.
			res.Accepted = append(res.Accepted, e.ID)
		case eventlog.StatusParked:
			res.Parked = append(res.Parked, ParkedEvent{EventID: e.ID, WaitingFor: appendRes.WaitingFor})
		case eventlog.StatusRejected:
			reason := ReasonValidationFailed
			if len(appendRes.Errors) > 0 {
				reason = strings.Join(appendRes.Errors, ", ")
			}
			res.Rejected = append(res.Rejected, Rejection{EventID: e.ID, Reason: reason})
		}
	}

	progress := Progress{
		Accepted:  len(res.Accepted),
		Rejected:  len(res.Rejected),
		Conflicts: len(res.Conflicts),
		Parked:    len(res.Parked),
	}
	s.dispatch.enqueue(func(o Observer) { o.OnProgress(s.remoteID, progress) })

	s.logger.Info("batch applied",
		"accepted", progress.Accepted,
		"rejected", progress.Rejected,
		"conflicts", progress.Conflicts,
		"parked", progress.Parked)

	return res, nil
}

// conflictKey canonicalizes a conflict's event pair so the same pair is
// recorded once no matter which side the ancestry walk examined first.
func conflictKey(ids []string) string {
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// findConcurrent locates applied local events that edit the same target as
// the incoming event but are causally unrelated to it: neither side is an
// ancestor of the other along the parent DAG.
//
// The ancestry walk is exact where the vector clock is approximate; the
// clock positions whole nodes, the walk positions individual event pairs.
func (s *Session) findConcurrent(e event.Event) []wire.Conflict {
	target, ok := e.Target()
	if !ok {
		return nil
	}

	var conflicts []wire.Conflict
	for _, local := range s.log.EventsByTarget(target) {
		if local.ID == e.ID {
			continue
		}
		if s.log.HasAncestor(e.Parents, local.ID) {
			continue
		}
		if s.log.IsAncestor(e.ID, local.ID) {
			continue
		}
		conflicts = append(conflicts, wire.Conflict{
			ConflictType: "concurrent_update",
			EventIDs:     []string{local.ID, e.ID},
			DetectedAt:   s.log.LogicalClock(),
			DetectedBy:   s.log.NodeID(),
		})
	}
	return conflicts
}

// Handle dispatches one inbound message on the responder side.
func (s *Session) Handle(ctx context.Context, msg wire.Message) (wire.Message, error) {
	switch m := msg.(type) {
	case wire.Scope:
		return s.HandleScope(m), nil

	case wire.Inv:
		if err := s.requireScoped(); err != nil {
			return nil, err
		}
		// Reply with our own inventory; the initiator diffs both sides.
		return s.InvMessage(), nil

	case wire.Have:
		if err := s.requireScoped(); err != nil {
			return nil, err
		}
		want := []string{}
		for _, id := range m.IDs {
			if !s.log.Contains(id) {
				want = append(want, id)
			}
		}
		return wire.Want{IDs: want}, nil

	case wire.Want:
		if err := s.requireScoped(); err != nil {
			return nil, err
		}
		return s.SendMessage(m.IDs), nil

	case wire.Send:
		if err := s.requireScoped(); err != nil {
			return nil, err
		}
		res, err := s.ApplyEvents(ctx, m.Events)
		if err != nil {
			return nil, err
		}
		// Ack with the IDs that landed; the sender counts these as sent.
		return wire.Have{IDs: res.Accepted}, nil

	default:
		return nil, newUnexpectedMessage("SCOPE|INV|HAVE|WANT|SEND", msg.Type())
	}
}

func (s *Session) requireScoped() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scoped {
		return &ProtocolError{Code: "not_scoped", Message: "scope handshake has not completed"}
	}
	return nil
}

// inScope reports whether an event belongs to this session's negotiated
// scope. Events carry only a workspace in their context, so the workspace is
// the scope filter; declared frames travel in the handshake and are recorded
// for the peer but do not exclude events.
func (s *Session) inScope(e event.Event) bool {
	return e.Context.Workspace == s.log.Workspace()
}

// inScopeIDs returns the IDs of every local event in session scope, in
// application order.
func (s *Session) inScopeIDs() []string {
	ids := []string{}
	for _, e := range s.log.All() {
		if s.inScope(e) {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// RecordSyncSuccess appends a durable sync:success event (type given, actor
// system) to the local log and mirrors it into the sync_attempts audit
// table. Sync outcomes are domain events, not log lines.
func (s *Session) RecordSyncSuccess(ctx context.Context, stats Stats, attempts int) (event.Event, error) {
	payload := event.Object{
		"kind":      event.String("sync:success"),
		"remoteId":  event.String(s.remoteID),
		"received":  event.Int(stats.Received),
		"sent":      event.Int(stats.Sent),
		"conflicts": event.Int(stats.Conflicts),
		"attempts":  event.Int(attempts),
	}
	return s.recordOutcome(ctx, "success", payload, attempts)
}

// RecordSyncFailure appends a durable sync:failure event after retry
// exhaustion. The failed attempt becomes part of the auditable history.
func (s *Session) RecordSyncFailure(ctx context.Context, cause error, attempts int) (event.Event, error) {
	payload := event.Object{
		"kind":         event.String("sync:failure"),
		"remoteId":     event.String(s.remoteID),
		"error":        event.String(cause.Error()),
		"attempts":     event.Int(attempts),
		"finalAttempt": event.Bool(true),
	}
	return s.recordOutcome(ctx, "failure", payload, attempts)
}

func (s *Session) recordOutcome(ctx context.Context, outcome string, payload event.Object, attempts int) (event.Event, error) {
	e, err := s.log.AppendLocal(ctx, "given", "system", payload, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("record sync %s: %w", outcome, err)
	}

	detail, err := event.MarshalCanonical(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("record sync %s: %w", outcome, err)
	}

	attempt := store.SyncAttempt{
		Token:    s.tokens.Generate(),
		RemoteID: s.remoteID,
		Outcome:  outcome,
		Attempts: attempts,
		Detail:   string(detail),
		EventID:  e.ID,
	}
	if err := s.store.WriteSyncAttempt(ctx, attempt); err != nil {
		return event.Event{}, fmt.Errorf("record sync %s: %w", outcome, err)
	}

	s.logger.Info("sync outcome recorded", "outcome", outcome, "attempts", attempts, "event_id", e.ID)
	return e, nil
}
