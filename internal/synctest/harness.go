package synctest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cairnlog/cairn/internal/event"
	"github.com/cairnlog/cairn/internal/eventlog"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/syncer"
	"github.com/cairnlog/cairn/internal/wire"
)

// Result holds everything a scenario run produced.
type Result struct {
	Scenario *Scenario
	Stats    syncer.Stats
	Err      error

	// Trace records the exchange from the initiator's perspective.
	Trace []TraceEntry

	// Conflicts collected from the initiator's observer.
	Conflicts []wire.Conflict

	From *eventlog.Log
	To   *eventlog.Log
}

// TraceEntry is one protocol message as seen by the initiator. Bloom filter
// bits are reduced to their parameters so traces stay hand-checkable.
type TraceEntry struct {
	Dir       string   `json:"dir"` // "send" | "recv"
	Type      string   `json:"type"`
	Workspace string   `json:"workspace,omitempty"`
	NodeID    string   `json:"node_id,omitempty"`
	Count     *int     `json:"count,omitempty"`
	BloomSize *int     `json:"bloom_size,omitempty"`
	Heads     []string `json:"heads,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	EventIDs  []string `json:"event_ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Run executes one scenario against real engines over a tracing loopback
// transport. Each node gets a fresh in-memory store.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	logger := slog.New(slog.DiscardHandler)

	logs := make(map[string]*eventlog.Log, 2)
	stores := make(map[string]*store.Store, 2)
	for _, n := range s.Nodes {
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("open store for %s: %w", n.ID, err)
		}
		defer st.Close()

		l, err := eventlog.Open(ctx, st, n.Workspace, n.ID, logger)
		if err != nil {
			return nil, fmt.Errorf("open log for %s: %w", n.ID, err)
		}

		for _, spec := range n.Events {
			res, err := l.Append(ctx, buildEvent(spec, n.Workspace))
			if err != nil {
				return nil, fmt.Errorf("seed %s on %s: %w", spec.ID, n.ID, err)
			}
			if res.Status == eventlog.StatusRejected {
				return nil, fmt.Errorf("seed %s on %s rejected: %v", spec.ID, n.ID, res.Errors)
			}
		}

		logs[n.ID] = l
		stores[n.ID] = st
	}

	collector := &conflictCollector{}

	fromEngine := syncer.New(logs[s.Sync.From], stores[s.Sync.From],
		syncer.WithLogger(logger),
		syncer.WithObserver(collector),
		syncer.WithTokenGenerator(syncer.NewFixedGenerator(s.Name+"-attempt-1", s.Name+"-attempt-2")),
		syncer.WithRetryPolicy(syncer.RetryPolicy{Attempts: s.Attempts, BaseDelay: time.Millisecond}),
		syncer.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	defer fromEngine.Close()

	toEngine := syncer.New(logs[s.Sync.To], stores[s.Sync.To], syncer.WithLogger(logger))
	defer toEngine.Close()

	transport := &tracingTransport{inner: syncer.NewLoopbackTransport(toEngine)}
	stats, err := fromEngine.SyncWith(ctx, transport, s.Sync.To)

	fromEngine.Close() // flush observer notifications before reading them

	return &Result{
		Scenario:  s,
		Stats:     stats,
		Err:       err,
		Trace:     transport.trace,
		Conflicts: collector.conflicts,
		From:      logs[s.Sync.From],
		To:        logs[s.Sync.To],
	}, nil
}

func buildEvent(spec EventSpec, workspace string) event.Event {
	parents := spec.Parents
	if parents == nil {
		parents = []string{}
	}
	payload := event.Object{}
	if spec.Target != "" {
		payload["recordId"] = event.String(spec.Target)
	}
	return event.Event{
		ID:      spec.ID,
		Type:    spec.Type,
		Actor:   spec.Actor,
		Parents: parents,
		Context: event.Context{
			Workspace:     workspace,
			NodeID:        spec.Node,
			SchemaVersion: event.SchemaVersion,
		},
		Payload:      payload,
		LogicalClock: spec.Clock,
	}
}

// conflictCollector records observer conflicts.
type conflictCollector struct {
	syncer.NopObserver

	mu        sync.Mutex
	conflicts []wire.Conflict
}

func (c *conflictCollector) OnConflict(_ string, conflict wire.Conflict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conflict)
}

// tracingTransport records every message pair crossing it.
type tracingTransport struct {
	inner syncer.Transport
	trace []TraceEntry
}

func (t *tracingTransport) Send(ctx context.Context, msg wire.Message) (wire.Message, error) {
	t.trace = append(t.trace, describe("send", msg))
	reply, err := t.inner.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	t.trace = append(t.trace, describe("recv", reply))
	return reply, err
}

func describe(dir string, msg wire.Message) TraceEntry {
	e := TraceEntry{Dir: dir, Type: msg.Type()}
	switch m := msg.(type) {
	case wire.Scope:
		e.Workspace = m.Workspace
		e.NodeID = m.NodeID
	case wire.ScopeAck:
		e.Workspace = m.Workspace
		e.NodeID = m.NodeID
	case wire.Inv:
		count := m.Count
		size := int(m.Bloom.Size)
		e.Count = &count
		e.BloomSize = &size
		e.Heads = m.Heads
	case wire.Have:
		e.IDs = m.IDs
	case wire.Want:
		e.IDs = m.IDs
	case wire.Send:
		ids := make([]string, len(m.Events))
		for i, ev := range m.Events {
			ids[i] = ev.ID
		}
		e.EventIDs = ids
	case wire.Refuse:
		e.IDs = m.IDs
		e.Reason = m.Reason
	case wire.Conflict:
		e.EventIDs = m.EventIDs
		e.Reason = m.ConflictType
	}
	return e
}
