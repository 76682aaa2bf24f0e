package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cairnlog/cairn/internal/event"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/vclock"
)

// AppendStatus classifies the outcome of an Append.
type AppendStatus string

const (
	// StatusApplied means the event was validated, persisted, and indexed.
	StatusApplied AppendStatus = "applied"

	// StatusDuplicate means the event ID is already in the log. Duplicates
	// are not an error: content-addressed IDs make re-delivery a no-op.
	StatusDuplicate AppendStatus = "duplicate"

	// StatusParked means the event references parents the log has not seen
	// yet. It is held in memory and applied automatically once every missing
	// ancestor arrives.
	StatusParked AppendStatus = "parked"

	// StatusRejected means the event failed validation and was discarded.
	StatusRejected AppendStatus = "rejected"
)

// AppendResult reports what happened to a single appended event.
type AppendResult struct {
	Status AppendStatus

	// Errors holds validation failures when Status is StatusRejected.
	Errors []string

	// WaitingFor holds the missing ancestor IDs when Status is StatusParked.
	WaitingFor []string

	// Cascaded holds IDs of previously parked events that were applied as a
	// consequence of this append, in application order.
	Cascaded []string
}

// Log is the in-memory index over a durable event store.
//
// All reads are served from memory; every applied event is written through to
// the store before it becomes visible. On open the index is rebuilt by
// replaying the store, so a Log and its store never disagree.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Log struct {
	mu sync.Mutex

	store     *store.Store
	workspace string
	nodeID    string
	logger    *slog.Logger

	clock  *Clock
	vclock *vclock.Clock
	seq    int64

	events map[string]event.Event
	order  []string
	heads  map[string]bool

	// targets indexes applied event IDs by their payload target, in
	// application order. Conflict detection scans per-target, not the whole
	// log.
	targets map[string][]string

	// parked indexes events waiting on a missing ancestor, keyed by the
	// ancestor ID. One event may appear under several keys.
	parked map[string][]event.Event
}

// Open replays the store into a fresh in-memory index.
//
// Replay order is the store's deterministic order, so heads and the vector
// clock come out identical on every open.
func Open(ctx context.Context, st *store.Store, workspace, nodeID string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Log{
		store:     st,
		workspace: workspace,
		nodeID:    nodeID,
		logger:    logger,
		clock:     NewClock(),
		vclock:    vclock.New(nodeID),
		events:    make(map[string]event.Event),
		heads:     make(map[string]bool),
		targets:   make(map[string][]string),
		parked:    make(map[string][]event.Event),
	}

	events, err := st.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	for _, e := range events {
		l.index(e)
	}

	l.seq, err = st.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	logger.Info("log opened",
		"workspace", workspace,
		"node_id", nodeID,
		"events", len(events),
		"heads", len(l.heads))

	return l, nil
}

// index adds an already-persisted event to the in-memory structures.
// Caller must hold l.mu (or be inside Open before the Log escapes).
func (l *Log) index(e event.Event) {
	l.events[e.ID] = e
	l.order = append(l.order, e.ID)

	l.heads[e.ID] = true
	for _, p := range e.Parents {
		delete(l.heads, p)
	}

	if target, ok := e.Target(); ok {
		l.targets[target] = append(l.targets[target], e.ID)
	}

	l.clock.Observe(e.LogicalClock)
	if e.Context.NodeID != "" {
		l.vclock.Observe(e.Context.NodeID, e.LogicalClock)
	}
}

// validate checks the structural invariants every event must satisfy before
// it can enter the log. Returns a list of human-readable failures.
func validate(e event.Event) []string {
	var errs []string
	if e.ID == "" {
		errs = append(errs, "missing event ID")
	}
	if e.Actor == "" {
		errs = append(errs, "missing actor")
	}
	if e.Type == "" {
		errs = append(errs, "missing event type")
	}
	for i, p := range e.Parents {
		if p == "" {
			errs = append(errs, fmt.Sprintf("empty parent ID at index %d", i))
		}
	}
	return errs
}

// Append validates and applies one event, parking it if ancestors are
// missing. Applying an event may cascade: parked events whose last missing
// ancestor just arrived are applied in the same call, recursively.
func (l *Log) Append(ctx context.Context, e event.Event) (AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(ctx, e)
}

func (l *Log) append(ctx context.Context, e event.Event) (AppendResult, error) {
	if _, ok := l.events[e.ID]; ok {
		return AppendResult{Status: StatusDuplicate}, nil
	}

	if errs := validate(e); len(errs) > 0 {
		l.logger.Warn("event rejected", "event_id", e.ID, "errors", errs)
		return AppendResult{Status: StatusRejected, Errors: errs}, nil
	}

	missing := l.missingParents(e)
	if len(missing) > 0 {
		for _, id := range missing {
			l.parked[id] = append(l.parked[id], e.Clone())
		}
		l.logger.Debug("event parked", "event_id", e.ID, "waiting_for", missing)
		return AppendResult{Status: StatusParked, WaitingFor: missing}, nil
	}

	if err := l.apply(ctx, e); err != nil {
		return AppendResult{}, err
	}

	cascaded, err := l.drainParked(ctx, e.ID)
	if err != nil {
		return AppendResult{}, err
	}

	return AppendResult{Status: StatusApplied, Cascaded: cascaded}, nil
}

// missingParents returns the parent IDs of e that are not yet in the log.
func (l *Log) missingParents(e event.Event) []string {
	var missing []string
	for _, p := range e.Parents {
		if _, ok := l.events[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// apply persists and indexes an event whose parents are all present.
func (l *Log) apply(ctx context.Context, e event.Event) error {
	l.seq++
	inserted, err := l.store.WriteEvent(ctx, e, l.seq)
	if err != nil {
		l.seq--
		return fmt.Errorf("append %s: %w", e.ID, err)
	}
	if !inserted {
		// Store already had it from a previous run; rebuild-safe.
		l.seq--
	}

	l.index(e)
	l.logger.Debug("event applied", "event_id", e.ID, "type", e.Type, "actor", e.Actor)
	return nil
}

// drainParked applies every parked event unblocked by the arrival of
// arrivedID, cascading into events those unblocked in turn.
func (l *Log) drainParked(ctx context.Context, arrivedID string) ([]string, error) {
	var cascaded []string

	frontier := []string{arrivedID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		waiting := l.parked[id]
		if len(waiting) == 0 {
			continue
		}
		delete(l.parked, id)

		for _, e := range waiting {
			if _, ok := l.events[e.ID]; ok {
				continue
			}
			if len(l.missingParents(e)) > 0 {
				// Still blocked on another ancestor; its entry under that
				// key remains.
				continue
			}
			if err := l.apply(ctx, e); err != nil {
				return cascaded, err
			}
			cascaded = append(cascaded, e.ID)
			frontier = append(frontier, e.ID)
		}
	}

	return cascaded, nil
}

// AppendLocal authors a new event on this node and applies it.
//
// Parents default to the current heads when nil, so consecutive local
// appends form a chain. The logical clock and vector clock advance, and the
// ID is computed from content.
func (l *Log) AppendLocal(ctx context.Context, typ, actor string, payload event.Object, parents []string) (event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if parents == nil {
		parents = l.headsLocked()
	}

	e := event.Event{
		Type:    typ,
		Actor:   actor,
		Parents: parents,
		Context: event.Context{
			Workspace:     l.workspace,
			NodeID:        l.nodeID,
			SchemaVersion: event.SchemaVersion,
		},
		Payload:      payload,
		LogicalClock: l.clock.Current() + 1,
	}

	id, err := event.ComputeID(e)
	if err != nil {
		return event.Event{}, fmt.Errorf("append local: %w", err)
	}
	e.ID = id

	res, err := l.append(ctx, e)
	if err != nil {
		return event.Event{}, err
	}
	switch res.Status {
	case StatusApplied, StatusDuplicate:
		return e, nil
	case StatusRejected:
		return event.Event{}, fmt.Errorf("append local: rejected: %v", res.Errors)
	default:
		return event.Event{}, fmt.Errorf("append local: unexpected status %s", res.Status)
	}
}

// Get returns an applied event by ID. Parked events are not visible.
func (l *Log) Get(id string) (event.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.events[id]
	if !ok {
		return event.Event{}, false
	}
	return e.Clone(), true
}

// Contains reports whether an applied event with the given ID exists.
func (l *Log) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.events[id]
	return ok
}

// All returns every applied event in application order.
func (l *Log) All() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.Event, 0, len(l.order))
	for _, id := range l.order {
		ev := l.events[id]
		out = append(out, ev.Clone())
	}
	return out
}

// AllIDs returns every applied event ID in application order.
func (l *Log) AllIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.order...)
}

// Len returns the number of applied events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Heads returns the IDs of events with no known children, sorted.
func (l *Log) Heads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headsLocked()
}

func (l *Log) headsLocked() []string {
	heads := make([]string, 0, len(l.heads))
	for id := range l.heads {
		heads = append(heads, id)
	}
	sort.Strings(heads)
	return heads
}

// EventsByTarget returns applied events whose payload names the given
// target, in application order.
func (l *Log) EventsByTarget(target string) []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.targets[target]
	out := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		ev := l.events[id]
		out = append(out, ev.Clone())
	}
	return out
}

// VectorClock returns a snapshot of the per-node counters.
func (l *Log) VectorClock() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vclock.Export()
}

// MergeVectorClock folds a remote snapshot into the local vector clock,
// taking the pointwise maximum.
func (l *Log) MergeVectorClock(remote map[string]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vclock.Merge(remote)
}

// LogicalClock returns the current logical clock value.
func (l *Log) LogicalClock() int64 {
	return l.clock.Current()
}

// ParkedCount returns the number of distinct events currently parked.
func (l *Log) ParkedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	for _, waiting := range l.parked {
		for _, e := range waiting {
			if _, applied := l.events[e.ID]; !applied {
				seen[e.ID] = true
			}
		}
	}
	return len(seen)
}

// Workspace returns the workspace this log belongs to.
func (l *Log) Workspace() string { return l.workspace }

// NodeID returns the local node identity.
func (l *Log) NodeID() string { return l.nodeID }
