package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cairnlog/cairn/internal/eventlog"
	"github.com/cairnlog/cairn/internal/store"
	"github.com/cairnlog/cairn/internal/wire"
)

// RetryPolicy controls the SyncWith retry loop.
type RetryPolicy struct {
	// Attempts is the total number of tries, first attempt included.
	Attempts int

	// BaseDelay is the wait before the second attempt. Each further wait
	// doubles: base, 2x, 4x, ...
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries a failed sync three times after the initial
// attempt, starting at one second.
var DefaultRetryPolicy = RetryPolicy{Attempts: 4, BaseDelay: time.Second}

// Engine is the top-level sync orchestrator. It owns one Session per remote
// peer, drives the protocol exchange over an abstract transport, and wraps
// every sync in a retry loop with exponential backoff.
//
// Syncs are single-flight per remote: a second SyncWith for the same remote
// while one is running returns ErrSyncInProgress.
type Engine struct {
	log    *eventlog.Log
	store  *store.Store
	logger *slog.Logger
	tokens TokenGenerator
	retry  RetryPolicy
	frames []string

	dispatch *dispatcher

	// sleep waits between attempts; injectable so tests retry without
	// real delays.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[string]*Session
	inflight map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithObserver registers the observer notified of sync lifecycle events.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.dispatch = newDispatcher(o) }
}

// WithTokenGenerator overrides the UUIDv7 attempt token generator.
// Tests pass a FixedGenerator for deterministic audit rows.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithFrames narrows the sync scope to the named frames.
func WithFrames(frames []string) Option {
	return func(e *Engine) { e.frames = append([]string{}, frames...) }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSleeper overrides the backoff sleep. Test hook.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// New creates an Engine over an opened log and its store.
func New(log *eventlog.Log, st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		store:    st,
		logger:   slog.Default(),
		tokens:   UUIDv7Generator{},
		retry:    DefaultRetryPolicy,
		sleep:    sleepContext,
		sessions: make(map[string]*Session),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.Attempts < 1 {
		e.retry.Attempts = 1
	}
	if e.dispatch == nil {
		e.dispatch = newDispatcher(nil)
	}
	return e
}

// Close flushes pending observer notifications.
func (e *Engine) Close() {
	e.dispatch.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionFor returns the session for a remote, creating it on first use.
// Called for both initiated syncs and inbound handshakes.
func (e *Engine) sessionFor(remoteID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[remoteID]
	if !ok {
		s = newSession(e.log, e.store, remoteID, e.frames, e.tokens, e.dispatch, e.logger)
		e.sessions[remoteID] = s
	}
	return s
}

// SyncWith reconciles the local log with one remote over the given
// transport. On success the stats are durably recorded and returned; after
// retry exhaustion the failure is durably recorded and the last error
// returned.
func (e *Engine) SyncWith(ctx context.Context, transport Transport, remoteID string) (Stats, error) {
	e.mu.Lock()
	if e.inflight[remoteID] {
		e.mu.Unlock()
		return Stats{}, fmt.Errorf("%w: %s", ErrSyncInProgress, remoteID)
	}
	e.inflight[remoteID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, remoteID)
		e.mu.Unlock()
	}()

	session := e.sessionFor(remoteID)

	var lastErr error
	attemptsMade := 0
	for attempt := 1; attempt <= e.retry.Attempts; attempt++ {
		attemptsMade = attempt
		stats, err := e.performSync(ctx, transport, session)
		if err == nil {
			if _, err := session.RecordSyncSuccess(ctx, stats, attempt); err != nil {
				return stats, err
			}
			e.dispatch.enqueue(func(o Observer) { o.OnSync(remoteID, stats) })
			e.logger.Info("sync succeeded", "remote_id", remoteID, "attempt", attempt,
				"received", stats.Received, "sent", stats.Sent, "conflicts", stats.Conflicts)
			return stats, nil
		}

		lastErr = err
		e.logger.Warn("sync attempt failed", "remote_id", remoteID, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < e.retry.Attempts {
			delay := e.retry.BaseDelay << (attempt - 1)
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	// The failure record must land even when ctx is already canceled.
	recordCtx := context.WithoutCancel(ctx)
	if _, err := session.RecordSyncFailure(recordCtx, lastErr, attemptsMade); err != nil {
		e.logger.Error("failed to record sync failure", "remote_id", remoteID, "error", err)
	}
	e.dispatch.enqueue(func(o Observer) { o.OnError(remoteID, lastErr) })

	return Stats{}, fmt.Errorf("sync with %s failed after %d attempts: %w", remoteID, attemptsMade, lastErr)
}

// performSync runs one full protocol exchange:
// SCOPE -> SCOPE_ACK, INV -> INV, WANT -> SEND (pull, repeated while parked
// events name missing ancestors), SEND -> HAVE (push).
func (e *Engine) performSync(ctx context.Context, transport Transport, session *Session) (Stats, error) {
	reply, err := transport.Send(ctx, session.ScopeMessage())
	if err != nil {
		return Stats{}, err
	}
	switch m := reply.(type) {
	case wire.ScopeAck:
		session.HandleScopeAck(m)
	case wire.Refuse:
		return Stats{}, newScopeRefused(m.Reason)
	default:
		return Stats{}, newUnexpectedMessage(wire.TypeScopeAck, reply.Type())
	}

	reply, err = transport.Send(ctx, session.InvMessage())
	if err != nil {
		return Stats{}, err
	}
	remoteInv, ok := reply.(wire.Inv)
	if !ok {
		return Stats{}, newUnexpectedMessage(wire.TypeInv, reply.Type())
	}

	have, want, err := session.HandleInv(remoteInv)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats

	// Pull rounds. The first WANT requests the remote heads; events parked
	// for missing ancestors trigger follow-up WANTs for those ancestors
	// until the chain closes. Each ID is requested at most once.
	requested := make(map[string]bool)
	pending := want.IDs
	for len(pending) > 0 {
		for _, id := range pending {
			requested[id] = true
		}

		reply, err = transport.Send(ctx, wire.Want{IDs: pending})
		if err != nil {
			return Stats{}, err
		}
		pending = nil

		switch m := reply.(type) {
		case wire.Send:
			res, err := session.ApplyEvents(ctx, m.Events)
			if err != nil {
				return Stats{}, err
			}
			stats.Received += len(res.Accepted)
			stats.Conflicts += len(res.Conflicts)
			for _, parked := range res.Parked {
				for _, id := range parked.WaitingFor {
					if !requested[id] {
						requested[id] = true
						pending = append(pending, id)
					}
				}
			}
		case wire.Refuse:
			// Refused IDs are not terminal; the peer keeps what it keeps.
			e.logger.Warn("want refused", "remote_id", session.RemoteID(),
				"reason", m.Reason, "ids", len(m.IDs))
		default:
			return Stats{}, newUnexpectedMessage(wire.TypeSend, reply.Type())
		}
	}

	if len(have.IDs) > 0 {
		push := session.SendMessage(have.IDs)
		if len(push.Events) > 0 {
			reply, err = transport.Send(ctx, push)
			if err != nil {
				return Stats{}, err
			}
			ack, ok := reply.(wire.Have)
			if !ok {
				return Stats{}, newUnexpectedMessage(wire.TypeHave, reply.Type())
			}
			stats.Sent = len(ack.IDs)
		}
	}

	return stats, nil
}

// EngineStatus is a point-in-time observability snapshot.
type EngineStatus struct {
	InProgress bool     `json:"in_progress"`
	NodeID     string   `json:"node_id"`
	Workspace  string   `json:"workspace"`
	Sessions   []string `json:"sessions"`
}

// Status reports whether any sync is running and which remotes have sessions.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	sessions := make([]string, 0, len(e.sessions))
	for remoteID := range e.sessions {
		sessions = append(sessions, remoteID)
	}
	sort.Strings(sessions)
	return EngineStatus{
		InProgress: len(e.inflight) > 0,
		NodeID:     e.log.NodeID(),
		Workspace:  e.log.Workspace(),
		Sessions:   sessions,
	}
}

// History returns the durable sync attempt history for one remote, oldest
// first.
func (e *Engine) History(ctx context.Context, remoteID string) ([]store.SyncAttempt, error) {
	return e.store.ReadSyncAttempts(ctx, remoteID)
}
