package store

import (
	"context"
	"fmt"

	"github.com/cairnlog/cairn/internal/event"
)

// WriteEvent inserts an event row. Returns whether a new row was inserted.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-writing an event that
// already exists (same content-addressed ID) is silently ignored.
//
// seq is the local append order assigned by the log; it is a per-store
// ordering hint, never part of event identity.
func (s *Store) WriteEvent(ctx context.Context, e event.Event, seq int64) (bool, error) {
	parentsJSON, err := marshalParents(e.Parents)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	payloadJSON, err := marshalPayload(e.Payload)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, type, actor, parents, workspace, node_id, schema_version, payload, logical_clock, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Type,
		e.Actor,
		parentsJSON,
		e.Context.Workspace,
		e.Context.NodeID,
		e.Context.SchemaVersion,
		payloadJSON,
		e.LogicalClock,
		seq,
	)
	if err != nil {
		return false, fmt.Errorf("write event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write event: rows affected: %w", err)
	}

	return rows > 0, nil
}

// SyncAttempt is the audit row mirrored from a durable sync outcome event.
type SyncAttempt struct {
	Token    string
	RemoteID string
	Outcome  string // "success" | "failure"
	Attempts int
	Detail   string // JSON
	EventID  string
}

// WriteSyncAttempt inserts a sync attempt audit row in the same transaction
// scope as its backing event. Uses ON CONFLICT(token) DO NOTHING so a
// re-recorded attempt is idempotent.
//
// The event referenced by EventID must exist (foreign key constraint).
func (s *Store) WriteSyncAttempt(ctx context.Context, attempt SyncAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_attempts
		(token, remote_id, outcome, attempts, detail, event_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		attempt.Token,
		attempt.RemoteID,
		attempt.Outcome,
		attempt.Attempts,
		attempt.Detail,
		attempt.EventID,
	)
	if err != nil {
		return fmt.Errorf("write sync attempt: %w", err)
	}
	return nil
}
