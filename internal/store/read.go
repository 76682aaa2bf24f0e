package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cairnlog/cairn/internal/event"
)

// eventColumns is the column list shared by every event query.
const eventColumns = `id, type, actor, parents, workspace, node_id, schema_version, payload, logical_clock, seq`

// ReadEvent returns a single event by ID.
// Returns (event, false, nil) with a zero event when the ID is unknown.
func (s *Store) ReadEvent(ctx context.Context, id string) (event.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = ?
	`, id)

	e, _, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return event.Event{}, false, nil
	}
	if err != nil {
		return event.Event{}, false, err
	}
	return e, true, nil
}

// ReadAll returns every stored event in deterministic order:
// ORDER BY seq ASC, id ASC COLLATE BINARY. Replay of the same store always
// observes the same sequence.
//
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ReadAll(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		e, _, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// MaxSeq returns the highest local append sequence, or 0 for an empty store.
// Used on open to resume the log's clock position.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// ReadSyncAttempts returns the audit rows for one remote, oldest first.
// Returns an empty slice (not nil) when the remote has never been synced.
func (s *Store) ReadSyncAttempts(ctx context.Context, remoteID string) ([]SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, remote_id, outcome, attempts, detail, event_id
		FROM sync_attempts
		WHERE remote_id = ?
		ORDER BY id ASC
	`, remoteID)
	if err != nil {
		return nil, fmt.Errorf("query sync attempts: %w", err)
	}
	defer rows.Close()

	attempts := []SyncAttempt{}
	for rows.Next() {
		var a SyncAttempt
		if err := rows.Scan(&a.Token, &a.RemoteID, &a.Outcome, &a.Attempts, &a.Detail, &a.EventID); err != nil {
			return nil, fmt.Errorf("scan sync attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync attempts: %w", err)
	}

	return attempts, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanEvent.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one event row. Returns the local seq alongside the event
// for callers that need the append order.
func scanEvent(row rowScanner) (event.Event, int64, error) {
	var (
		e           event.Event
		parentsJSON string
		payloadJSON string
		seq         int64
	)

	err := row.Scan(
		&e.ID,
		&e.Type,
		&e.Actor,
		&parentsJSON,
		&e.Context.Workspace,
		&e.Context.NodeID,
		&e.Context.SchemaVersion,
		&payloadJSON,
		&e.LogicalClock,
		&seq,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return event.Event{}, 0, err
		}
		return event.Event{}, 0, fmt.Errorf("scan event: %w", err)
	}

	e.Parents, err = unmarshalParents(parentsJSON)
	if err != nil {
		return event.Event{}, 0, fmt.Errorf("event %s: %w", e.ID, err)
	}

	e.Payload, err = unmarshalPayload(payloadJSON)
	if err != nil {
		return event.Event{}, 0, fmt.Errorf("event %s: %w", e.ID, err)
	}

	return e, seq, nil
}
