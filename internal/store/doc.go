// Package store provides durable SQLite-backed persistence for cairn
// event logs.
//
// The events table is strictly append-only: rows are inserted with
// ON CONFLICT(id) DO NOTHING and never updated or deleted. Event identity is
// the content-addressed ID; the local seq column only records append order
// for deterministic replay on the same store.
//
// The sync_attempts table is a queryable mirror of the durable sync outcome
// events. The event row is authoritative; the audit row exists so operators
// can inspect sync history without decoding payloads.
package store
