// Package syncer implements peer-to-peer reconciliation of append-only
// event logs.
//
// Two nodes holding partially overlapping logs exchange inventories
// (Bloom filter plus DAG heads), pull what they lack, push what the peer
// lacks, and surface concurrent edits to the same target as conflicts
// instead of resolving them. Every sync attempt, successful or not, is
// appended to the local log as a durable event.
//
// The Engine drives the exchange over an abstract Transport and retries
// failures with exponential backoff. The per-remote Session owns message
// construction, event classification, and conflict detection.
package syncer
