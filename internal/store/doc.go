// ABOUTME: Package store persists connection records and anomaly events.
// ABOUTME: Store interface with SQLite and in-memory implementations.

// Package store handles persistence for the requester agent.
//
// The engine saves the connection record after every successfully applied
// transition; it never holds the authoritative record only in memory
// between turns. Anomalies (unsolicited messages, invalid transition
// attempts, stale status) are an append-only log alongside the record,
// for operator visibility.
//
// Connections are archived, never physically deleted: a connection whose
// lifecycle reached Terminated keeps its row with archived_at set.
package store
