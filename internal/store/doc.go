// Package store provides the durable record of every WorkItem.
//
// This package is internal to workpump. The store is the single writer of
// record for item state: the in-process queue only carries transient copies
// used to schedule execution.
//
// The main components are:
//
//   - [Store]: Interface defining scan, lookup, count and partial field writes
//   - [MemoryStore]: In-memory implementation, used in tests and demos
//   - [SQLiteStore]: Embedded implementation backed by modernc.org/sqlite
//   - [PostgresStore]: Implementation backed by a pgx connection pool
//   - [Broadcaster]: Decorator publishing post-write snapshots to subscribers
//
// Every write is a short, independent operation. No transaction spans more
// than one call, so two calls may observe each other's effects in any order.
// State rules are enforced per write: terminal rows are never modified and
// queued never reverts.
package store
