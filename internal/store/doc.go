// Package store provides the append-only versioned row store.
//
// A row table holds every version of every document. Rows are only ever
// inserted; an update appends a row with a larger v and a delete appends a
// tombstone. Reads resolve each key to its current version with the
// window-function queries compiled by querysql.
//
// # Backends
//
//   - SQLite (github.com/mattn/go-sqlite3): the local store, and a single-host
//     remote. WAL mode, one connection, 5-second busy timeout.
//   - PostgreSQL (github.com/lib/pq): the remote store. The data column is JSONB.
//
// Both backends carry a physical seq column (AUTOINCREMENT / BIGSERIAL) that
// breaks ties between rows of equal v in insertion order.
//
// # Tables
//
// A Store serves any number of row tables. A table is created on first use
// and all tables share the same shape.
//
// # Errors
//
// Failures to reach the database surface as row connection errors and are
// not retried here. Malformed identifiers are rejected before any I/O.
package store
