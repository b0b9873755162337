// Package engine implements the oplog sync engine: the out-of-band task that
// converges local mutations into the remote row store.
//
// ARCHITECTURE:
//
// Drain cycle (one per alarm firing, serialized by a mutex):
//  1. Read up to BatchSize pending oplog entries in seq order.
//  2. Deduplicate by (collection, doc id), keeping the highest seq.
//  3. Transform survivors into rows: deletes become tombstones, inserts and
//     updates become rows with v = entry timestamp.
//  4. Submit one bulk write. On success mark every entry with
//     seq <= max(seq in batch) synced, including the entries dedup dropped.
//     On failure retry with exponential backoff; when attempts run out the
//     cycle ends with nothing synced.
//  5. With probability PurgeProbability purge synced entries older than
//     the retention window.
//
// Scheduling: mutations call Notify, which arms the alarm after BatchWindow
// only if nothing is armed, so a burst collapses into one cycle. After a
// successful cycle with backlog left the alarm is re-armed with zero delay;
// after a failed cycle it is re-armed after FailureRetryDelay.
//
// Entries are only marked synced after a confirmed write, so abandoning a
// cycle mid-backoff (context cancellation) never loses data. Re-sending an
// entry is harmless: the remote store resolves by max v.
//
// Sync failures are logged and counted. They are never returned to the
// request path.
package engine
