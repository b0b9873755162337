// Package oplog is the local, ordered log of mutations awaiting propagation
// to the remote store.
//
// Entries live in the local SQLite database next to the row table and are
// appended inside the same transaction as the row they describe, so a
// mutation is acknowledged only once both are durable. seq is assigned by
// SQLite AUTOINCREMENT: with the single local writer it is gapless and
// strictly increasing per instance.
package oplog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/row"
)

//go:embed schema.sql
var schemaSQL string

// Op is the kind of mutation an entry records.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Entry is one logged mutation.
type Entry struct {
	Seq        int64
	Op         Op
	Collection string // entity type of the mutated row
	DocID      string
	Data       json.RawMessage // snapshot, nil for deletes
	Timestamp  int64           // the row's v
	Synced     bool
}

// Snapshot is the payload of an insert or update entry: enough of the row to
// rebuild it remotely.
type Snapshot struct {
	Title     string          `json:"title,omitempty"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt,omitempty"`
	CreatedBy string          `json:"createdBy,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}

// SnapshotOf captures r for an oplog entry.
func SnapshotOf(r row.VersionedRow) (json.RawMessage, error) {
	b, err := json.Marshal(Snapshot{
		Title:     r.Title,
		Data:      r.DataOrEmpty(),
		CreatedAt: r.CreatedAt,
		CreatedBy: r.CreatedBy,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: r.UpdatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses an entry payload. A nil payload yields a zero Snapshot.
func DecodeSnapshot(data json.RawMessage) (Snapshot, error) {
	var s Snapshot
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Stats summarizes the log.
type Stats struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	LastSeq int64 `json:"lastSeq"`
	Cursor  int64 `json:"cursor"` // max seq successfully pushed
}

// Log is the oplog over a local SQLite database.
//
// Thread-safety: safe for concurrent use; serialization is left to the
// database connection.
type Log struct {
	db     *sql.DB
	logger *zap.Logger
}

// New creates the oplog table if needed and returns a Log over db.
func New(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create oplog schema: %w", err)
	}
	return &Log{db: db, logger: logger}, nil
}

// Append records e through ex (normally the transaction that also appends
// the row) and returns the assigned seq. Seq and Synced on e are ignored.
func (l *Log) Append(ctx context.Context, ex Execer, e Entry) (int64, error) {
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return 0, row.NewValidationError("oplog append", fmt.Sprintf("unknown op %q", e.Op))
	}
	if e.Collection == "" || e.DocID == "" {
		return 0, row.NewValidationError("oplog append", "collection and doc id are required")
	}
	if e.Op == OpDelete && len(e.Data) > 0 {
		return 0, row.NewValidationError("oplog append", "delete entries carry no data")
	}
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO oplog (op, collection, doc_id, data, timestamp, synced)
		VALUES (?, ?, ?, ?, ?, 0)
	`, string(e.Op), e.Collection, e.DocID, data, e.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("oplog append: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("oplog append: %w", err)
	}
	return seq, nil
}

// Pending returns up to limit unsynced entries in seq order.
//
// Returns an empty slice (not nil) when the log is drained.
func (l *Log) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, op, collection, doc_id, data, timestamp, synced
		FROM oplog
		WHERE synced = 0
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e      Entry
			op     string
			data   sql.NullString
			synced int
		)
		if err := rows.Scan(&e.Seq, &op, &e.Collection, &e.DocID, &data, &e.Timestamp, &synced); err != nil {
			return nil, fmt.Errorf("scan oplog entry: %w", err)
		}
		e.Op = Op(op)
		e.Synced = synced == 1
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return entries, nil
}

// MarkSynced marks every entry with seq <= maxSeq as synced and returns the
// number of entries changed.
func (l *Log) MarkSynced(ctx context.Context, maxSeq int64) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE oplog SET synced = 1 WHERE synced = 0 AND seq <= ?`, maxSeq)
	if err != nil {
		return 0, fmt.Errorf("mark synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark synced: %w", err)
	}
	l.logger.Debug("oplog marked synced", zap.Int64("max_seq", maxSeq), zap.Int64("entries", n))
	return n, nil
}

// PendingCount returns the number of unsynced entries.
func (l *Log) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM oplog WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// Purge deletes synced entries whose timestamp is older than olderThan
// (Unix ms). Unsynced entries are never purged.
func (l *Log) Purge(ctx context.Context, olderThan int64) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM oplog WHERE synced = 1 AND timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge oplog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge oplog: %w", err)
	}
	if n > 0 {
		l.logger.Info("oplog purged", zap.Int64("entries", n), zap.Int64("older_than", olderThan))
	}
	return n, nil
}

// Stats returns counts and the sync cursor.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(seq), 0),
			COALESCE(MAX(CASE WHEN synced = 1 THEN seq END), 0)
		FROM oplog
	`).Scan(&s.Pending, &s.Synced, &s.LastSeq, &s.Cursor)
	if err != nil {
		return Stats{}, fmt.Errorf("oplog stats: %w", err)
	}
	return s, nil
}
