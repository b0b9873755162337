// Package txn emulates multi-row transactions over a store with no
// multi-row atomic write, by staging rows in a side table.
//
// Staged rows are invisible to readers of the row store. Commit copies the
// pending rows of a transaction into the target and then appends a
// committed marker; Rollback only appends an aborted marker and leaves the
// staged rows for CleanupExpired. Commit is not atomic: a failure part way
// through the copy leaves the rows already copied visible and the
// transaction still pending, and a retried Commit copies everything again.
// Re-copying is harmless because the row store resolves by max v.
package txn

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/row"
	"github.com/roach88/vdoc/internal/vclock"
)

//go:embed schema.sql
var schemaSQL string

// Status is the state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further staging is allowed.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted
}

const (
	kindRow    = "row"
	kindMarker = "marker"
)

// DefaultTimeout is how long staged rows stay pending before they become
// eligible for cleanup.
const DefaultTimeout = 5 * time.Minute

// Op is the mutation a staged row performs once committed.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Staged is one row waiting in a transaction.
type Staged struct {
	Table string
	Op    Op
	Row   row.VersionedRow
}

// Target receives the rows of a committing transaction, in staging order.
type Target interface {
	ApplyStaged(ctx context.Context, rows []Staged) error
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, rows []Staged) error

// ApplyStaged calls f.
func (f TargetFunc) ApplyStaged(ctx context.Context, rows []Staged) error { return f(ctx, rows) }

// CommitResult reports what a Commit did.
type CommitResult struct {
	Applied int  // rows copied into the target
	NoOp    bool // the transaction was already committed
}

// CleanupResult reports what CleanupExpired removed.
type CleanupResult struct {
	Cleaned bool
	Removed int64
}

// Stager manages the tx_stage table.
type Stager struct {
	db      *sql.DB
	clock   vclock.Clock
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
}

// Option configures a Stager.
type Option func(*Stager)

// WithClock sets the time source used for timeouts.
func WithClock(c vclock.Clock) Option {
	return func(s *Stager) { s.clock = c }
}

// WithTimeout sets how long staged rows stay pending.
func WithTimeout(d time.Duration) Option {
	return func(s *Stager) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIDGenerator replaces the UUIDv7 transaction id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Stager) { s.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stager) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the staging table if needed and returns a Stager over db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Stager, error) {
	s := &Stager{
		db:      db,
		clock:   vclock.System{},
		timeout: DefaultTimeout,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create tx_stage schema: %w", err)
	}
	return s, nil
}

func (s *Stager) deadline() int64 {
	return vclock.Millis(s.clock.Now().Add(s.timeout))
}

// Begin starts a transaction and returns its id.
func (s *Stager) Begin(ctx context.Context) (string, error) {
	id := s.newID()
	if err := s.insertMarker(ctx, id, StatusPending); err != nil {
		return "", err
	}
	s.logger.Debug("transaction begun", zap.String("tx_id", id))
	return id, nil
}

// Stage adds a row to txID, creating the transaction implicitly if it was
// never begun. Staging into a committed or aborted transaction fails.
func (s *Stager) Stage(ctx context.Context, txID string, st Staged) error {
	if txID == "" {
		return row.NewValidationError("stage", "transaction id is required")
	}
	if err := row.ValidateIdentifier("table", st.Table); err != nil {
		return err
	}
	if err := st.Row.Validate(); err != nil {
		return err
	}
	switch st.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return row.NewValidationError("stage", fmt.Sprintf("unknown op %q", st.Op))
	}

	status, _, err := s.status(ctx, txID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return row.NewTxStateError("stage", fmt.Sprintf("transaction %s is %s", txID, status))
	}

	raw, err := json.Marshal(st.Row)
	if err != nil {
		return fmt.Errorf("stage: encode row: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_stage (tx_id, kind, tx_status, tx_timeout, tbl, op, row_json, staged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, txID, kindRow, string(StatusPending), s.deadline(), st.Table, string(st.Op), string(raw), vclock.Millis(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	return nil
}

// Status returns the state of txID. A transaction with no trace in the
// staging table is a not-found error.
func (s *Stager) Status(ctx context.Context, txID string) (Status, error) {
	status, known, err := s.status(ctx, txID)
	if err != nil {
		return "", err
	}
	if !known {
		return "", row.NewNotFoundError("tx status", fmt.Sprintf("transaction %s not found", txID))
	}
	return status, nil
}

// status derives the state from markers: a terminal marker wins, otherwise
// any trace means pending.
func (s *Stager) status(ctx context.Context, txID string) (Status, bool, error) {
	var committed, aborted, total int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'marker' AND tx_status = 'committed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'marker' AND tx_status = 'aborted' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM tx_stage
		WHERE tx_id = ?
	`, txID).Scan(&committed, &aborted, &total)
	if err != nil {
		return "", false, fmt.Errorf("tx status: %w", err)
	}
	switch {
	case committed > 0:
		return StatusCommitted, true, nil
	case aborted > 0:
		return StatusAborted, true, nil
	default:
		return StatusPending, total > 0, nil
	}
}

// Pending returns the staged rows of txID in staging order.
func (s *Stager) Pending(ctx context.Context, txID string) ([]Staged, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tbl, op, row_json
		FROM tx_stage
		WHERE tx_id = ? AND kind = 'row' AND tx_status = 'pending'
		ORDER BY stage_seq ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("read staged rows: %w", err)
	}
	defer rows.Close()

	staged := []Staged{}
	for rows.Next() {
		var (
			st      Staged
			op, raw string
		)
		if err := rows.Scan(&st.Table, &op, &raw); err != nil {
			return nil, fmt.Errorf("scan staged row: %w", err)
		}
		st.Op = Op(op)
		if err := json.Unmarshal([]byte(raw), &st.Row); err != nil {
			return nil, fmt.Errorf("decode staged row: %w", err)
		}
		staged = append(staged, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged rows: %w", err)
	}
	return staged, nil
}

// Commit copies the pending rows of txID into target, then appends the
// committed marker. Committing a committed transaction is a no-op;
// committing an aborted one fails.
func (s *Stager) Commit(ctx context.Context, txID string, target Target) (CommitResult, error) {
	status, _, err := s.status(ctx, txID)
	if err != nil {
		return CommitResult{}, err
	}
	switch status {
	case StatusCommitted:
		return CommitResult{NoOp: true}, nil
	case StatusAborted:
		return CommitResult{}, row.NewTxStateError("commit", fmt.Sprintf("transaction %s is aborted", txID))
	}

	staged, err := s.Pending(ctx, txID)
	if err != nil {
		return CommitResult{}, err
	}
	if len(staged) > 0 {
		if err := target.ApplyStaged(ctx, staged); err != nil {
			return CommitResult{}, fmt.Errorf("commit %s: apply: %w", txID, err)
		}
	}
	if err := s.insertMarker(ctx, txID, StatusCommitted); err != nil {
		return CommitResult{}, err
	}
	s.logger.Info("transaction committed", zap.String("tx_id", txID), zap.Int("rows", len(staged)))
	return CommitResult{Applied: len(staged)}, nil
}

// Rollback appends the aborted marker. The staged rows stay until
// CleanupExpired. Rolling back an aborted transaction is a no-op; rolling
// back a committed one fails.
func (s *Stager) Rollback(ctx context.Context, txID string) error {
	status, _, err := s.status(ctx, txID)
	if err != nil {
		return err
	}
	switch status {
	case StatusAborted:
		return nil
	case StatusCommitted:
		return row.NewTxStateError("rollback", fmt.Sprintf("transaction %s is committed", txID))
	}
	if err := s.insertMarker(ctx, txID, StatusAborted); err != nil {
		return err
	}
	s.logger.Info("transaction rolled back", zap.String("tx_id", txID))
	return nil
}

// CleanupExpired deletes pending staged entries whose timeout passed more
// than grace ago, that is tx_timeout < now - grace.
func (s *Stager) CleanupExpired(ctx context.Context, grace time.Duration) (CleanupResult, error) {
	cutoff := vclock.Millis(s.clock.Now().Add(-grace))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tx_stage WHERE tx_status = 'pending' AND tx_timeout < ?`, cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup expired: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired staged rows removed", zap.Int64("rows", n))
	}
	return CleanupResult{Cleaned: true, Removed: n}, nil
}

func (s *Stager) insertMarker(ctx context.Context, txID string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_stage (tx_id, kind, tx_status, tx_timeout, staged_at)
		VALUES (?, ?, ?, ?, ?)
	`, txID, kindMarker, string(status), s.deadline(), vclock.Millis(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("write %s marker: %w", status, err)
	}
	return nil
}
