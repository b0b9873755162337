package docstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/row"
	"github.com/roach88/vdoc/internal/txn"
)

// Tx stages document mutations until Commit. Staged rows are invisible to
// reads. Commit copies them into the local store and the oplog; it is not
// atomic across rows.
type Tx struct {
	c  *Client
	id string
}

// BeginTransaction starts a transaction.
func (c *Client) BeginTransaction(ctx context.Context) (*Tx, error) {
	id, err := c.stager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{c: c, id: id}, nil
}

// Transaction returns a handle on an existing transaction id. Staging into
// an unknown id creates the transaction implicitly.
func (c *Client) Transaction(txID string) *Tx {
	return &Tx{c: c, id: txID}
}

// ID returns the transaction id.
func (t *Tx) ID() string { return t.id }

// Status returns the state of the transaction.
func (t *Tx) Status(ctx context.Context) (txn.Status, error) {
	return t.c.stager.Status(ctx, t.id)
}

// Create stages a new document.
func (t *Tx) Create(ctx context.Context, typ string, in CreateInput) (row.VersionedRow, error) {
	r, err := t.c.newRow(typ, in)
	if err != nil {
		return row.VersionedRow{}, err
	}
	return r, t.stage(ctx, txn.OpInsert, r)
}

// Update stages a change. The patch merges over the latest row staged for
// the same document in this transaction, or else over the current version.
func (t *Tx) Update(ctx context.Context, typ, id string, in UpdateInput) (row.VersionedRow, error) {
	cur, ok, err := t.current(ctx, typ, id)
	if err != nil {
		return row.VersionedRow{}, err
	}
	if !ok {
		if !in.Upsert {
			return row.VersionedRow{}, row.NewNotFoundError("tx update",
				fmt.Sprintf("document %s not found", t.c.key(typ, id)))
		}
		title := ""
		if in.Title != nil {
			title = *in.Title
		}
		return t.Create(ctx, typ, CreateInput{ID: id, Title: title, Data: in.Patch, By: in.By})
	}
	next, err := t.c.nextVersion(cur, in)
	if err != nil {
		return row.VersionedRow{}, err
	}
	return next, t.stage(ctx, txn.OpUpdate, next)
}

// Delete stages a tombstone.
func (t *Tx) Delete(ctx context.Context, typ, id, by string) error {
	cur, ok, err := t.current(ctx, typ, id)
	if err != nil {
		return err
	}
	if !ok {
		return row.NewNotFoundError("tx delete", fmt.Sprintf("document %s not found", t.c.key(typ, id)))
	}
	return t.stage(ctx, txn.OpDelete, cur.Tombstone(t.c.versioner.Next(), by))
}

func (t *Tx) stage(ctx context.Context, op txn.Op, r row.VersionedRow) error {
	return t.c.stager.Stage(ctx, t.id, txn.Staged{Table: t.c.table(), Op: op, Row: r})
}

func (t *Tx) current(ctx context.Context, typ, id string) (row.VersionedRow, bool, error) {
	staged, err := t.c.stager.Pending(ctx, t.id)
	if err != nil {
		return row.VersionedRow{}, false, err
	}
	key := t.c.key(typ, id)
	for i := len(staged) - 1; i >= 0; i-- {
		if staged[i].Row.Key() == key {
			r := staged[i].Row
			return r, !r.IsDeleted(), nil
		}
	}
	return t.c.Get(ctx, typ, id)
}

// Commit copies the staged rows into the local store and the oplog, then
// records the commit. Committing twice is a no-op.
func (t *Tx) Commit(ctx context.Context) (txn.CommitResult, error) {
	res, err := t.c.stager.Commit(ctx, t.id, txn.TargetFunc(t.c.applyStaged))
	if err != nil {
		t.c.metrics.TransactionsTotal.WithLabelValues("failed").Inc()
		return res, t.c.fail("commit", err)
	}
	if !res.NoOp {
		t.c.metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	}
	return res, nil
}

// Rollback records the abort. Staged rows are left for CleanupExpired.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.c.stager.Rollback(ctx, t.id); err != nil {
		return t.c.fail("rollback", err)
	}
	t.c.metrics.TransactionsTotal.WithLabelValues("rolled_back").Inc()
	return nil
}

// applyStaged is the commit target: every staged row and its oplog entry
// go into one local transaction.
func (c *Client) applyStaged(ctx context.Context, staged []txn.Staged) error {
	err := c.local.InTx(ctx, func(tx *sql.Tx) error {
		for _, st := range staged {
			if err := c.local.AppendTx(ctx, tx, st.Table, st.Row); err != nil {
				return err
			}
			entry, err := entryFor(oplog.Op(st.Op), versionEntryID(st.Row), st.Row)
			if err != nil {
				return err
			}
			if _, err := c.log.Append(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, st := range staged {
		c.done(oplog.Op(st.Op), st.Row.Type)
	}
	c.logger.Debug("staged rows applied", zap.Int("rows", len(staged)))
	c.engine.Notify()
	return nil
}
