package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/doc"
	"github.com/roach88/vdoc/internal/engine"
	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/queryir"
	"github.com/roach88/vdoc/internal/row"
)

// CreateInput describes a new document.
type CreateInput struct {
	ID    string // generated when empty
	Title string
	Data  json.RawMessage
	By    string
}

// UpdateInput describes a change to an existing document.
type UpdateInput struct {
	Title *string         // nil keeps the current title
	Patch json.RawMessage // deep-merged into the current data
	By    string
	// Upsert creates the document from Patch when it does not exist.
	Upsert bool
}

// FindOptions narrows and pages a Find.
type FindOptions struct {
	Filter         queryir.Predicate
	Sort           []queryir.Sort
	Limit          int
	Offset         int
	IncludeDeleted bool
}

func (c *Client) key(typ, id string) row.Key {
	return row.Key{
		Namespace: c.cfg.Document.Namespace,
		Tenant:    c.cfg.Document.Tenant,
		Type:      typ,
		ID:        id,
	}
}

func (c *Client) table() string {
	return c.cfg.Local.Table
}

// Create appends the first version of a document. Creating an id that
// already exists appends a newer version over it.
func (c *Client) Create(ctx context.Context, typ string, in CreateInput) (row.VersionedRow, error) {
	r, err := c.newRow(typ, in)
	if err != nil {
		return row.VersionedRow{}, c.fail("create", err)
	}
	if err := c.commit(ctx, oplog.OpInsert, r.ID, r); err != nil {
		return row.VersionedRow{}, c.fail("create", err)
	}
	c.done(oplog.OpInsert, typ)
	return r, nil
}

func (c *Client) newRow(typ string, in CreateInput) (row.VersionedRow, error) {
	id := in.ID
	if id == "" {
		id = c.ids.Generate()
	}
	data, err := doc.Apply(in.Data)
	if err != nil {
		return row.VersionedRow{}, row.NewValidationError("create", err.Error())
	}
	v := c.versioner.Next()
	r := row.VersionedRow{
		Namespace: c.cfg.Document.Namespace,
		Tenant:    c.cfg.Document.Tenant,
		Type:      typ,
		ID:        id,
		V:         v,
		Title:     in.Title,
		Data:      data,
		CreatedAt: v,
		CreatedBy: in.By,
		UpdatedAt: v,
		UpdatedBy: in.By,
	}
	return r, r.Validate()
}

// Update appends a new version of a document with Patch deep-merged into
// the current data. A missing or deleted document is a not-found error
// unless Upsert is set.
func (c *Client) Update(ctx context.Context, typ, id string, in UpdateInput) (row.VersionedRow, error) {
	cur, ok, err := c.Get(ctx, typ, id)
	if err != nil {
		return row.VersionedRow{}, c.fail("update", err)
	}
	if !ok {
		if !in.Upsert {
			return row.VersionedRow{}, c.fail("update",
				row.NewNotFoundError("update", fmt.Sprintf("document %s not found", c.key(typ, id))))
		}
		title := ""
		if in.Title != nil {
			title = *in.Title
		}
		return c.Create(ctx, typ, CreateInput{ID: id, Title: title, Data: in.Patch, By: in.By})
	}

	next, err := c.nextVersion(cur, in)
	if err != nil {
		return row.VersionedRow{}, c.fail("update", err)
	}
	if err := c.commit(ctx, oplog.OpUpdate, next.ID, next); err != nil {
		return row.VersionedRow{}, c.fail("update", err)
	}
	c.done(oplog.OpUpdate, typ)
	return next, nil
}

// nextVersion builds the row that follows cur at a fresh v.
func (c *Client) nextVersion(cur row.VersionedRow, in UpdateInput) (row.VersionedRow, error) {
	merged, err := doc.Merge(cur.DataOrEmpty(), in.Patch)
	if err != nil {
		return row.VersionedRow{}, row.NewValidationError("update", err.Error())
	}
	next := cur
	next.V = c.versioner.Next()
	next.Data = merged
	next.UpdatedAt = next.V
	next.UpdatedBy = in.By
	next.DeletedAt = nil
	next.DeletedBy = ""
	if in.Title != nil {
		next.Title = *in.Title
	}
	return next, next.Validate()
}

// Delete appends a tombstone for a document. Deleting a missing or already
// deleted document is a not-found error.
func (c *Client) Delete(ctx context.Context, typ, id, by string) error {
	cur, ok, err := c.Get(ctx, typ, id)
	if err != nil {
		return c.fail("delete", err)
	}
	if !ok {
		return c.fail("delete", row.NewNotFoundError("delete", fmt.Sprintf("document %s not found", c.key(typ, id))))
	}
	t := cur.Tombstone(c.versioner.Next(), by)
	if err := c.commit(ctx, oplog.OpDelete, t.ID, t); err != nil {
		return c.fail("delete", err)
	}
	c.done(oplog.OpDelete, typ)
	return nil
}

// Get returns the current version of a document. A deleted document is
// reported as absent.
func (c *Client) Get(ctx context.Context, typ, id string) (row.VersionedRow, bool, error) {
	return c.local.ResolveCurrent(ctx, c.table(), c.key(typ, id), nil, false)
}

// Find returns the current version of every document of typ matching opts.
func (c *Client) Find(ctx context.Context, typ string, opts FindOptions) ([]row.VersionedRow, error) {
	return c.local.List(ctx, c.table(), c.selectOf(typ, opts))
}

// Count returns how many documents of typ match filter.
func (c *Client) Count(ctx context.Context, typ string, filter queryir.Predicate) (int64, error) {
	return c.local.Count(ctx, c.table(), c.selectOf(typ, FindOptions{Filter: filter}))
}

// History returns every version of a document, newest first.
func (c *Client) History(ctx context.Context, typ, id string, limit int) ([]row.VersionedRow, error) {
	return c.local.History(ctx, c.table(), c.key(typ, id), limit)
}

func (c *Client) selectOf(typ string, opts FindOptions) queryir.Select {
	return queryir.Select{
		Namespace:      c.cfg.Document.Namespace,
		Tenant:         c.cfg.Document.Tenant,
		Type:           typ,
		Filter:         opts.Filter,
		Sort:           opts.Sort,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
		IncludeDeleted: opts.IncludeDeleted,
	}
}

// commit appends r and its oplog entry in one local transaction, then
// tells the engine there is work.
func (c *Client) commit(ctx context.Context, op oplog.Op, docID string, r row.VersionedRow) error {
	entry, err := entryFor(op, docID, r)
	if err != nil {
		return err
	}
	err = c.local.InTx(ctx, func(tx *sql.Tx) error {
		if err := c.local.AppendTx(ctx, tx, c.table(), r); err != nil {
			return err
		}
		_, err := c.log.Append(ctx, tx, entry)
		return err
	})
	if err != nil {
		return err
	}
	c.engine.Notify()
	return nil
}

// entryFor builds the oplog entry of r. Deletes carry no payload.
func entryFor(op oplog.Op, docID string, r row.VersionedRow) (oplog.Entry, error) {
	e := oplog.Entry{
		Op:         op,
		Collection: r.Type,
		DocID:      docID,
		Timestamp:  r.V,
	}
	if op == oplog.OpDelete {
		return e, nil
	}
	snap, err := oplog.SnapshotOf(r)
	if err != nil {
		return oplog.Entry{}, err
	}
	e.Data = snap
	return e, nil
}

// versionEntryID is the oplog doc id of r: version records keep their v in
// the id so dedup does not collapse them.
func versionEntryID(r row.VersionedRow) string {
	if isVersionsType(r.Type) {
		return engine.VersionDocID(r.ID, r.V)
	}
	return r.ID
}

func (c *Client) done(op oplog.Op, typ string) {
	c.metrics.MutationsTotal.WithLabelValues(string(op), typ).Inc()
}

func (c *Client) fail(op string, err error) error {
	code := "INTERNAL"
	var e *row.Error
	if errors.As(err, &e) {
		code = string(e.Code)
	}
	c.metrics.MutationErrors.WithLabelValues(op, code).Inc()
	c.logger.Debug("mutation failed", zap.String("op", op), zap.String("code", code), zap.Error(err))
	return err
}
