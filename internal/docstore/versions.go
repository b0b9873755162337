package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/vdoc/internal/doc"
	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/row"
)

func isVersionsType(t string) bool {
	return strings.HasSuffix(t, row.VersionsSuffix)
}

// CreateVersion records a snapshot of data as a new version of parentID.
// The returned row's V is the version id.
func (c *Client) CreateVersion(ctx context.Context, typ, parentID string, data json.RawMessage, by string) (row.VersionedRow, error) {
	if parentID == "" {
		return row.VersionedRow{}, c.fail("create version", row.NewValidationError("create version", "parent id is required"))
	}
	r, err := c.newRow(row.VersionsType(typ), CreateInput{ID: parentID, Data: data, By: by})
	if err != nil {
		return row.VersionedRow{}, c.fail("create version", err)
	}
	if err := c.commit(ctx, oplog.OpInsert, versionEntryID(r), r); err != nil {
		return row.VersionedRow{}, c.fail("create version", err)
	}
	c.done(oplog.OpInsert, r.Type)
	return r, nil
}

// FindVersions returns the versions of parentID, newest first. A limit of
// 0 returns all of them.
func (c *Client) FindVersions(ctx context.Context, typ, parentID string, limit int) ([]row.VersionedRow, error) {
	rows, err := c.local.History(ctx, c.table(), c.key(row.VersionsType(typ), parentID), limit)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if !r.IsDeleted() {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindVersionByID returns version v of parentID.
func (c *Client) FindVersionByID(ctx context.Context, typ, parentID string, v int64) (row.VersionedRow, error) {
	versions, err := c.FindVersions(ctx, typ, parentID, 0)
	if err != nil {
		return row.VersionedRow{}, err
	}
	for _, r := range versions {
		if r.V == v {
			return r, nil
		}
	}
	return row.VersionedRow{}, row.NewNotFoundError("find version",
		fmt.Sprintf("version %d of %s not found", v, c.key(typ, parentID)))
}

// UpdateVersion merges patch into version v of parentID. The new row reuses
// v, so it replaces the version in place; insertion order breaks the tie.
func (c *Client) UpdateVersion(ctx context.Context, typ, parentID string, v int64, patch json.RawMessage, by string) (row.VersionedRow, error) {
	cur, err := c.FindVersionByID(ctx, typ, parentID, v)
	if err != nil {
		return row.VersionedRow{}, c.fail("update version", err)
	}
	merged, err := doc.Merge(cur.DataOrEmpty(), patch)
	if err != nil {
		return row.VersionedRow{}, c.fail("update version", row.NewValidationError("update version", err.Error()))
	}
	next := cur
	next.Data = merged
	next.UpdatedAt = c.versioner.Next()
	next.UpdatedBy = by
	if err := c.commit(ctx, oplog.OpUpdate, versionEntryID(next), next); err != nil {
		return row.VersionedRow{}, c.fail("update version", err)
	}
	c.done(oplog.OpUpdate, next.Type)
	return next, nil
}

// RestoreVersion writes the data of version v back as the current document
// at a fresh v. A deleted document is brought back.
func (c *Client) RestoreVersion(ctx context.Context, typ, parentID string, v int64, by string) (row.VersionedRow, error) {
	ver, err := c.FindVersionByID(ctx, typ, parentID, v)
	if err != nil {
		return row.VersionedRow{}, c.fail("restore version", err)
	}

	cur, ok, err := c.local.ResolveCurrent(ctx, c.table(), c.key(typ, parentID), nil, true)
	if err != nil {
		return row.VersionedRow{}, c.fail("restore version", err)
	}
	op := oplog.OpUpdate
	if !ok {
		op = oplog.OpInsert
		cur = row.VersionedRow{
			Namespace: c.cfg.Document.Namespace,
			Tenant:    c.cfg.Document.Tenant,
			Type:      typ,
			ID:        parentID,
			CreatedBy: by,
		}
	}

	next := cur
	next.V = c.versioner.Next()
	next.Data = ver.DataOrEmpty()
	next.UpdatedAt = next.V
	next.UpdatedBy = by
	next.DeletedAt = nil
	next.DeletedBy = ""
	if !ok {
		next.CreatedAt = next.V
	}
	if err := next.Validate(); err != nil {
		return row.VersionedRow{}, c.fail("restore version", err)
	}
	if err := c.commit(ctx, op, next.ID, next); err != nil {
		return row.VersionedRow{}, c.fail("restore version", err)
	}
	c.done(op, typ)
	return next, nil
}
