package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/vdoc/internal/row"
)

// Globals are singleton documents addressed by slug rather than id.

// CreateGlobal creates (or replaces) the global at slug.
func (c *Client) CreateGlobal(ctx context.Context, slug string, data json.RawMessage, by string) (row.VersionedRow, error) {
	id, err := row.NormalizeSlug(slug)
	if err != nil {
		return row.VersionedRow{}, c.fail("create global", err)
	}
	return c.Create(ctx, row.GlobalsType, CreateInput{ID: id, Title: id, Data: data, By: by})
}

// FindGlobal returns the global at slug.
func (c *Client) FindGlobal(ctx context.Context, slug string) (row.VersionedRow, bool, error) {
	id, err := row.NormalizeSlug(slug)
	if err != nil {
		return row.VersionedRow{}, false, err
	}
	return c.Get(ctx, row.GlobalsType, id)
}

// UpdateGlobal merges patch into the global at slug. A global that was
// never created is a not-found error.
func (c *Client) UpdateGlobal(ctx context.Context, slug string, patch json.RawMessage, by string) (row.VersionedRow, error) {
	id, err := row.NormalizeSlug(slug)
	if err != nil {
		return row.VersionedRow{}, c.fail("update global", err)
	}
	r, err := c.Update(ctx, row.GlobalsType, id, UpdateInput{Patch: patch, By: by})
	if row.IsNotFound(err) {
		return row.VersionedRow{}, row.NewNotFoundError("update global", fmt.Sprintf("global %q not found", id))
	}
	return r, err
}
