package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/vdoc/internal/queryir"
	"github.com/roach88/vdoc/internal/row"
)

// ResolveCurrent returns the current version of key: the row with the
// maximum v (ties broken by insertion order). The filter is evaluated
// against that row only. A tombstone is reported as absent unless
// includeDeleted is set.
func (s *Store) ResolveCurrent(ctx context.Context, table string, key row.Key, filter queryir.Predicate, includeDeleted bool) (row.VersionedRow, bool, error) {
	if err := key.Validate(); err != nil {
		return row.VersionedRow{}, false, err
	}
	rows, err := s.List(ctx, table, queryir.Select{
		Namespace:      key.Namespace,
		Tenant:         key.Tenant,
		Type:           key.Type,
		IDs:            []string{key.ID},
		Filter:         filter,
		Limit:          1,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		return row.VersionedRow{}, false, err
	}
	if len(rows) == 0 {
		return row.VersionedRow{}, false, nil
	}
	return rows[0], true, nil
}

// List returns the current version of every key matching q, sorted by
// q.Sort then id.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) List(ctx context.Context, table string, q queryir.Select) ([]row.VersionedRow, error) {
	c, err := s.compiler(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	query, args, err := c.Select(q)
	if err != nil {
		return nil, err
	}
	return s.queryRows(ctx, "list rows", query, args)
}

// Count returns how many keys List would return without paging.
func (s *Store) Count(ctx context.Context, table string, q queryir.Select) (int64, error) {
	c, err := s.compiler(ctx, s.db, table)
	if err != nil {
		return 0, err
	}
	query, args, err := c.Count(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify("count rows", err)
	}
	return n, nil
}

// History returns every version of key, newest first, one row per v.
// Tombstones are included. A limit of 0 returns all versions.
func (s *Store) History(ctx context.Context, table string, key row.Key, limit int) ([]row.VersionedRow, error) {
	c, err := s.compiler(ctx, s.db, table)
	if err != nil {
		return nil, err
	}
	query, args, err := c.History(key, limit)
	if err != nil {
		return nil, err
	}
	return s.queryRows(ctx, "read history", query, args)
}

func (s *Store) queryRows(ctx context.Context, op, query string, args []any) ([]row.VersionedRow, error) {
	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rs.Close()

	var out []row.VersionedRow
	for rs.Next() {
		r, err := scanRow(rs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, classify(op, err)
	}

	// Return empty slice instead of nil
	if out == nil {
		out = []row.VersionedRow{}
	}
	return out, nil
}

// scanRow scans one row in querysql.Columns order.
func scanRow(rs *sql.Rows) (row.VersionedRow, error) {
	var (
		r                               row.VersionedRow
		data                            []byte
		createdBy, updatedBy, deletedBy sql.NullString
		deletedAt                       sql.NullInt64
	)
	err := rs.Scan(
		&r.Namespace,
		&r.Tenant,
		&r.Type,
		&r.ID,
		&r.V,
		&r.Title,
		&data,
		&r.CreatedAt,
		&createdBy,
		&r.UpdatedAt,
		&updatedBy,
		&deletedAt,
		&deletedBy,
	)
	if err != nil {
		return row.VersionedRow{}, fmt.Errorf("scan row: %w", err)
	}
	r.Data = json.RawMessage(data)
	r.CreatedBy = createdBy.String
	r.UpdatedBy = updatedBy.String
	r.DeletedBy = deletedBy.String
	if deletedAt.Valid {
		at := deletedAt.Int64
		r.DeletedAt = &at
	}
	return r, nil
}

// MaxVersion returns the largest v stored in table, or 0 when it is empty.
func (s *Store) MaxVersion(ctx context.Context, table string) (int64, error) {
	c, err := s.compiler(ctx, s.db, table)
	if err != nil {
		return 0, err
	}
	var v int64
	err = s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(v), 0) FROM "+c.Table()).Scan(&v)
	if err != nil {
		return 0, classify("max version", err)
	}
	return v, nil
}
