package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/vdoc/internal/row"
)

// Append inserts rows into table. It never rejects a duplicate key:
// duplication under a key is how versions accumulate. Re-appending a row
// already present leaves resolution unchanged.
//
// All rows are inserted in one transaction.
func (s *Store) Append(ctx context.Context, table string, rows ...row.VersionedRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := validateRows(rows); err != nil {
		return err
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		return s.AppendTx(ctx, tx, table, rows...)
	})
}

// AppendTx inserts rows using the caller's transaction, so the rows commit
// together with whatever else the caller writes (the oplog entry).
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, table string, rows ...row.VersionedRow) error {
	if err := validateRows(rows); err != nil {
		return err
	}
	c, err := s.compiler(ctx, tx, table)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, c.Insert())
	if err != nil {
		return classify("append rows", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, s.insertArgs(r)...); err != nil {
			return classify(fmt.Sprintf("append row %s", r.Key()), err)
		}
	}
	s.logger.Debug("rows appended", zap.String("table", table), zap.Int("count", len(rows)))
	return nil
}

// Write is the bulk write used by the sync engine: one call, one
// transaction, all rows or none.
func (s *Store) Write(ctx context.Context, table string, rows []row.VersionedRow) error {
	return s.Append(ctx, table, rows...)
}

func validateRows(rows []row.VersionedRow) error {
	for _, r := range rows {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// insertArgs returns the insert arguments in querysql.Columns order.
// Data is bound as text: lib/pq sends []byte as bytea, which a JSONB column
// rejects.
func (s *Store) insertArgs(r row.VersionedRow) []any {
	var deletedAt any
	if r.DeletedAt != nil {
		deletedAt = *r.DeletedAt
	}
	return []any{
		r.Namespace,
		r.Tenant,
		r.Type,
		r.ID,
		r.V,
		r.Title,
		string(r.DataOrEmpty()),
		r.CreatedAt,
		nullString(r.CreatedBy),
		r.UpdatedAt,
		nullString(r.UpdatedBy),
		deletedAt,
		nullString(r.DeletedBy),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
