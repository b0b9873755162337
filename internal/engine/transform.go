package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/vdoc/internal/oplog"
	"github.com/roach88/vdoc/internal/row"
)

// VersionDocID is the oplog doc id of version record v of parentID. Keeping
// v in the id stops dedup from collapsing distinct versions of one document.
func VersionDocID(parentID string, v int64) string {
	return fmt.Sprintf("%s@%d", parentID, v)
}

type dedupKey struct {
	collection string
	docID      string
}

// Dedupe keeps, for each (collection, doc id), only the entry with the
// highest seq. Survivors are returned in seq order.
func Dedupe(entries []oplog.Entry) []oplog.Entry {
	latest := make(map[dedupKey]oplog.Entry, len(entries))
	for _, e := range entries {
		k := dedupKey{e.Collection, e.DocID}
		if cur, ok := latest[k]; !ok || e.Seq > cur.Seq {
			latest[k] = e
		}
	}
	out := make([]oplog.Entry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Transform builds the remote row for an entry.
//
// Deletes carry no payload and become tombstones with deletedAt = timestamp
// and empty data. Inserts and updates take v = timestamp and the title, data,
// timestamps and authorship recorded in the snapshot.
func Transform(cfg Config, e oplog.Entry) (row.VersionedRow, error) {
	r := row.VersionedRow{
		Namespace: cfg.Namespace,
		Tenant:    cfg.Tenant,
		Type:      e.Collection,
		ID:        keyID(e.Collection, e.DocID),
		V:         e.Timestamp,
		CreatedAt: e.Timestamp,
		UpdatedAt: e.Timestamp,
	}

	if e.Op == oplog.OpDelete {
		at := e.Timestamp
		r.Data = json.RawMessage("{}")
		r.DeletedAt = &at
		return validated(r, e.Seq)
	}

	snap, err := oplog.DecodeSnapshot(e.Data)
	if err != nil {
		return row.VersionedRow{}, fmt.Errorf("transform seq %d: %w", e.Seq, err)
	}
	r.Title = snap.Title
	r.Data = snap.Data
	if len(r.Data) == 0 {
		r.Data = json.RawMessage("{}")
	}
	if snap.CreatedAt > 0 {
		r.CreatedAt = snap.CreatedAt
	}
	if snap.UpdatedAt > 0 {
		r.UpdatedAt = snap.UpdatedAt
	}
	r.CreatedBy = snap.CreatedBy
	r.UpdatedBy = snap.UpdatedBy
	return validated(r, e.Seq)
}

func validated(r row.VersionedRow, seq int64) (row.VersionedRow, error) {
	if err := r.Validate(); err != nil {
		return row.VersionedRow{}, fmt.Errorf("transform seq %d: %w", seq, err)
	}
	return r, nil
}

// keyID maps an oplog doc id back to the row id. Version records carry
// "<parent>@<v>"; the row id is the parent.
func keyID(collection, docID string) string {
	if !strings.HasSuffix(collection, row.VersionsSuffix) {
		return docID
	}
	if i := strings.LastIndexByte(docID, '@'); i > 0 {
		return docID[:i]
	}
	return docID
}
