// Package row defines the versioned row, the unit of storage shared by the
// row store, the transaction stager and the sync engine.
//
// A row is never updated in place. Every mutation appends a new row for the
// same Key with a larger V; readers resolve the row with the maximum V and
// treat it as absent when that row carries a DeletedAt tombstone.
package row

import (
	"encoding/json"
	"fmt"
)

// Key identifies a logical document. It is not unique per physical row:
// duplication under a key is the versioning mechanism.
type Key struct {
	Namespace string
	Tenant    string
	Type      string
	ID        string
}

// Validate checks that the identifier parts of the key are safe to place
// into query text. It performs no I/O.
func (k Key) Validate() error {
	if err := ValidateIdentifier("namespace", k.Namespace); err != nil {
		return err
	}
	if err := ValidateIdentifier("type", k.Type); err != nil {
		return err
	}
	if k.ID == "" {
		return NewValidationError("validate key", "id must not be empty")
	}
	return nil
}

func (k Key) String() string {
	if k.Tenant == "" {
		return fmt.Sprintf("%s/%s/%s", k.Namespace, k.Type, k.ID)
	}
	return fmt.Sprintf("%s/%s:%s/%s", k.Namespace, k.Tenant, k.Type, k.ID)
}

// VersionedRow is the physical row shape shared by every table in the store.
// Timestamps are Unix milliseconds.
type VersionedRow struct {
	Namespace string          `json:"ns"`
	Tenant    string          `json:"tenant,omitempty"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	V         int64           `json:"v"`
	Title     string          `json:"title"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
	CreatedBy string          `json:"createdBy,omitempty"`
	UpdatedAt int64           `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
	DeletedAt *int64          `json:"deletedAt,omitempty"`
	DeletedBy string          `json:"deletedBy,omitempty"`
}

// Key returns the logical key of the row.
func (r VersionedRow) Key() Key {
	return Key{Namespace: r.Namespace, Tenant: r.Tenant, Type: r.Type, ID: r.ID}
}

// IsDeleted reports whether the row is a tombstone.
func (r VersionedRow) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Validate checks the key and that Data, when present, is valid JSON.
func (r VersionedRow) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	if r.V <= 0 {
		return NewValidationError("validate row", fmt.Sprintf("row %s has non-positive version %d", r.Key(), r.V))
	}
	if len(r.Data) > 0 && !json.Valid(r.Data) {
		return NewValidationError("validate row", fmt.Sprintf("row %s has malformed data", r.Key()))
	}
	return nil
}

// DataOrEmpty returns Data, substituting an empty JSON object for a nil payload.
func (r VersionedRow) DataOrEmpty() json.RawMessage {
	if len(r.Data) == 0 {
		return json.RawMessage("{}")
	}
	return r.Data
}

// Tombstone returns a copy of r marked deleted at version v.
func (r VersionedRow) Tombstone(v int64, by string) VersionedRow {
	t := r
	t.V = v
	t.UpdatedAt = v
	t.DeletedAt = &v
	t.DeletedBy = by
	return t
}

// VersionsType returns the entity type under which version records of
// documents of type t are stored.
func VersionsType(t string) string {
	return t + VersionsSuffix
}

// VersionsSuffix marks an entity type as holding version records.
const VersionsSuffix = "_versions"

// GlobalsType is the entity type holding singleton documents addressed by slug.
const GlobalsType = "_globals"
