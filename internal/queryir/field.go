package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/vdoc/internal/row"
)

// DataPrefix introduces a path into the data payload.
const DataPrefix = "data."

// metadataColumns maps metadata field names to physical column names.
var metadataColumns = map[string]string{
	"id":        "id",
	"v":         "v",
	"title":     "title",
	"tenant":    "tenant",
	"createdAt": "created_at",
	"createdBy": "created_by",
	"updatedAt": "updated_at",
	"updatedBy": "updated_by",
	"deletedAt": "deleted_at",
	"deletedBy": "deleted_by",
}

// FieldRef is a parsed field name: either a metadata column or a path into data.
type FieldRef struct {
	Column string   // physical column; "data" for payload paths
	Path   []string // payload path segments, empty for metadata
}

// IsData reports whether the ref points into the payload.
func (f FieldRef) IsData() bool { return len(f.Path) > 0 }

// ParseField resolves a field name. Unknown metadata names and payload path
// segments that are not identifiers are validation errors.
func ParseField(name string) (FieldRef, error) {
	if col, ok := metadataColumns[name]; ok {
		return FieldRef{Column: col}, nil
	}
	if !strings.HasPrefix(name, DataPrefix) {
		return FieldRef{}, row.NewValidationError("parse field", fmt.Sprintf("unknown field %q", name))
	}
	parts := strings.Split(strings.TrimPrefix(name, DataPrefix), ".")
	for _, p := range parts {
		if !row.IsIdentifier(p) {
			return FieldRef{}, row.NewValidationError("parse field",
				fmt.Sprintf("invalid path segment %q in field %q", p, name))
		}
	}
	return FieldRef{Column: "data", Path: parts}, nil
}
