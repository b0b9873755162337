package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vdoc/internal/row"
)

func TestParseField_Metadata(t *testing.T) {
	tests := []struct {
		field  string
		column string
	}{
		{"id", "id"},
		{"v", "v"},
		{"title", "title"},
		{"createdAt", "created_at"},
		{"updatedBy", "updated_by"},
		{"deletedAt", "deleted_at"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			ref, err := ParseField(tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.column, ref.Column)
			assert.False(t, ref.IsData())
		})
	}
}

func TestParseField_DataPath(t *testing.T) {
	ref, err := ParseField("data.author.name")
	require.NoError(t, err)
	assert.Equal(t, "data", ref.Column)
	assert.Equal(t, []string{"author", "name"}, ref.Path)
	assert.True(t, ref.IsData())
}

func TestParseField_Rejects(t *testing.T) {
	for _, f := range []string{"", "created_at", "data.", "data.a..b", "data.a-b", "data.a;drop", "nope"} {
		t.Run(f, func(t *testing.T) {
			_, err := ParseField(f)
			require.Error(t, err)
			assert.True(t, row.IsValidation(err))
		})
	}
}

func TestValidate_Partition(t *testing.T) {
	require.NoError(t, Validate(Select{Namespace: "app", Type: "post"}))

	err := Validate(Select{Namespace: "app;", Type: "post"})
	assert.True(t, row.IsValidation(err))

	err = Validate(Select{Namespace: "app", Type: ""})
	assert.True(t, row.IsValidation(err))

	err = Validate(Select{Namespace: "app", Type: "post", Limit: -1})
	assert.True(t, row.IsValidation(err))
}

func TestValidate_SortFields(t *testing.T) {
	q := Select{Namespace: "app", Type: "post", Sort: []Sort{{Field: "data.rank", Desc: true}}}
	require.NoError(t, Validate(q))

	q.Sort = []Sort{{Field: "rank"}}
	assert.True(t, row.IsValidation(Validate(q)))
}

func TestValidatePredicate(t *testing.T) {
	tests := []struct {
		name    string
		pred    Predicate
		wantErr bool
	}{
		{"nil", nil, false},
		{"eq string", Eq("title", "x"), false},
		{"eq null", Eq("deletedBy", nil), false},
		{"gt number", Gt("data.n", 3), false},
		{"json number", Lte("data.n", json.Number("2.5")), false},
		{"gt null", Gt("data.n", nil), true},
		{"like non-string", Compare{Field: "title", Op: OpLike, Value: 1}, true},
		{"unknown op", Compare{Field: "title", Op: "~", Value: "x"}, true},
		{"slice literal", Eq("data.tags", []string{"a"}), true},
		{"in", In{Field: "id", Values: []any{"a", "b"}}, false},
		{"in with null", In{Field: "id", Values: []any{nil}}, true},
		{"exists", Exists{Field: "data.x"}, false},
		{"and nested", AllOf(Eq("title", "a"), AnyOf(Gt("v", 1), Not{Predicate: Exists{Field: "deletedAt"}})), false},
		{"and nil child", And{Predicates: []Predicate{nil}}, true},
		{"not empty", Not{}, true},
		{"pointer compare", &Compare{Field: "title", Op: OpEq, Value: "x"}, false},
		{"bad field nested", AnyOf(Eq("data.a b", 1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePredicate(tt.pred)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, row.IsValidation(err))
				return
			}
			require.NoError(t, err)
		})
	}
}
