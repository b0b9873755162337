package querysql

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vdoc/internal/queryir"
	"github.com/roach88/vdoc/internal/row"
)

func newCompiler(t *testing.T, d Dialect) *Compiler {
	t.Helper()
	c, err := New(d, "rows")
	require.NoError(t, err)
	return c
}

func assertGolden(t *testing.T, name, sql string, args []any) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(sql+"\n"+FormatArgs(args)))
}

func filteredQuery() queryir.Select {
	return queryir.Select{
		Namespace: "app",
		Tenant:    "acme",
		Type:      "post",
		Filter: queryir.AllOf(
			queryir.Eq("data.status", "published"),
			queryir.Gt("v", 100),
		),
		Sort:   []queryir.Sort{{Field: "data.rank", Desc: true}},
		Limit:  10,
		Offset: 20,
	}
}

func TestSelect_Golden(t *testing.T) {
	sql, args, err := newCompiler(t, SQLite).Select(queryir.Select{Namespace: "app", Type: "post"})
	require.NoError(t, err)
	assertGolden(t, "sqlite_select_partition", sql, args)

	sql, args, err = newCompiler(t, SQLite).Select(filteredQuery())
	require.NoError(t, err)
	assertGolden(t, "sqlite_select_filtered", sql, args)

	sql, args, err = newCompiler(t, Postgres).Select(filteredQuery())
	require.NoError(t, err)
	assertGolden(t, "postgres_select_filtered", sql, args)
}

func TestHistory_Golden(t *testing.T) {
	key := row.Key{Namespace: "app", Type: row.VersionsType("post"), ID: "p1"}
	sql, args, err := newCompiler(t, SQLite).History(key, 5)
	require.NoError(t, err)
	assertGolden(t, "sqlite_history", sql, args)
}

func TestCount_Golden(t *testing.T) {
	q := queryir.Select{
		Namespace:      "app",
		Type:           "post",
		IDs:            []string{"a", "b"},
		IncludeDeleted: true,
		Filter: queryir.AnyOf(
			queryir.Exists{Field: "data.tags"},
			queryir.Eq("deletedBy", nil),
		),
		Sort:  []queryir.Sort{{Field: "title"}},
		Limit: 3,
	}
	sql, args, err := newCompiler(t, Postgres).Count(q)
	require.NoError(t, err)
	assertGolden(t, "postgres_count_ids", sql, args)
}

func TestSelect_FilterAppliedAfterResolution(t *testing.T) {
	sql, _, err := newCompiler(t, SQLite).Select(queryir.Select{
		Namespace: "app",
		Type:      "post",
		Filter:    queryir.Eq("title", "x"),
	})
	require.NoError(t, err)

	start := strings.Index(sql, "ROW_NUMBER()")
	end := strings.Index(sql, ") AS cur")
	require.True(t, start > 0 && end > start)
	inner := sql[start:end]
	assert.NotContains(t, inner, "title", "filter must not reach the window subquery")
	assert.Contains(t, sql, "WHERE rn = 1 AND deleted_at IS NULL AND title = ?")
}

func TestSelect_LiteralsNeverInterpolated(t *testing.T) {
	sql, args, err := newCompiler(t, SQLite).Select(queryir.Select{
		Namespace: "app",
		Type:      "post",
		Filter:    queryir.Like("data.body", "%'; DROP TABLE rows; --%"),
	})
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.Contains(t, args, "%'; DROP TABLE rows; --%")
}

func TestSelect_OffsetWithoutLimit(t *testing.T) {
	q := queryir.Select{Namespace: "app", Type: "post", Offset: 5}

	sql, args, err := newCompiler(t, SQLite).Select(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY id ASC LIMIT -1 OFFSET ?")
	assert.Equal(t, int64(5), args[len(args)-1])

	sql, _, err = newCompiler(t, Postgres).Select(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY id ASC OFFSET $4")
}

func TestSelect_NullAndEmptyComposites(t *testing.T) {
	tests := []struct {
		name string
		pred queryir.Predicate
		want string
	}{
		{"eq null metadata", queryir.Eq("deletedBy", nil), "deleted_by IS NULL"},
		{"ne null metadata", queryir.Ne("title", nil), "title IS NOT NULL"},
		{"eq null data", queryir.Eq("data.x", nil), "json_extract(data, ?) IS NULL"},
		{"exists data", queryir.Exists{Field: "data.x"}, "NOT (json_extract(data, ?) IS NULL)"},
		{"empty and", queryir.And{}, "1 = 1"},
		{"empty or", queryir.Or{}, "1 = 0"},
		{"empty in", queryir.In{Field: "id"}, "1 = 0"},
		{"in data", queryir.In{Field: "data.n", Values: []any{1, 2}}, "json_extract(data, ?) IN (?, ?)"},
		{"not", queryir.Not{Predicate: queryir.Eq("id", "a")}, "NOT (id = ?)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _, err := newCompiler(t, SQLite).Select(queryir.Select{
				Namespace: "app", Type: "post", Filter: tt.pred,
			})
			require.NoError(t, err)
			assert.Contains(t, sql, tt.want)
		})
	}
}

func TestSelect_PostgresInBindsJSON(t *testing.T) {
	sql, args, err := newCompiler(t, Postgres).Select(queryir.Select{
		Namespace: "app",
		Type:      "post",
		Filter:    queryir.In{Field: "data.tag", Values: []any{"a", true}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "data #> CAST($4 AS text[]) IN (CAST($5 AS jsonb), CAST($6 AS jsonb))")
	assert.Equal(t, []any{"app", "", "post", "{tag}", `"a"`, "true"}, args)
}

func TestSelect_RejectsInvalidInput(t *testing.T) {
	c := newCompiler(t, SQLite)

	_, _, err := c.Select(queryir.Select{Namespace: "bad name", Type: "post"})
	assert.True(t, row.IsValidation(err))

	_, _, err = c.Select(queryir.Select{Namespace: "app", Type: "post", Filter: queryir.Eq("data.a.b-c", 1)})
	assert.True(t, row.IsValidation(err))

	_, err = New(SQLite, "rows; DROP")
	assert.True(t, row.IsValidation(err))
}

func TestInsert(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO rows ("+Columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		newCompiler(t, SQLite).Insert())
	assert.Contains(t, newCompiler(t, Postgres).Insert(), "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)")
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = DialectByName("mysql")
	assert.Error(t, err)
}
