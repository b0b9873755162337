package querysql

import (
	"fmt"
	"strings"
)

// Dialect abstracts the differences between the SQL engines the row store
// runs on: placeholder syntax, payload path access and paging.
type Dialect interface {
	// Name identifies the dialect ("sqlite", "postgres").
	Name() string
	// Placeholder returns the placeholder for the n-th (1-based) parameter.
	Placeholder(n int) string
	// JSONPath returns the bound parameter value addressing path inside data.
	JSONPath(path []string) string
	// JSONValue returns the SQL expression reading the payload value at the
	// path bound to placeholder ph, comparable with JSONLiteral.
	JSONValue(ph string) string
	// JSONText returns the SQL expression reading the payload value at ph as text.
	JSONText(ph string) string
	// JSONLiteral returns the expression and bound value used to compare v
	// against a JSONValue expression.
	JSONLiteral(ph string, v any) (string, any, error)
	// JSONIsNull returns a condition that holds when the value at ph is
	// missing or JSON null.
	JSONIsNull(ph string) string
	// NoLimit is the LIMIT clause emitted when only OFFSET is requested,
	// or "" when the engine accepts a bare OFFSET.
	NoLimit() string
}

// SQLite is the dialect for github.com/mattn/go-sqlite3 (JSON1 built in).
var SQLite Dialect = sqliteDialect{}

// Postgres is the dialect for github.com/lib/pq with a JSONB data column.
var Postgres Dialect = postgresDialect{}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", name)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) JSONValue(ph string) string { return "json_extract(data, " + ph + ")" }
func (sqliteDialect) JSONText(ph string) string { return "json_extract(data, " + ph + ")" }
func (sqliteDialect) NoLimit() string { return "LIMIT -1" }

func (sqliteDialect) JSONPath(path []string) string {
	return "$." + strings.Join(path, ".")
}

func (sqliteDialect) JSONIsNull(ph string) string {
	return "json_extract(data, " + ph + ") IS NULL"
}

// JSONLiteral binds v natively; json_extract yields SQL scalars and 1/0 for
// JSON booleans, which the driver binds for Go bools.
func (sqliteDialect) JSONLiteral(ph string, v any) (string, any, error) {
	p, err := scalarParam(v)
	if err != nil {
		return "", nil, err
	}
	return ph, p, nil
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) JSONValue(ph string) string { return "data #> CAST(" + ph + " AS text[])" }
func (postgresDialect) JSONText(ph string) string { return "data #>> CAST(" + ph + " AS text[])" }
func (postgresDialect) NoLimit() string { return "" }

func (postgresDialect) JSONPath(path []string) string {
	return "{" + strings.Join(path, ",") + "}"
}

func (postgresDialect) JSONIsNull(ph string) string {
	return "COALESCE(data #> CAST(" + ph + " AS text[]), 'null'::jsonb) = 'null'::jsonb"
}

// JSONLiteral encodes v as a JSON document and compares in jsonb, so numbers
// order numerically and strings lexically without casts that could fail on
// mismatched payloads.
func (postgresDialect) JSONLiteral(ph string, v any) (string, any, error) {
	p, err := jsonParam(v)
	if err != nil {
		return "", nil, err
	}
	return "CAST(" + ph + " AS jsonb)", p, nil
}
