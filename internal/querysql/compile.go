package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/vdoc/internal/queryir"
	"github.com/roach88/vdoc/internal/row"
)

// Columns is the column list returned by every row query, in scan order.
const Columns = "ns, tenant, type, id, v, title, data, created_at, created_by, updated_at, updated_by, deleted_at, deleted_by"

// columnCount is the number of entries in Columns.
const columnCount = 13

// Compiler compiles queries against one row table in one dialect.
type Compiler struct {
	dialect Dialect
	table   string
}

// New creates a Compiler. The table name is validated here so that every
// statement built later is safe to execute.
func New(d Dialect, table string) (*Compiler, error) {
	if d == nil {
		return nil, fmt.Errorf("new compiler: nil dialect")
	}
	if err := row.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	return &Compiler{dialect: d, table: table}, nil
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect { return c.dialect }

// Table returns the row table name.
func (c *Compiler) Table() string { return c.table }

// builder accumulates query text and its bound parameters in textual order.
type builder struct {
	d    Dialect
	sb   strings.Builder
	args []any
}

func (b *builder) write(s string) { b.sb.WriteString(s) }

// bind appends v and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// Select compiles a resolved read.
func (c *Compiler) Select(q queryir.Select) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	b := &builder{d: c.dialect}
	b.write("SELECT " + Columns + " FROM ")
	c.resolved(b, q)
	if err := c.outerWhere(b, q); err != nil {
		return "", nil, err
	}
	if err := c.orderBy(b, q.Sort); err != nil {
		return "", nil, err
	}
	c.paging(b, q.Limit, q.Offset)
	return b.sb.String(), b.args, nil
}

// Count compiles a count of resolved rows. Sort and paging are ignored.
func (c *Compiler) Count(q queryir.Select) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	b := &builder{d: c.dialect}
	b.write("SELECT COUNT(*) FROM ")
	c.resolved(b, q)
	if err := c.outerWhere(b, q); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

// History compiles a read of every version of key, newest first. Rows that
// share a v collapse to the latest insertion. Tombstones are included.
// A limit of 0 means unbounded.
func (c *Compiler) History(key row.Key, limit int) (string, []any, error) {
	if err := key.Validate(); err != nil {
		return "", nil, err
	}
	b := &builder{d: c.dialect}
	b.write("SELECT " + Columns + " FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY v ORDER BY seq DESC) AS rn FROM " + c.table)
	b.write(" WHERE ns = " + b.bind(key.Namespace))
	b.write(" AND tenant = " + b.bind(key.Tenant))
	b.write(" AND type = " + b.bind(key.Type))
	b.write(" AND id = " + b.bind(key.ID))
	b.write(") AS h WHERE rn = 1 ORDER BY v DESC")
	c.paging(b, limit, 0)
	return b.sb.String(), b.args, nil
}

// Insert returns the statement appending one row; arguments follow Columns.
func (c *Compiler) Insert() string {
	phs := make([]string, columnCount)
	for i := range phs {
		phs[i] = c.dialect.Placeholder(i + 1)
	}
	return "INSERT INTO " + c.table + " (" + Columns + ") VALUES (" + strings.Join(phs, ", ") + ")"
}

// resolved writes the window-function subquery restricted to the partition.
func (c *Compiler) resolved(b *builder, q queryir.Select) {
	b.write("(SELECT *, ROW_NUMBER() OVER (PARTITION BY ns, tenant, type, id ORDER BY v DESC, seq DESC) AS rn FROM " + c.table)
	b.write(" WHERE ns = " + b.bind(q.Namespace))
	b.write(" AND tenant = " + b.bind(q.Tenant))
	b.write(" AND type = " + b.bind(q.Type))
	if len(q.IDs) > 0 {
		phs := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			phs[i] = b.bind(id)
		}
		b.write(" AND id IN (" + strings.Join(phs, ", ") + ")")
	}
	b.write(") AS cur")
}

func (c *Compiler) outerWhere(b *builder, q queryir.Select) error {
	b.write(" WHERE rn = 1")
	if !q.IncludeDeleted {
		b.write(" AND deleted_at IS NULL")
	}
	if q.Filter == nil {
		return nil
	}
	b.write(" AND ")
	return c.predicate(b, q.Filter)
}

// orderBy always ends with id so paging is deterministic.
func (c *Compiler) orderBy(b *builder, sorts []queryir.Sort) error {
	b.write(" ORDER BY ")
	for _, s := range sorts {
		expr, err := c.value(b, s.Field)
		if err != nil {
			return err
		}
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		b.write(expr + dir + ", ")
	}
	b.write("id ASC")
	return nil
}

func (c *Compiler) paging(b *builder, limit, offset int) {
	if limit > 0 {
		b.write(" LIMIT " + b.bind(int64(limit)))
	} else if offset > 0 && c.dialect.NoLimit() != "" {
		b.write(" " + c.dialect.NoLimit())
	}
	if offset > 0 {
		b.write(" OFFSET " + b.bind(int64(offset)))
	}
}

// value returns the expression reading field, binding the payload path
// when the field points into data.
func (c *Compiler) value(b *builder, field string) (string, error) {
	ref, err := queryir.ParseField(field)
	if err != nil {
		return "", err
	}
	if !ref.IsData() {
		return ref.Column, nil
	}
	return c.dialect.JSONValue(b.bind(c.dialect.JSONPath(ref.Path))), nil
}

func (c *Compiler) predicate(b *builder, p queryir.Predicate) error {
	switch pred := p.(type) {
	case queryir.Compare:
		return c.compare(b, pred)
	case *queryir.Compare:
		return c.compare(b, *pred)
	case queryir.In:
		return c.in(b, pred)
	case *queryir.In:
		return c.in(b, *pred)
	case queryir.Exists:
		return c.exists(b, pred)
	case *queryir.Exists:
		return c.exists(b, *pred)
	case queryir.And:
		return c.junction(b, pred.Predicates, " AND ", "1 = 1")
	case *queryir.And:
		return c.junction(b, pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.junction(b, pred.Predicates, " OR ", "1 = 0")
	case *queryir.Or:
		return c.junction(b, pred.Predicates, " OR ", "1 = 0")
	case queryir.Not:
		return c.not(b, pred)
	case *queryir.Not:
		return c.not(b, *pred)
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) compare(b *builder, cmp queryir.Compare) error {
	ref, err := queryir.ParseField(cmp.Field)
	if err != nil {
		return err
	}
	if cmp.Value == nil {
		return c.compareNull(b, ref, cmp.Op == queryir.OpNe)
	}
	if !ref.IsData() {
		v, err := scalarParam(cmp.Value)
		if err != nil {
			return err
		}
		b.write(ref.Column + " " + string(cmp.Op) + " " + b.bind(v))
		return nil
	}
	path := b.bind(c.dialect.JSONPath(ref.Path))
	if cmp.Op == queryir.OpLike {
		b.write(c.dialect.JSONText(path) + " LIKE " + b.bind(cmp.Value))
		return nil
	}
	lhs := c.dialect.JSONValue(path)
	ph := c.dialect.Placeholder(len(b.args) + 1)
	rhs, v, err := c.dialect.JSONLiteral(ph, cmp.Value)
	if err != nil {
		return err
	}
	b.args = append(b.args, v)
	b.write(lhs + " " + string(cmp.Op) + " " + rhs)
	return nil
}

func (c *Compiler) compareNull(b *builder, ref queryir.FieldRef, negate bool) error {
	if !ref.IsData() {
		if negate {
			b.write(ref.Column + " IS NOT NULL")
		} else {
			b.write(ref.Column + " IS NULL")
		}
		return nil
	}
	cond := c.dialect.JSONIsNull(b.bind(c.dialect.JSONPath(ref.Path)))
	if negate {
		b.write("NOT (" + cond + ")")
	} else {
		b.write(cond)
	}
	return nil
}

func (c *Compiler) in(b *builder, in queryir.In) error {
	if len(in.Values) == 0 {
		b.write("1 = 0")
		return nil
	}
	ref, err := queryir.ParseField(in.Field)
	if err != nil {
		return err
	}
	var lhs string
	if ref.IsData() {
		lhs = c.dialect.JSONValue(b.bind(c.dialect.JSONPath(ref.Path)))
	} else {
		lhs = ref.Column
	}
	items := make([]string, len(in.Values))
	for i, raw := range in.Values {
		if ref.IsData() {
			ph := c.dialect.Placeholder(len(b.args) + 1)
			expr, v, err := c.dialect.JSONLiteral(ph, raw)
			if err != nil {
				return err
			}
			b.args = append(b.args, v)
			items[i] = expr
			continue
		}
		v, err := scalarParam(raw)
		if err != nil {
			return err
		}
		items[i] = b.bind(v)
	}
	b.write(lhs + " IN (" + strings.Join(items, ", ") + ")")
	return nil
}

func (c *Compiler) exists(b *builder, e queryir.Exists) error {
	ref, err := queryir.ParseField(e.Field)
	if err != nil {
		return err
	}
	return c.compareNull(b, ref, true)
}

func (c *Compiler) junction(b *builder, ps []queryir.Predicate, sep, empty string) error {
	if len(ps) == 0 {
		b.write(empty)
		return nil
	}
	b.write("(")
	for i, p := range ps {
		if i > 0 {
			b.write(sep)
		}
		if err := c.predicate(b, p); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

func (c *Compiler) not(b *builder, n queryir.Not) error {
	b.write("NOT (")
	if err := c.predicate(b, n.Predicate); err != nil {
		return err
	}
	b.write(")")
	return nil
}

// FormatArgs renders bound arguments one per line for debugging and golden tests.
func FormatArgs(args []any) string {
	var sb strings.Builder
	for i, a := range args {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(fmt.Sprintf(": %T(%v)\n", a, a))
	}
	return sb.String()
}
