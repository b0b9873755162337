package queryir

// Predicate represents a filter condition over a resolved row.
//
// Predicate types:
//   - Compare: field <op> literal
//   - In: field IN (literals...)
//   - Exists: field IS NOT NULL
//   - And / Or / Not: boolean composition
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpGt   Op = ">"
	OpGte  Op = ">="
	OpLt   Op = "<"
	OpLte  Op = "<="
	OpLike Op = "LIKE"
)

// Compare is a field-op-literal predicate.
// An OpEq/OpNe comparison against a nil Value compiles to IS NULL / IS NOT NULL.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// In matches rows whose field equals any of Values. An empty Values list
// matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// Exists matches rows where field is present and not null.
type Exists struct {
	Field string
}

func (Exists) predicateNode() {}

// And is a conjunction. Empty means always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is a disjunction. Empty means always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Sort orders results by a field.
type Sort struct {
	Field string
	Desc  bool
}

// Select reads the current version of every key in a partition.
//
// Namespace, Tenant and Type select the partition; IDs, when non-empty,
// narrows it to specific documents. Filter, Sort, Limit and Offset apply to
// the resolved rows, in that order.
type Select struct {
	Namespace      string
	Tenant         string
	Type           string
	IDs            []string
	Filter         Predicate
	Sort           []Sort
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// Eq is shorthand for Compare{field, OpEq, v}.
func Eq(field string, v any) Compare { return Compare{Field: field, Op: OpEq, Value: v} }

// Ne is shorthand for Compare{field, OpNe, v}.
func Ne(field string, v any) Compare { return Compare{Field: field, Op: OpNe, Value: v} }

// Gt is shorthand for Compare{field, OpGt, v}.
func Gt(field string, v any) Compare { return Compare{Field: field, Op: OpGt, Value: v} }

// Gte is shorthand for Compare{field, OpGte, v}.
func Gte(field string, v any) Compare { return Compare{Field: field, Op: OpGte, Value: v} }

// Lt is shorthand for Compare{field, OpLt, v}.
func Lt(field string, v any) Compare { return Compare{Field: field, Op: OpLt, Value: v} }

// Lte is shorthand for Compare{field, OpLte, v}.
func Lte(field string, v any) Compare { return Compare{Field: field, Op: OpLte, Value: v} }

// Like is shorthand for Compare{field, OpLike, pattern}.
func Like(field, pattern string) Compare { return Compare{Field: field, Op: OpLike, Value: pattern} }

// AllOf builds an And.
func AllOf(ps ...Predicate) And { return And{Predicates: ps} }

// AnyOf builds an Or.
func AnyOf(ps ...Predicate) Or { return Or{Predicates: ps} }
