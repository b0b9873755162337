package queryir

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/vdoc/internal/row"
)

// Validate checks a Select before it reaches the compiler: partition
// identifiers, field names, operators, literal types and paging bounds.
// All failures are row validation errors; no I/O is performed.
//
// Validate is a pure function with no side effects.
func Validate(q Select) error {
	if err := row.ValidateIdentifier("namespace", q.Namespace); err != nil {
		return err
	}
	if err := row.ValidateIdentifier("type", q.Type); err != nil {
		return err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return row.NewValidationError("validate query", "limit and offset must be non-negative")
	}
	for _, s := range q.Sort {
		if _, err := ParseField(s.Field); err != nil {
			return err
		}
	}
	return ValidatePredicate(q.Filter)
}

// ValidatePredicate checks a predicate tree. A nil predicate is valid.
func ValidatePredicate(p Predicate) error {
	if p == nil {
		return nil
	}
	switch pred := p.(type) {
	case Compare:
		return validateCompare(pred)
	case *Compare:
		return validateCompare(*pred)
	case In:
		return validateIn(pred)
	case *In:
		return validateIn(*pred)
	case Exists:
		_, err := ParseField(pred.Field)
		return err
	case *Exists:
		_, err := ParseField(pred.Field)
		return err
	case And:
		return validateAll(pred.Predicates)
	case *And:
		return validateAll(pred.Predicates)
	case Or:
		return validateAll(pred.Predicates)
	case *Or:
		return validateAll(pred.Predicates)
	case Not:
		return validateNot(pred)
	case *Not:
		return validateNot(*pred)
	default:
		return row.NewValidationError("validate predicate", fmt.Sprintf("unsupported predicate type %T", p))
	}
}

func validateCompare(c Compare) error {
	if _, err := ParseField(c.Field); err != nil {
		return err
	}
	switch c.Op {
	case OpEq, OpNe:
	case OpGt, OpGte, OpLt, OpLte:
		if c.Value == nil {
			return row.NewValidationError("validate predicate",
				fmt.Sprintf("operator %s on %q requires a value", c.Op, c.Field))
		}
	case OpLike:
		if _, ok := c.Value.(string); !ok {
			return row.NewValidationError("validate predicate",
				fmt.Sprintf("LIKE on %q requires a string pattern", c.Field))
		}
	default:
		return row.NewValidationError("validate predicate", fmt.Sprintf("unknown operator %q", c.Op))
	}
	return validateLiteral(c.Field, c.Value)
}

func validateIn(in In) error {
	if _, err := ParseField(in.Field); err != nil {
		return err
	}
	for _, v := range in.Values {
		if v == nil {
			return row.NewValidationError("validate predicate",
				fmt.Sprintf("IN on %q must not contain null", in.Field))
		}
		if err := validateLiteral(in.Field, v); err != nil {
			return err
		}
	}
	return nil
}

func validateNot(n Not) error {
	if n.Predicate == nil {
		return row.NewValidationError("validate predicate", "NOT requires an operand")
	}
	return ValidatePredicate(n.Predicate)
}

func validateAll(ps []Predicate) error {
	for _, p := range ps {
		if p == nil {
			return row.NewValidationError("validate predicate", "nil predicate in composite")
		}
		if err := ValidatePredicate(p); err != nil {
			return err
		}
	}
	return nil
}

// validateLiteral accepts only scalar literals that every backend can bind.
func validateLiteral(field string, v any) error {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float64, json.Number:
		return nil
	default:
		return row.NewValidationError("validate predicate",
			fmt.Sprintf("unsupported literal type %T for %q", v, field))
	}
}
