package querysql

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// scalarParam converts a query literal to a driver value.
func scalarParam(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number literal %q: %w", x.String(), err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported literal type %T", v)
	}
}

// jsonParam renders a query literal as JSON text.
func jsonParam(v any) (string, error) {
	p, err := scalarParam(v)
	if err != nil {
		return "", err
	}
	switch x := p.(type) {
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
