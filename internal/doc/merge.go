// Package doc handles the opaque document payload stored in a row's data
// column.
//
// The payload is JSON. The row store never looks inside it; only the merge
// applied by updates and the field reads done by callers interpret it.
package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Directive keys recognized inside a patch.
const (
	// IncKey adds a number to a numeric field: {"views": {"$inc": 1}}.
	IncKey = "$inc"
	// PullKey removes matching elements from an array: {"tags": {"$pull": "old"}}.
	PullKey = "$pull"
)

// Inc returns a patch value that adds n to the field it is assigned to.
func Inc(n float64) map[string]any {
	return map[string]any{IncKey: n}
}

// Pull returns a patch value that removes array elements matching match.
func Pull(match any) map[string]any {
	return map[string]any{PullKey: match}
}

// Decode parses a JSON object, preserving numbers as json.Number.
// An empty input decodes to an empty object.
func Decode(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Encode serializes a document. Map keys are emitted in sorted order, so
// equal documents encode to equal bytes.
func Encode(m map[string]any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Merge deep-merges patch into base and returns the result.
//
// Nested objects merge key-wise, arrays and scalars replace wholesale, an
// explicit null sets the field to null. A {"$inc": n} value adds n to the
// existing numeric field (missing counts as zero). A {"$pull": match} value
// removes array elements equal to match; for object elements, an element is
// removed when it contains every field of match with an equal value.
func Merge(base, patch json.RawMessage) (json.RawMessage, error) {
	b, err := Decode(base)
	if err != nil {
		return nil, fmt.Errorf("merge base: %w", err)
	}
	p, err := Decode(patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	merged, err := mergeObject(b, p)
	if err != nil {
		return nil, err
	}
	return Encode(merged)
}

// Apply merges patch into an empty document. Directives resolve against
// missing fields, so {"n": {"$inc": 2}} yields {"n": 2}.
func Apply(patch json.RawMessage) (json.RawMessage, error) {
	return Merge(nil, patch)
}

func mergeObject(dst, patch map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}
	for k, pv := range patch {
		merged, err := mergeValue(k, out[k], pv)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func mergeValue(field string, cur, patch any) (any, error) {
	pm, ok := patch.(map[string]any)
	if !ok {
		return patch, nil
	}
	if len(pm) == 1 {
		if n, ok := pm[IncKey]; ok {
			return increment(field, cur, n)
		}
		if m, ok := pm[PullKey]; ok {
			return pull(field, cur, m)
		}
	}
	cm, ok := cur.(map[string]any)
	if !ok {
		cm = map[string]any{}
	}
	return mergeObject(cm, pm)
}

func increment(field string, cur, by any) (any, error) {
	delta, err := toNumber(by)
	if err != nil {
		return nil, fmt.Errorf("field %q: %s amount: %w", field, IncKey, err)
	}
	if cur == nil {
		return delta, nil
	}
	base, err := toNumber(cur)
	if err != nil {
		return nil, fmt.Errorf("field %q: %s on non-numeric value: %w", field, IncKey, err)
	}
	bi, bIsInt := asInt(base)
	di, dIsInt := asInt(delta)
	if bIsInt && dIsInt {
		if (di > 0 && bi > math.MaxInt64-di) || (di < 0 && bi < math.MinInt64-di) {
			return nil, fmt.Errorf("field %q: %s overflows int64", field, IncKey)
		}
		return json.Number(strconv.FormatInt(bi+di, 10)), nil
	}
	bf, _ := base.Float64()
	df, _ := delta.Float64()
	return json.Number(strconv.FormatFloat(bf+df, 'g', -1, 64)), nil
}

func toNumber(v any) (json.Number, error) {
	switch n := v.(type) {
	case json.Number:
		if _, err := n.Float64(); err != nil {
			return "", err
		}
		return n, nil
	case float64:
		return json.Number(strconv.FormatFloat(n, 'g', -1, 64)), nil
	case int:
		return json.Number(strconv.Itoa(n)), nil
	case int64:
		return json.Number(strconv.FormatInt(n, 10)), nil
	default:
		return "", fmt.Errorf("not a number: %T", v)
	}
}

func asInt(n json.Number) (int64, bool) {
	i, err := n.Int64()
	return i, err == nil
}

func pull(field string, cur, match any) (any, error) {
	if cur == nil {
		return []any{}, nil
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: %s on non-array value %T", field, PullKey, cur)
	}
	kept := make([]any, 0, len(arr))
	for _, el := range arr {
		if !matches(el, match) {
			kept = append(kept, el)
		}
	}
	return kept, nil
}

// matches reports whether el is removed by a $pull of match.
func matches(el, match any) bool {
	mm, ok := match.(map[string]any)
	if !ok {
		return equal(el, match)
	}
	em, ok := el.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range mm {
		got, present := em[k]
		if !present || !equal(got, want) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	an, aok := a.(json.Number)
	bn, bok := b.(json.Number)
	if aok && bok {
		af, aerr := an.Float64()
		bf, berr := bn.Float64()
		if aerr == nil && berr == nil {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
