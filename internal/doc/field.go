package doc

import (
	"encoding/json"
	"strings"
)

// Lookup walks a dotted path ("author.name") through a document and returns
// the value found there. Validation of the shape happens only here, at the
// point a specific field is read.
func Lookup(data json.RawMessage, path string) (any, bool) {
	m, err := Decode(data)
	if err != nil {
		return nil, false
	}
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "" when absent or not a string.
func String(data json.RawMessage, path string) string {
	v, ok := Lookup(data, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
