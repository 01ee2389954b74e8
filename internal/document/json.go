package document

import (
	"encoding/json"
	"io"

	"github.com/openparl/parlingest/internal/ingest"
)

// ParseJSON decodes a JSON document into the generic tree. Objects become map
// nodes with sorted keys, arrays become lists, and primitives become scalars;
// numbers keep their source text so identifiers survive untouched.
func ParseJSON(url string, r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, ingest.NewError(ingest.KindParse, "parse json", url, err)
	}
	return fromJSONValue(v), nil
}

func fromJSONValue(v any) *Node {
	switch t := v.(type) {
	case map[string]any:
		node := NewMap()
		for key, val := range t {
			node.Add(key, fromJSONValue(val))
		}
		node.sortKeys()
		return node
	case []any:
		items := make([]*Node, 0, len(t))
		for _, val := range t {
			items = append(items, fromJSONValue(val))
		}
		return NewList(items...)
	case string:
		return NewScalar(t)
	case json.Number:
		return NewScalar(t.String())
	case bool:
		if t {
			return NewScalar("true")
		}
		return NewScalar("false")
	default:
		return NewScalar("")
	}
}
