package export

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one flattened key/value pair.
type Field struct {
	Key   string
	Value any // string, json.Number, bool or nil
}

// Record is a flattened row. Key order follows the source: struct field order,
// object key order for JSON input, sorted keys for Go maps.
type Record []Field

func (r Record) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON keeps the record's key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Flatten turns a nested value into a single-level record with dotted keys.
// Arrays become their JSON text, or "" when empty. Timestamps are leaves since
// they encode as strings.
func Flatten(v any) (Record, error) {
	if r, ok := v.(Record); ok {
		return r, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	node, err := decodeNode(dec)
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}

	var out Record
	switch n := node.(type) {
	case *object:
		flattenInto(&out, "", n)
	default:
		out = Record{{Key: "value", Value: leaf(n)}}
	}
	return out, nil
}

// FlattenAll flattens every row.
func FlattenAll(rows []any) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := Flatten(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func flattenInto(out *Record, prefix string, obj *object) {
	for i, k := range obj.keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := obj.values[i].(*object); ok {
			flattenInto(out, key, child)
			continue
		}
		*out = append(*out, Field{Key: key, Value: leaf(obj.values[i])})
	}
}

func leaf(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return v
	}
	if len(arr) == 0 {
		return ""
	}
	text, err := json.Marshal(arr)
	if err != nil {
		return ""
	}
	return string(text)
}

// object is a JSON object that remembers key order.
type object struct {
	keys   []string
	values []any
}

func (o *object) MarshalJSON() ([]byte, error) {
	rec := make(Record, len(o.keys))
	for i, k := range o.keys {
		rec[i] = Field{Key: k, Value: o.values[i]}
	}
	return rec.MarshalJSON()
}

func decodeNode(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				obj.keys = append(obj.keys, key)
				obj.values = append(obj.values, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeNode(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return t, nil
	}
}
