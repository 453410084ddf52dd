package relib

import (
	"bytes"
	"encoding/json"
	"iter"
	"math"
	"reflect"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is a document: a mapping from field name to value that remembers
// insertion order. Values are the JSON scalar and container types (string,
// number, bool, nil, []any, map[string]any). Field order matters for
// serialization; the on-disk layout writes primary-key fields first and the
// remaining fields in the order they were set.
type Row struct {
	fields *orderedmap.OrderedMap[string, any]
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{fields: orderedmap.New[string, any]()}
}

// RowFromMap builds a row from a plain map. Keys are inserted in sorted
// order so the result is deterministic.
func RowFromMap(m map[string]any) *Row {
	r := NewRow()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Set stores a field value, preserving the position of an existing field.
// It returns the row to allow chained construction.
func (r *Row) Set(name string, value any) *Row {
	r.fields.Set(name, value)
	return r
}

// Get returns a field value and whether the field is present.
func (r *Row) Get(name string) (any, bool) {
	return r.fields.Get(name)
}

// Has reports whether the field is present.
func (r *Row) Has(name string) bool {
	_, ok := r.fields.Get(name)
	return ok
}

// Delete removes a field if present.
func (r *Row) Delete(name string) {
	r.fields.Delete(name)
}

// Len returns the number of fields.
func (r *Row) Len() int {
	return r.fields.Len()
}

// Fields iterates field names and values in insertion order.
func (r *Row) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Clone returns a deep copy of the row. Nested maps and slices are copied;
// scalars are shared.
func (r *Row) Clone() *Row {
	out := NewRow()
	for name, value := range r.Fields() {
		out.Set(name, cloneValue(value))
	}
	return out
}

// Map returns the fields as a plain map. Nested values are not copied.
func (r *Row) Map() map[string]any {
	out := make(map[string]any, r.Len())
	for name, value := range r.Fields() {
		out[name] = value
	}
	return out
}

// Equal reports structural equality with another row, ignoring field order.
// Numeric values compare by value, so an int written equals the float64 it
// decodes back to.
func (r *Row) Equal(other *Row) bool {
	if other == nil || r.Len() != other.Len() {
		return false
	}
	for name, value := range r.Fields() {
		ov, ok := other.Get(name)
		if !ok || !valueEqual(value, ov) {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler, emitting fields in insertion order.
// Values are encoded without HTML escaping so <, > and & stay literal in the
// stored documents.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	first := true
	for name, value := range r.Fields() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := enc.Encode(name); err != nil {
			return nil, err
		}
		// Encode terminates every value with a newline.
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(value); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, recording field order as read.
func (r *Row) UnmarshalJSON(data []byte) error {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
	return r.fields.UnmarshalJSON(data)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// valueEqual compares two field values, normalizing numeric types so values
// that round-tripped through JSON still match their in-memory originals.
func valueEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case nil:
		return b == nil
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !valueEqual(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !valueEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || math.Trunc(f) != f {
		return 0, false
	}
	return int64(f), true
}
