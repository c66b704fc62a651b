package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a JSON-like tagged union carried in workflow contexts, condition
// operands and metadata. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list Value holding items.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, l: items}
}

// Map returns a map Value. A nil map produces an empty map.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Strings returns a list Value of strings.
func Strings(items ...string) Value {
	out := make([]Value, len(items))
	for i, s := range items {
		out[i] = String(s)
	}
	return List(out...)
}

// FromAny converts decoded JSON/YAML data and common Go scalars into a
// Value. Unknown types fall back to their fmt string form.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Value:
		if t == nil {
			return Null()
		}
		return *t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case []Value:
		return List(t...)
	case []string:
		return Strings(t...)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = FromAny(item)
		}
		return List(out...)
	case map[string]Value:
		return Map(t)
	case Context:
		return Map(t)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return Map(out)
	case map[string]string:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = String(item)
		}
		return Map(out)
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsZero lets yaml omitempty drop null values.
func (v Value) IsZero() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns the items held by v.
func (v Value) AsList() ([]Value, bool) { return v.l, v.kind == KindList }

// AsMap returns the entries held by v.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Truthy is true for boolean true and for strings that parse as true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		return err == nil && b
	case KindNumber:
		return v.n != 0
	default:
		return false
	}
}

// String renders the canonical string form used by comparisons: null is
// empty, numbers use the shortest exact decimal, lists are comma joined and
// maps are rendered as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	case KindList:
		parts := make([]string, len(v.l))
		for i, item := range v.l {
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	case KindMap:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// Interface converts v back into plain Go data.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, item := range v.m {
			other, ok := o.m[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Lookup resolves a dot-separated path through nested maps. List elements
// can be addressed by numeric segment. Missing segments resolve to Null.
func (v Value) Lookup(path string) Value {
	if path == "" {
		return v
	}
	current := v
	for _, seg := range strings.Split(path, ".") {
		switch current.kind {
		case KindMap:
			next, ok := current.m[seg]
			if !ok {
				return Null()
			}
			current = next
		case KindList:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(current.l) {
				return Null()
			}
			current = current.l[idx]
		default:
			return Null()
		}
	}
	return current
}

// clone returns a deep copy of v.
func (v Value) clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.l))
		for i, item := range v.l {
			out[i] = item.clone()
		}
		return Value{kind: KindList, l: out}
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			out[k] = item.clone()
		}
		return Value{kind: KindMap, m: out}
	default:
		return v
	}
}

// MarshalJSON encodes v as plain JSON. Map keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.l == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.l)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("model: unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// UnmarshalYAML decodes any YAML node into v.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*v = fromYAML(raw)
	return nil
}

// MarshalYAML encodes v as plain YAML data.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// fromYAML handles map[any]any which yaml.v3 can produce for non-string keys.
func fromYAML(raw any) Value {
	switch t := raw.(type) {
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = fromYAML(item)
		}
		return Map(out)
	case map[any]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = fromYAML(item)
		}
		return Map(out)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = fromYAML(item)
		}
		return List(out...)
	default:
		return FromAny(t)
	}
}

// Context is the open key/value bag carried through one workflow execution.
type Context map[string]Value

// Lookup resolves a dot-separated path. Missing segments resolve to Null.
func (c Context) Lookup(path string) Value {
	if c == nil || path == "" {
		return Null()
	}
	if v, ok := c[path]; ok {
		return v
	}
	head, rest, found := strings.Cut(path, ".")
	v, ok := c[head]
	if !ok {
		return Null()
	}
	if !found {
		return v
	}
	return v.Lookup(rest)
}

// Clone returns a deep copy of c. Cloning nil yields an empty context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v.clone()
	}
	return out
}

// Merge overwrites entries of c with those of other, returning c.
func (c Context) Merge(other Context) Context {
	maps.Copy(c, other)
	return c
}

// ContextFromMap converts plain decoded data into a Context.
func ContextFromMap(m map[string]any) Context {
	out := make(Context, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// Equal reports deep equality of two contexts.
func (c Context) Equal(o Context) bool {
	return Map(c).Equal(Map(o))
}

// MarshalJSON encodes c with sorted keys so snapshots are byte stable.
func (c Context) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return Map(c).MarshalJSON()
}
