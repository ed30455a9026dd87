package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the tagged-variant tree carried by a field register: one of
// Null, Bool, Number, String, Array, or Object. It round-trips through
// JSON using json.Number so integers are never silently widened to
// float64, which is the one place the wire protocol's "preserve
// number/boolean/null/string/array/object distinctions" requirement
// actually bites.
type Value struct {
	raw any
}

// Null returns the Value representing JSON null.
func Null() Value { return Value{raw: nil} }

// Bool wraps a boolean Value.
func Bool(b bool) Value { return Value{raw: b} }

// Number wraps a numeric Value, preserving its literal textual form.
func Number(n json.Number) Value { return Value{raw: n} }

// Int wraps an integer Value.
func Int(i int64) Value { return Value{raw: json.Number(fmt.Sprintf("%d", i))} }

// Float wraps a floating point Value.
func Float(f float64) Value { return Value{raw: json.Number(fmt.Sprintf("%g", f))} }

// String wraps a string Value.
func String(s string) Value { return Value{raw: s} }

// Array wraps an ordered list of Values.
func Array(items ...Value) Value { return Value{raw: items} }

// Object wraps a map of named Values.
func Object(fields map[string]Value) Value { return Value{raw: fields} }

// IsNull reports whether v holds JSON null.
func (v Value) IsNull() bool { return v.raw == nil }

// Raw returns the underlying Go representation: nil, bool, json.Number,
// string, []Value, or map[string]Value.
func (v Value) Raw() any { return v.raw }

// Equal reports whether v and other encode to the same JSON value.
func (v Value) Equal(other Value) bool {
	a, err1 := json.Marshal(v)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// MarshalJSON encodes v as the JSON value it represents.
func (v Value) MarshalJSON() ([]byte, error) {
	switch t := v.raw.(type) {
	case nil:
		return []byte("null"), nil
	case []Value:
		return json.Marshal(t)
	case map[string]Value:
		return json.Marshal(t)
	default:
		return json.Marshal(t)
	}
}

// UnmarshalJSON decodes a JSON value into v, preserving numeric literal
// form via json.Number.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	converted, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			converted, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			converted, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = converted
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
