package lead

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata is the optional free-form payload attached to an Event.
type Metadata map[string]Value

// Kind enumerates the JSON value kinds a metadata Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a JSON-compatible value. The zero Value is null.
//
// Numbers keep their decimal text so that large integers and exact decimals
// survive a decode/encode round trip.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

func Int(n int64) Value { return Number(json.Number(strconv.FormatInt(n, 10))) }

func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.Clone()
		}
		v.arr = arr
	case KindObject:
		obj := make(map[string]Value, len(v.obj))
		for k, item := range v.obj {
			obj[k] = item.Clone()
		}
		v.obj = obj
	}
	return v
}

// Float builds a number value from f.
func Float(f float64) Value {
	return Number(json.Number(strconv.FormatFloat(f, 'g', -1, 64)))
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }

func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if _, err := v.num.Float64(); err != nil {
			return nil, fmt.Errorf("metadata: invalid number %q", v.num.String())
		}
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("metadata: unknown value kind %s", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// FromAny converts the output of a generic JSON decode into a Value.
func FromAny(raw any) (Value, error) {
	return fromAny(raw)
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case float64:
		return Float(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("metadata: unsupported value of type %T", raw)
	}
}
