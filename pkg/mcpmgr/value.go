package mcpmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ValueKind identifies the arm of a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueString
	ValueObject
	ValueArray
)

func (k ValueKind) String() string {
	switch k {
	case ValueBool:
		return "bool"
	case ValueNumber:
		return "number"
	case ValueString:
		return "string"
	case ValueObject:
		return "object"
	case ValueArray:
		return "array"
	default:
		return "null"
	}
}

// Value is an opaque, JSON-shaped result. Objects keep the key order the
// server sent. The zero Value is null.
type Value struct {
	kind ValueKind
	b    bool
	num  json.Number
	str  string
	obj  *orderedmap.OrderedMap[string, Value]
	arr  []Value
}

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }

// NumberValue wraps f.
func NumberValue(f float64) Value {
	return Value{kind: ValueNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: ValueString, str: s} }

// ArrayValue wraps items.
func ArrayValue(items ...Value) Value {
	return Value{kind: ValueArray, arr: append([]Value{}, items...)}
}

// ObjectValue builds an object from alternating key/value pairs.
func ObjectValue(pairs ...any) Value {
	om := orderedmap.New[string, Value]()
	for i := 0; i+1 < len(pairs); i += 2 {
		key := fmt.Sprint(pairs[i])
		switch v := pairs[i+1].(type) {
		case Value:
			om.Set(key, v)
		case string:
			om.Set(key, StringValue(v))
		case bool:
			om.Set(key, BoolValue(v))
		case int:
			om.Set(key, NumberValue(float64(v)))
		case float64:
			om.Set(key, NumberValue(v))
		default:
			om.Set(key, Value{})
		}
	}
	return Value{kind: ValueObject, obj: om}
}

// DecodeValue parses raw JSON into a Value. Empty input is null.
func DecodeValue(raw json.RawMessage) (Value, error) {
	var v Value
	if len(bytes.TrimSpace(raw)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, fmt.Errorf("mcpmgr: decode result: %w", err)
	}
	return v, nil
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNull() bool { return v.kind == ValueNull }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == ValueBool }

func (v Value) Number() (float64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	return f, err == nil
}

func (v Value) String() string {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueNull:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Str returns the string arm.
func (v Value) Str() (string, bool) { return v.str, v.kind == ValueString }

// Get looks up key on an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != ValueObject || v.obj == nil {
		return Value{}, false
	}
	return v.obj.Get(key)
}

// Keys lists object keys in their original order.
func (v Value) Keys() []string {
	if v.kind != ValueObject || v.obj == nil {
		return nil
	}
	keys := make([]string, 0, v.obj.Len())
	for pair := v.obj.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Index returns the i-th element of an array value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != ValueArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Len is the element count of arrays and objects, the byte length of strings,
// and zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case ValueArray:
		return len(v.arr)
	case ValueObject:
		if v.obj == nil {
			return 0
		}
		return v.obj.Len()
	case ValueString:
		return len(v.str)
	}
	return 0
}

// Text flattens a tool result for display: the text items of a "content"
// array joined by newlines, or the value itself when it has no such shape.
func (v Value) Text() string {
	content, ok := v.Get("content")
	if !ok || content.kind != ValueArray {
		return v.String()
	}
	var parts []string
	for _, item := range content.arr {
		if typ, _ := item.Get("type"); typ.str != "text" {
			continue
		}
		if text, ok := item.Get("text"); ok {
			parts = append(parts, text.str)
		}
	}
	if len(parts) == 0 {
		return v.String()
	}
	return strings.Join(parts, "\n")
}

// IsToolError reports whether a tool result carries "isError": true.
func (v Value) IsToolError() bool {
	flag, ok := v.Get("isError")
	if !ok {
		return false
	}
	b, _ := flag.Bool()
	return b
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueBool:
		return json.Marshal(v.b)
	case ValueNumber:
		return []byte(v.num), nil
	case ValueString:
		return json.Marshal(v.str)
	case ValueObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return v.obj.MarshalJSON()
	case ValueArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case '{':
		om := orderedmap.New[string, Value]()
		if err := om.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Value{kind: ValueObject, obj: om}
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		if items == nil {
			items = []Value{}
		}
		*v = Value{kind: ValueArray, arr: items}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return err
		}
		*v = Value{kind: ValueNumber, num: n}
	}
	return nil
}
