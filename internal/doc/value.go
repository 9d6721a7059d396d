// Package doc implements the recursive JSON-like value model that Oplog
// payloads and Documents are built from (spec §9: Value = Null | Bool |
// Number | String | Array(Value) | Object(ordered map)).
//
// Plain encoding/json unmarshals objects into map[string]any, which loses
// key order and therefore breaks canonical-byte hashing (§4.2: "keys not
// reordered"). Value carries its own ordered object representation and its
// own canonical encoder so every node hashes identical bytes for identical
// logical content.
package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is the recursive sum type described in spec §9.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  *Object
}

// Object is an order-preserving string-keyed map.
type Object struct {
	keys   []string
	values map[string]Value
}

func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(items []Value) Value  { return Value{kind: KindArray, arr: items} }
func Obj(o *Object) Value        { return Value{kind: KindObject, obj: o} }
func Number(raw json.Number) Value {
	return Value{kind: KindNumber, n: raw}
}

func (v Value) Kind() Kind          { return v.kind }
func (v Value) Bool() bool          { return v.b }
func (v Value) NumberRaw() string   { return string(v.n) }
func (v Value) StringVal() string   { return v.s }
func (v Value) ArrayItems() []Value { return v.arr }
func (v Value) ObjectVal() *Object  { return v.obj }
func (v Value) IsNull() bool        { return v.kind == KindNull }

// Equal performs a structural, order-insensitive-for-objects comparison.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return string(a.n) == string(b.n)
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		for _, k := range a.obj.Keys() {
			av, _ := a.obj.Get(k)
			bv, ok := b.obj.Get(k)
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Parse decodes raw JSON bytes into a Value, preserving object key order and
// exact numeric literals (json.Number, never reformatted).
func Parse(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v Value
	if err := parseValue(dec, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

func parseValue(dec *json.Decoder, out *Value) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	return parseToken(dec, tok, out)
}

func parseToken(dec *json.Decoder, tok json.Token, out *Value) error {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, ok := keyTok.(string)
				if !ok {
					return fmt.Errorf("doc: expected object key, got %v", keyTok)
				}
				var val Value
				if err := parseValue(dec, &val); err != nil {
					return err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return err
			}
			*out = Obj(obj)
			return nil
		case '[':
			var items []Value
			for dec.More() {
				var val Value
				if err := parseValue(dec, &val); err != nil {
					return err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return err
			}
			*out = Array(items)
			return nil
		default:
			return fmt.Errorf("doc: unexpected delimiter %v", t)
		}
	case nil:
		*out = Null()
		return nil
	case bool:
		*out = Bool(t)
		return nil
	case json.Number:
		*out = Number(t)
		return nil
	case string:
		*out = String(t)
		return nil
	default:
		return fmt.Errorf("doc: unsupported token type %T", tok)
	}
}

// CanonicalBytes produces the stable byte representation hashed by the
// Oplog chain (spec §4.2): object keys in first-seen insertion order are
// NOT reordered, numbers are emitted exactly as parsed.
func (v Value) CanonicalBytes() []byte {
	var buf bytes.Buffer
	v.writeCanonical(&buf)
	return buf.Bytes()
}

func (v Value) writeCanonical(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(string(v.n))
	case KindString:
		enc, _ := json.Marshal(v.s)
		buf.Write(enc)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.writeCanonical(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.obj.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kenc, _ := json.Marshal(k)
			buf.Write(kenc)
			buf.WriteByte(':')
			val, _ := v.obj.Get(k)
			val.writeCanonical(buf)
		}
		buf.WriteByte('}')
	}
}

// IsObjectArray reports whether arr is non-empty and its first element is
// an object (spec §4.3 array-merge classification).
func IsObjectArray(v Value) bool {
	if v.kind != KindArray || len(v.arr) == 0 {
		return false
	}
	return v.arr[0].kind == KindObject
}

// ArrayID extracts the "id" or "_id" field of an object-array element, if
// present and non-empty.
func ArrayID(v Value) (string, bool) {
	if v.kind != KindObject {
		return "", false
	}
	if id, ok := v.obj.Get("id"); ok && id.kind == KindString && id.s != "" {
		return id.s, true
	}
	if id, ok := v.obj.Get("_id"); ok && id.kind == KindString && id.s != "" {
		return id.s, true
	}
	return "", false
}
