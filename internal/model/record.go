package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is an ordered map of field name -> value. Nested JSON objects are
// decoded as *Record, arrays as []any.
type Record struct {
	keys   []string
	values map[string]any
}

func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key/value pairs.
func RecordOf(kv ...any) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Lookup returns the top-level field without path splitting.
func (r *Record) Lookup(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Get resolves a dotted path through nested records. A top-level key that
// itself contains dots wins over path splitting.
func (r *Record) Get(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	if v, ok := r.values[path]; ok {
		return v, ok
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	child, ok := r.values[head].(*Record)
	if !ok {
		return nil, false
	}
	return child.Get(rest)
}

// String returns the value at path when it is a non-nil string.
func (r *Record) String(path string) (string, bool) {
	v, ok := r.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Child returns the nested record at path.
func (r *Record) Child(path string) (*Record, bool) {
	v, ok := r.Get(path)
	if !ok {
		return nil, false
	}
	c, ok := v.(*Record)
	return c, ok && c != nil
}

// List returns the array at path.
func (r *Record) List(path string) ([]any, bool) {
	v, ok := r.Get(path)
	if !ok {
		return nil, false
	}
	l, ok := v.([]any)
	return l, ok
}

// Set writes a top-level field, keeping its original position when it
// already exists.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Clone copies the record; nested records are cloned, other values shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{keys: make([]string, len(r.keys)), values: make(map[string]any, len(r.values))}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		if c, ok := v.(*Record); ok {
			v = c.Clone()
		}
		out.values[k] = v
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	r.keys = nil
	r.values = make(map[string]any)
	return decodeObject(dec, r)
}

func decodeObject(dec *json.Decoder, r *Record) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err := dec.Token() // '}'
	return err
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			child := NewRecord()
			if err := decodeObject(dec, child); err != nil {
				return nil, err
			}
			return child, nil
		case '[':
			list := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}
