// Package record holds the untyped records that flow from collection through
// resolution into materialization. Stages treat records as immutable: every
// transformation returns a new record instead of editing the one it received.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Record is one unit fetched from a source.
type Record map[string]any

// Decode parses a JSON document, keeping numbers as json.Number so that large
// source ids survive without float rounding.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return normalize(v), nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(data []byte) (any, error) {
	return Decode(bytes.NewReader(data))
}

// Normalize converts plain decoded maps into Records recursively. The input
// is left untouched: maps and lists are copied.
func Normalize(v any) any {
	return normalize(v)
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// AsRecord returns v as a Record when it is a mapping.
func AsRecord(v any) (Record, bool) {
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return Record(t), true
	default:
		return nil, false
	}
}

// Get returns the value at a dotted path ("politician.party.id").
func (r Record) Get(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	var cur any = r
	for _, part := range strings.Split(path, ".") {
		m, ok := AsRecord(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the scalar at path rendered as a trimmed string, or "".
func (r Record) String(path string) string {
	v, ok := r.Get(path)
	if !ok {
		return ""
	}
	return Scalar(v)
}

// Strings returns every non-empty scalar at path. A single scalar yields one
// element; a list yields its scalar members.
func (r Record) Strings(path string) []string {
	v, ok := r.Get(path)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := Scalar(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := Scalar(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Values returns every non-empty scalar reachable through path, descending
// into lists at any level: "Geldgeber.fulltext" over a list of mappings
// yields one value per member.
func (r Record) Values(path string) []string {
	var out []string
	collect(r, strings.Split(path, "."), &out)
	return out
}

func collect(v any, parts []string, out *[]string) {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			collect(item, parts, out)
		}
		return
	}
	if len(parts) == 0 {
		if s := Scalar(v); s != "" {
			*out = append(*out, s)
		}
		return
	}
	m, ok := AsRecord(v)
	if !ok {
		return
	}
	next, ok := m[parts[0]]
	if !ok {
		return
	}
	collect(next, parts[1:], out)
}

// Map returns the mapping at path.
func (r Record) Map(path string) (Record, bool) {
	v, ok := r.Get(path)
	if !ok {
		return nil, false
	}
	return AsRecord(v)
}

// Records returns the mappings at path: a list of mappings, or a single
// mapping wrapped in a slice.
func (r Record) Records(path string) []Record {
	v, ok := r.Get(path)
	if !ok {
		return nil
	}
	return Records(v)
}

// Records converts a mapping or a list of mappings into a slice of Records.
// Non-mapping list members are skipped.
func Records(v any) []Record {
	if m, ok := AsRecord(v); ok {
		return []Record{m}
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := AsRecord(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// Int returns the integer at path.
func (r Record) Int(path string) (int, bool) {
	v, ok := r.Get(path)
	if !ok {
		return 0, false
	}
	return Int(v)
}

// Int converts a decoded JSON number or numeric string into an int.
func Int(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Scalar renders a scalar value as a trimmed string. Mappings, lists and nil
// render as "".
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// IDString normalizes a source id so that 7, 7.0, "7" and json.Number("7")
// all compare equal.
func IDString(v any) string {
	s := Scalar(v)
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
	}
	return s
}
