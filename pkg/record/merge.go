package record

import "strings"

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Record)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]any:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Merge deep-merges overlay into a copy of base. Keys present only in base
// survive, nested mappings are merged recursively, and overlay wins on every
// other collision. Neither argument is modified.
func Merge(base, overlay Record) Record {
	out := base.Clone()
	if out == nil {
		out = make(Record, len(overlay))
	}
	for k, ov := range overlay {
		bv, exists := out[k]
		if exists {
			bm, bok := AsRecord(bv)
			om, ook := AsRecord(ov)
			if bok && ook {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = cloneValue(ov)
	}
	return out
}

// With returns a copy of r with value stored at the dotted path. Missing
// intermediate mappings are created.
func (r Record) With(path string, value any) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	parts := strings.Split(path, ".")
	cur := out
	for _, part := range parts[:len(parts)-1] {
		next, ok := AsRecord(cur[part])
		if !ok {
			next = Record{}
		}
		cur[part] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return out
}

// Without returns a copy of r with the given top-level keys removed.
func (r Record) Without(keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
