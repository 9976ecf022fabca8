package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Entity is a node or relationship of the canonical graph. Properties form an
// ordered multimap: values keep insertion order, duplicates and blanks are
// dropped.
type Entity struct {
	ID     string
	Schema Schema

	props map[string][]string
}

// New creates an entity of the given schema. It panics on an unknown schema,
// which is always a programming error.
func New(schema Schema, id string) *Entity {
	if !schema.Valid() {
		panic(fmt.Sprintf("entity: unknown schema %q", schema))
	}
	return &Entity{ID: id, Schema: schema, props: make(map[string][]string)}
}

// Add appends values to prop. Unknown properties panic: mapping tables are
// validated against the vocabulary before any record is processed.
func (e *Entity) Add(prop string, values ...string) *Entity {
	if !e.Schema.HasProperty(prop) {
		panic(fmt.Sprintf("entity: %s has no property %q", e.Schema, prop))
	}
	if e.props == nil {
		e.props = make(map[string][]string)
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || contains(e.props[prop], v) {
			continue
		}
		e.props[prop] = append(e.props[prop], v)
	}
	return e
}

// Set replaces the values of prop.
func (e *Entity) Set(prop string, values ...string) *Entity {
	delete(e.props, prop)
	return e.Add(prop, values...)
}

// Get returns the values of prop.
func (e Entity) Get(prop string) []string {
	return append([]string(nil), e.props[prop]...)
}

// First returns the first value of prop, or "".
func (e Entity) First(prop string) string {
	if vals := e.props[prop]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Has reports whether prop carries at least one value.
func (e Entity) Has(prop string) bool {
	return len(e.props[prop]) > 0
}

// Properties returns a copy of the property multimap.
func (e Entity) Properties() map[string][]string {
	out := make(map[string][]string, len(e.props))
	for k, v := range e.props {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// PropertyNames returns the names of populated properties, sorted.
func (e Entity) PropertyNames() []string {
	names := make([]string, 0, len(e.props))
	for k := range e.props {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Endpoints returns the ids connected by an edge entity.
func (e Entity) Endpoints() (from, to string) {
	source, target := e.Schema.Roles()
	if source == "" {
		return "", ""
	}
	return e.First(source), e.First(target)
}

// Caption returns a display label.
func (e Entity) Caption() string {
	if name := e.First("name"); name != "" {
		return name
	}
	if full := e.First("full"); full != "" {
		return full
	}
	return e.ID
}

type entityJSON struct {
	ID         string              `json:"id"`
	Schema     Schema              `json:"schema"`
	Properties map[string][]string `json:"properties"`
}

// MarshalJSON renders {id, schema, properties}. encoding/json sorts map keys,
// so equal entities always render byte-identical.
func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(entityJSON{ID: e.ID, Schema: e.Schema, Properties: e.Properties()})
}

// UnmarshalJSON restores an entity, validating its schema and properties.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw entityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Schema.Valid() {
		return fmt.Errorf("unknown schema %q", raw.Schema)
	}
	out := Entity{ID: raw.ID, Schema: raw.Schema, props: make(map[string][]string)}
	for _, name := range sortedKeys(raw.Properties) {
		if !raw.Schema.HasProperty(name) {
			return fmt.Errorf("%s has no property %q", raw.Schema, name)
		}
		out.Add(name, raw.Properties[name]...)
	}
	*e = out
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
