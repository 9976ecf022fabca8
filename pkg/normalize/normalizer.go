package normalize

import (
	"context"
	"fmt"
	"strings"
)

// Normalizer names understood by Apply.
const (
	KindNone    = ""
	KindText    = "text"
	KindDate    = "date"
	KindCountry = "country"
	KindGender  = "gender"
	vocabPrefix = "vocab:"
)

// Normalizer bundles the per-run normalization state.
type Normalizer struct {
	Dates     *DateParser
	Countries *Countries

	vocabularies map[string]*Vocabulary
}

// New creates a normalizer. Nil parsers fall back to defaults.
func New(dates *DateParser, countries *Countries, vocabularies ...*Vocabulary) *Normalizer {
	if dates == nil {
		dates = NewDateParser(nil)
	}
	if countries == nil {
		countries = NewCountries(nil)
	}
	n := &Normalizer{Dates: dates, Countries: countries, vocabularies: make(map[string]*Vocabulary)}
	for _, v := range vocabularies {
		n.vocabularies[v.Name] = v
	}
	return n
}

// Vocabulary returns a registered vocabulary.
func (n *Normalizer) Vocabulary(name string) (*Vocabulary, bool) {
	v, ok := n.vocabularies[name]
	return v, ok
}

// Validate checks that kind names a known normalizer.
func (n *Normalizer) Validate(kind string) error {
	switch kind {
	case KindNone, KindText, KindDate, KindCountry, KindGender:
		return nil
	}
	if name, ok := strings.CutPrefix(kind, vocabPrefix); ok {
		if _, exists := n.vocabularies[name]; exists {
			return nil
		}
		return fmt.Errorf("unknown vocabulary %q", name)
	}
	return fmt.Errorf("unknown normalizer %q", kind)
}

// Apply normalizes value with the named normalizer. ok is false when the
// value should be dropped (unknown country or gender code, unknown term).
// Dates never drop: unparseable input passes through unchanged.
func (n *Normalizer) Apply(ctx context.Context, kind, value string) (string, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false, nil
	}
	switch kind {
	case KindNone:
		return value, true, nil
	case KindText:
		return strings.Join(strings.Fields(value), " "), true, nil
	case KindDate:
		return n.Dates.Normalize(value), true, nil
	case KindCountry:
		code, ok := n.Countries.Code(value)
		return code, ok, nil
	case KindGender:
		g, ok := Gender(value)
		return g, ok, nil
	}
	if name, ok := strings.CutPrefix(kind, vocabPrefix); ok {
		v, exists := n.vocabularies[name]
		if !exists {
			return "", false, fmt.Errorf("unknown vocabulary %q", name)
		}
		return v.Lookup(ctx, value)
	}
	return "", false, fmt.Errorf("unknown normalizer %q", kind)
}
