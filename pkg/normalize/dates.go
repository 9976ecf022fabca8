// Package normalize canonicalizes field values before they become entity
// properties: dates, countries, gender codes and injected vocabularies.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

// Precision is the granularity of a parsed date.
type Precision string

const (
	PrecisionYear  Precision = "year"
	PrecisionMonth Precision = "month"
	PrecisionDay   Precision = "day"
)

// Layout is one accepted source date format, expressed as a Go time layout.
type Layout struct {
	Layout    string    `yaml:"layout"`
	Precision Precision `yaml:"precision,omitempty"`
}

// DefaultLayouts is the ordered format list tried when none is configured.
// German month names are translated before parsing, so the English layouts
// match "Dezember 2022" as well.
var DefaultLayouts = []Layout{
	{Layout: "2006-01-02"},
	{Layout: "2006-01"},
	{Layout: "2006"},
	{Layout: "2.1.2006"},
	{Layout: "2.1.06"},
	{Layout: "1.2006"},
	{Layout: "2006, 2.1."},
	{Layout: "2006,2.1."},
	{Layout: "2006,1,2"},
	{Layout: "2006,Jan."},
	{Layout: "2006,Jan"},
	{Layout: "2006,January"},
	{Layout: "2006,2.January"},
	{Layout: "2006/1"},
	{Layout: "2006,2.Jan."},
	{Layout: "January 2006"},
	{Layout: "Jan 2006"},
	{Layout: "2. January 2006"},
	{Layout: "2.January 2006"},
	{Layout: time.RFC3339},
	{Layout: "2006-01-02T15:04:05"},
	{Layout: "2006-01-02 15:04:05"},
}

// precisionOf infers the precision of a layout from its day and month
// tokens.
func precisionOf(layout string) Precision {
	rest := strings.ReplaceAll(layout, "2006", "")
	rest = strings.ReplaceAll(rest, "15:04:05", "")
	switch {
	case strings.ContainsAny(rest, "2"):
		return PrecisionDay
	case strings.Contains(rest, "1") || strings.Contains(rest, "Jan"):
		return PrecisionMonth
	default:
		return PrecisionYear
	}
}

var germanMonths = map[string]string{
	"januar": "January", "jan": "Jan", "jänner": "January",
	"februar": "February", "feb": "Feb",
	"märz": "March", "maerz": "March", "mär": "Mar", "mrz": "Mar",
	"april": "April", "apr": "Apr",
	"mai": "May",
	"juni": "June", "jun": "Jun",
	"juli": "July", "jul": "Jul",
	"august": "August", "aug": "Aug",
	"september": "September", "sep": "Sep", "sept": "Sep",
	"oktober": "October", "okt": "Oct",
	"november": "November", "nov": "Nov",
	"dezember": "December", "dez": "Dec",
}

var wordPattern = regexp.MustCompile(`\p{L}+`)

func translateMonths(s string) string {
	return wordPattern.ReplaceAllStringFunc(s, func(w string) string {
		if en, ok := germanMonths[strings.ToLower(w)]; ok {
			return en
		}
		return w
	})
}

// DateParser turns source dates into ISO 8601 truncated to the precision
// present in the input.
type DateParser struct {
	layouts []Layout
}

// NewDateParser builds a parser over an ordered layout list. An empty list
// selects DefaultLayouts.
func NewDateParser(layouts []Layout) *DateParser {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	out := make([]Layout, len(layouts))
	for i, l := range layouts {
		if l.Precision == "" {
			l.Precision = precisionOf(l.Layout)
		}
		out[i] = l
	}
	return &DateParser{layouts: out}
}

// Parse tries each layout in order and reports whether one matched.
func (p *DateParser) Parse(value string) (string, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(value, "XX.", ""))
	if s == "" {
		return "", false
	}
	s = translateMonths(s)
	for _, l := range p.layouts {
		t, err := time.Parse(l.Layout, s)
		if err != nil {
			continue
		}
		switch l.Precision {
		case PrecisionYear:
			return t.Format("2006"), true
		case PrecisionMonth:
			return t.Format("2006-01"), true
		default:
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// Normalize returns the ISO form of value, or value unchanged when no layout
// matches.
func (p *DateParser) Normalize(value string) string {
	if iso, ok := p.Parse(value); ok {
		return iso
	}
	return value
}

var (
	fromPattern  = regexp.MustCompile(`(?i)\b(?:ab|von|seit)\s+([\p{L}\d\s.]+?)\s*\)`)
	untilPattern = regexp.MustCompile(`(?i)\bbis\s+([\p{L}\d\s.]+?)\s*\)`)
	spanPattern  = regexp.MustCompile(`(\d{4})\s?-\s?(\d{4})`)
	yearPattern  = regexp.MustCompile(`\b(\d{4})\b`)
)

// ExtractRange reads a validity interval out of free-text labels such as
// "(ab Dezember 2022)", "(bis 29.11.2023)", "(Bundestag 2021 - 2025)" or
// "Einkommen im Jahr 2024". The first value yielding a bound wins.
func (p *DateParser) ExtractRange(values ...string) (start, end string) {
	for _, v := range values {
		if start, end = p.extractRange(v); start != "" || end != "" {
			return start, end
		}
	}
	return "", ""
}

func (p *DateParser) extractRange(value string) (string, string) {
	if value == "" {
		return "", ""
	}
	if m := fromPattern.FindStringSubmatch(value); m != nil {
		if iso, ok := p.Parse(m[1]); ok {
			return iso, ""
		}
	}
	if m := untilPattern.FindStringSubmatch(value); m != nil {
		if iso, ok := p.Parse(m[1]); ok {
			return "", iso
		}
	}
	if m := spanPattern.FindStringSubmatch(value); m != nil {
		return m[1], m[2]
	}
	if m := yearPattern.FindStringSubmatch(value); m != nil {
		return m[1], m[1]
	}
	return "", ""
}
