package entity

import (
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNoIdentity is returned when no identifying candidate is available.
var ErrNoIdentity = errors.New("no identifying property")

// Namespace seeds every name-based (SHA-1) id. Changing it changes every
// derived id in the graph.
var Namespace = uuid.MustParse("6f2d0c1e-3b1a-5e5c-9c43-5a1a2f0e7d11")

// MakeID derives a stable SHA-1 UUID from the non-empty parts. It returns ""
// when every part is empty.
func MakeID(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return uuid.NewSHA1(Namespace, []byte(strings.Join(kept, "|"))).String()
}

var folder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var fingerprintReplacer = strings.NewReplacer("ß", "ss", "&", " and ")

// Fingerprint normalizes free text for identity purposes: diacritics folded,
// lower-cased, punctuation dropped, whitespace collapsed.
func Fingerprint(text string) string {
	folded, _, err := transform.String(folder, fingerprintReplacer.Replace(strings.ToLower(text)))
	if err != nil {
		folded = strings.ToLower(text)
	}
	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// Slugify lower-cases s and joins its ASCII alphanumeric runs with '-'.
func Slugify(s string) string {
	fp := Fingerprint(s)
	var b strings.Builder
	dash := false
	for _, r := range fp {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// IDFactory namespaces ids with a dataset prefix.
type IDFactory struct {
	Prefix string
}

// Slug joins the slugified parts under the prefix. It returns "" when no part
// yields a slug.
func (f IDFactory) Slug(parts ...string) string {
	kept := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if s := Slugify(p); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	if f.Prefix != "" {
		kept = append([]string{Slugify(f.Prefix)}, kept...)
	}
	return strings.Join(kept, "-")
}

// Hash returns "<prefix>-<sha1 uuid of parts>", or "" without parts.
func (f IDFactory) Hash(parts ...string) string {
	id := MakeID(parts...)
	if id == "" {
		return ""
	}
	if f.Prefix == "" {
		return id
	}
	return Slugify(f.Prefix) + "-" + id
}

// Identity lists the identifying candidates of a node, strongest first.
type Identity struct {
	// Registration is a registration, register or VAT number.
	Registration string
	// NativeID is the id assigned by the source.
	NativeID string
	// Name is fingerprinted when nothing stronger exists.
	Name string
	// Scope disambiguates name-derived ids (e.g. the party of a donor).
	Scope []string
}

// Derive picks an id following the precedence registration number, then
// source-native id, then name fingerprint. kind namespaces native and name
// ids ("person", "organization").
func (f IDFactory) Derive(kind string, ident Identity) (string, error) {
	if reg := strings.TrimSpace(ident.Registration); reg != "" {
		return f.Slug(reg), nil
	}
	if native := strings.TrimSpace(ident.NativeID); native != "" {
		return f.Slug(kind, native), nil
	}
	if fp := Fingerprint(ident.Name); fp != "" {
		return f.Hash(append([]string{kind, fp}, ident.Scope...)...), nil
	}
	return "", ErrNoIdentity
}

// Edge derives a relationship id "<prefix>-<schema>-<sha1 of from|to|role...>".
// The same ordered pair and role always yield the same id.
func (f IDFactory) Edge(schema Schema, from, to string, role ...string) string {
	return f.Slug(string(schema), MakeID(append([]string{from, to}, role...)...))
}
