package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnknownTerm is returned by a Loader that has no label for a key.
var ErrUnknownTerm = errors.New("unknown vocabulary term")

// Loader resolves a vocabulary key that is missing from the static table.
type Loader interface {
	Load(ctx context.Context, key string) (string, error)
}

// Vocabulary maps source codes to labels. Lookups go to the static table
// first, then to an LRU cache in front of an optional Loader. A Vocabulary
// belongs to one pipeline run.
type Vocabulary struct {
	Name string

	static map[string]string
	loader Loader
	cache  *lru.Cache[string, string]
}

// NewVocabulary creates a vocabulary. size bounds the loader cache.
func NewVocabulary(name string, static map[string]string, loader Loader, size int) (*Vocabulary, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create vocabulary cache: %w", err)
	}
	table := make(map[string]string, len(static))
	for k, v := range static {
		table[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Vocabulary{Name: name, static: table, loader: loader, cache: cache}, nil
}

// Lookup returns the label for key. Loader failures are returned so the
// caller can report them; unknown keys yield ok=false with a nil error.
func (v *Vocabulary) Lookup(ctx context.Context, key string) (string, bool, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return "", false, nil
	}
	if label, ok := v.static[k]; ok {
		return label, true, nil
	}
	if label, ok := v.cache.Get(k); ok {
		return label, label != "", nil
	}
	if v.loader == nil {
		return "", false, nil
	}
	label, err := v.loader.Load(ctx, key)
	if errors.Is(err, ErrUnknownTerm) {
		v.cache.Add(k, "")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load %s term %q: %w", v.Name, key, err)
	}
	v.cache.Add(k, label)
	return label, label != "", nil
}

// Len returns the number of cached loader results.
func (v *Vocabulary) Len() int {
	return v.cache.Len()
}

// FetchFunc retrieves a document body.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// HTMLLoader resolves terms by fetching a page per key and reading the text
// of the first element matching Selector.
type HTMLLoader struct {
	// URLTemplate contains "{key}", replaced by the escaped term key.
	URLTemplate string
	Selector    string
	Fetch       FetchFunc
}

// Load implements Loader.
func (l HTMLLoader) Load(ctx context.Context, key string) (string, error) {
	target := strings.ReplaceAll(l.URLTemplate, "{key}", url.PathEscape(lastSegment(key)))
	body, err := l.Fetch(ctx, target)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", target, err)
	}
	text := strings.Join(strings.Fields(doc.Find(l.Selector).First().Text()), " ")
	if text == "" {
		return "", ErrUnknownTerm
	}
	return text, nil
}

// lastSegment strips URI prefixes from vocabulary keys
// ("https://d-nb.info/standards/vocab/gnd/gender#male" → "male").
func lastSegment(key string) string {
	key = strings.TrimSpace(key)
	if i := strings.LastIndexAny(key, "/#"); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return key
}
