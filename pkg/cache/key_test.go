package cache

import (
	"net/url"
	"testing"
)

func TestRequestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  RequestKey
		want string
	}{
		{
			name: "url only",
			key:  RequestKey{URL: "https://www.abgeordnetenwatch.de/api/v2/sidejobs"},
			want: "pipeline:http:www.abgeordnetenwatch.de/api/v2/sidejobs",
		},
		{
			name: "trailing slash and scheme dropped",
			key:  RequestKey{URL: "http://example.org/api/"},
			want: "pipeline:http:example.org/api",
		},
		{
			name: "query params sorted",
			key: RequestKey{
				URL:   "https://example.org/api",
				Query: url.Values{"range_start": {"0"}, "range_end": {"100"}},
			},
			want: "pipeline:http:example.org/api:range_end=100:range_start=0",
		},
		{
			name: "multi-value param",
			key: RequestKey{
				URL:   "https://example.org/api",
				Query: url.Values{"id": {"1", "2"}},
			},
			want: "pipeline:http:example.org/api:id=1,2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestKey_Deterministic(t *testing.T) {
	key := RequestKey{
		URL:   "https://example.org/api",
		Query: url.Values{"z": {"1"}, "a": {"2"}, "m": {"3"}},
	}
	first := key.String()
	for i := 0; i < 50; i++ {
		if got := key.String(); got != first {
			t.Fatalf("iteration %d: %q != %q", i, got, first)
		}
	}
}

func TestURLKey_CollapsesScheme(t *testing.T) {
	a := URLKey("ds", "http://example.org/api/v2/sidejobs/1")
	b := URLKey("ds", "https://example.org/api/v2/sidejobs/1")
	if a != b {
		t.Errorf("URLKey differs by scheme: %q vs %q", a, b)
	}
	if want := "emit/ds/url/example.org/api/v2/sidejobs/1"; a != want {
		t.Errorf("URLKey = %q, want %q", a, want)
	}
}

func TestEntityKey(t *testing.T) {
	if got, want := EntityKey("ds", "person-1"), "emit/ds/entity/person-1"; got != want {
		t.Errorf("EntityKey = %q, want %q", got, want)
	}
	if EntityKey("a", "x") == EntityKey("b", "x") {
		t.Error("EntityKey must be scoped by dataset")
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := map[string]string{
		"https://example.org/a": "example.org/a",
		"HTTP://example.org/a":  "example.org/a",
		"ftp://example.org/a":   "ftp://example.org/a",
		"  example.org/a ":      "example.org/a",
	}
	for in, want := range tests {
		if got := SanitizeURL(in); got != want {
			t.Errorf("SanitizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
