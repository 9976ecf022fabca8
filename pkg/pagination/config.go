package pagination

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dataresearchcenter/datasets/pkg/failure"
)

// Mode selects the paging strategy.
type Mode string

const (
	ModeOffset Mode = "offset"
	ModeCursor Mode = "cursor"
	ModeSingle Mode = "single"
)

// IDFormat selects how a chunk of ids is put on the query string.
type IDFormat string

const (
	// IDFormatBracket sends id[in]=[1,2,3].
	IDFormatBracket IDFormat = "bracket"

	// IDFormatComma sends id=1,2,3.
	IDFormatComma IDFormat = "comma"

	// IDFormatRepeat sends id=1&id=2&id=3.
	IDFormatRepeat IDFormat = "repeat"
)

// Paths are JMESPath expressions locating the parts of a page. An empty
// Items path means the document itself is the item list.
type Paths struct {
	Items    string `yaml:"items"`
	Total    string `yaml:"total"`
	PageSize string `yaml:"page_size"`
	Cursor   string `yaml:"cursor"`
}

// Config holds collector configuration.
type Config struct {
	Mode Mode `yaml:"mode"`

	// Offset paging
	StartParam string `yaml:"start_param"`
	LimitParam string `yaml:"limit_param"`
	PageSize   int    `yaml:"page_size"`

	// Cursor paging. CursorFormat wraps the cursor before it is sent,
	// "{cursor}" marks its place: "limit=500|offset={cursor}".
	CursorParam  string `yaml:"cursor_param"`
	CursorFormat string `yaml:"cursor_format"`

	Paths Paths `yaml:"paths"`

	// Id lookups
	ChunkSize      int      `yaml:"chunk_size"`
	IDParam        string   `yaml:"id_param"`
	IDFormat       IDFormat `yaml:"id_format"`
	MaxConcurrency int      `yaml:"max_concurrency"`
}

// DefaultConfig returns offset paging over the meta.result envelope.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeOffset,
		StartParam: "range_start",
		LimitParam: "range_end",
		PageSize:   100,
		Paths: Paths{
			Items:    "data",
			Total:    "meta.result.total",
			PageSize: "meta.result.range_end",
		},
		ChunkSize:      100,
		IDParam:        "id[in]",
		IDFormat:       IDFormatBracket,
		MaxConcurrency: 4,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.StartParam == "" {
		c.StartParam = d.StartParam
	}
	if c.LimitParam == "" {
		c.LimitParam = d.LimitParam
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.IDParam == "" {
		c.IDParam = d.IDParam
	}
	if c.IDFormat == "" {
		c.IDFormat = d.IDFormat
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeOffset:
		if c.PageSize < 1 {
			return failure.Configf("pagination", "page_size", "must be at least 1, got %d", c.PageSize)
		}
	case ModeCursor:
		if c.CursorParam == "" || c.Paths.Cursor == "" {
			return failure.Configf("pagination", "cursor_param", "cursor mode needs cursor_param and paths.cursor")
		}
		if c.CursorFormat != "" && !strings.Contains(c.CursorFormat, "{cursor}") {
			return failure.Configf("pagination", "cursor_format", "must contain {cursor}, got %q", c.CursorFormat)
		}
	case ModeSingle:
	default:
		return failure.Configf("pagination", "mode", "unknown mode %q", c.Mode)
	}
	if c.ChunkSize < 1 {
		return failure.Configf("pagination", "chunk_size", "must be at least 1, got %d", c.ChunkSize)
	}
	if c.MaxConcurrency < 1 {
		return failure.Configf("pagination", "max_concurrency", "must be at least 1, got %d", c.MaxConcurrency)
	}
	switch c.IDFormat {
	case IDFormatBracket, IDFormatComma, IDFormatRepeat:
	default:
		return failure.Configf("pagination", "id_format", "unknown format %q", c.IDFormat)
	}
	return nil
}

// setIDs puts ids on q in the configured format.
func (c Config) setIDs(q url.Values, ids []string) {
	switch c.IDFormat {
	case IDFormatComma:
		q.Set(c.IDParam, strings.Join(ids, ","))
	case IDFormatRepeat:
		q[c.IDParam] = append([]string(nil), ids...)
	default:
		q.Set(c.IDParam, fmt.Sprintf("[%s]", strings.Join(ids, ",")))
	}
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+2)
	for k, vs := range q {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
