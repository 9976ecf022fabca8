package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/jmespath/go-jmespath"
)

// evaluator compiles JMESPath expressions once and shares them between
// collectors.
type evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

var expressions = &evaluator{cache: make(map[string]*jmespath.JMESPath)}

func (e *evaluator) compile(expression string) (*jmespath.JMESPath, error) {
	if expression == "" {
		expression = "@"
	}

	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// extractor locates items, total, page size and cursor in a decoded page.
type extractor struct {
	items    *jmespath.JMESPath
	total    *jmespath.JMESPath
	pageSize *jmespath.JMESPath
	cursor   *jmespath.JMESPath
}

func newExtractor(paths Paths) (*extractor, error) {
	x := &extractor{}
	fields := []struct {
		name string
		expr string
		dst  **jmespath.JMESPath
		opt  bool
	}{
		{"paths.items", paths.Items, &x.items, false},
		{"paths.total", paths.Total, &x.total, true},
		{"paths.page_size", paths.PageSize, &x.pageSize, true},
		{"paths.cursor", paths.Cursor, &x.cursor, true},
	}
	for _, f := range fields {
		if f.opt && f.expr == "" {
			continue
		}
		compiled, err := expressions.compile(f.expr)
		if err != nil {
			return nil, &failure.ConfigError{Component: "pagination", Field: f.name, Reason: fmt.Sprintf("invalid expression %q", f.expr), Err: err}
		}
		*f.dst = compiled
	}
	return x, nil
}

// page is one parsed response.
type page struct {
	items    []record.Record
	total    int
	hasTotal bool
	pageSize int
	cursor   string
}

// parse decodes body. JMESPath only walks plain maps, so the document is
// searched before items are converted to Records.
func (x *extractor) parse(body []byte) (page, error) {
	var p page

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return p, fmt.Errorf("decode page: %w", err)
	}

	items, err := x.items.Search(doc)
	if err != nil {
		return p, fmt.Errorf("extract items: %w", err)
	}
	p.items = record.Records(record.Normalize(items))

	if x.total != nil {
		if v, err := x.total.Search(doc); err == nil && v != nil {
			p.total, p.hasTotal = record.Int(v)
		}
	}
	if x.pageSize != nil {
		if v, err := x.pageSize.Search(doc); err == nil && v != nil {
			p.pageSize, _ = record.Int(v)
		}
	}
	if x.cursor != nil {
		if v, err := x.cursor.Search(doc); err == nil {
			p.cursor = record.Scalar(v)
		}
	}
	return p, nil
}
