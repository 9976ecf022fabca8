package pagination

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dataresearchcenter/datasets/internal/testutil"
	"github.com/dataresearchcenter/datasets/pkg/client"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func newTestCollector(t *testing.T, mock *testutil.MockAPI, config Config) *Collector {
	t.Helper()
	c, err := client.New(client.Config{
		BaseURL:   mock.URL(),
		UserAgent: "datasets-test/1.0",
		Retry: client.RetryConfig{
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}, client.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	collector, err := NewCollector(c, config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return collector
}

func ids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.String("id")
	}
	return out
}

func seq(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

func TestCollect_OffsetPaging(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/sidejobs", testutil.OffsetHandler(testutil.Items(250), testutil.OffsetOptions{}))

	collector := newTestCollector(t, mock, DefaultConfig())
	recs, err := collector.CollectAll(context.Background(), "/sidejobs", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}

	if got := mock.PathCount("/sidejobs"); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
	if diff := cmp.Diff(seq(1, 250), ids(recs)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	queries := mock.Queries()
	for i, want := range []string{"range_start=0", "range_start=100", "range_start=200"} {
		if !strings.Contains(queries[i], want) {
			t.Errorf("query %d = %q, want %s", i, queries[i], want)
		}
	}
}

func TestCollect_ServerPageSize(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/list", testutil.OffsetHandler(testutil.Items(250), testutil.OffsetOptions{MaxPageSize: 50}))

	collector := newTestCollector(t, mock, DefaultConfig())
	recs, err := collector.CollectAll(context.Background(), "/list", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if len(recs) != 250 {
		t.Errorf("records = %d, want 250", len(recs))
	}
	if got := mock.PathCount("/list"); got != 5 {
		t.Errorf("fetches = %d, want 5", got)
	}
}

func TestCollect_TotalChanges(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/list", testutil.OffsetHandler(testutil.Items(250), testutil.OffsetOptions{ReportedTotal: 150}))

	collector := newTestCollector(t, mock, DefaultConfig())
	recs, err := collector.CollectAll(context.Background(), "/list", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if len(recs) != 250 {
		t.Errorf("records = %d, want 250 after total was recomputed", len(recs))
	}
}

func TestCollect_StopsOnEmptyPage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	items := testutil.Items(150)
	mock.SetHandler("/list", func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("range_start"))
		page := []map[string]any{}
		if start < len(items) {
			end := min(start+100, len(items))
			page = items[start:end]
		}
		// total overstates the real size
		body := map[string]any{"meta": map[string]any{"result": map[string]any{"total": 1000, "range_end": 100}}, "data": page}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(t, w, body)
	})

	collector := newTestCollector(t, mock, DefaultConfig())
	recs, err := collector.CollectAll(context.Background(), "/list", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if len(recs) != 150 {
		t.Errorf("records = %d, want 150", len(recs))
	}
	if got := mock.PathCount("/list"); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
}

func TestCollect_EarlyBreakStopsFetching(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/list", testutil.OffsetHandler(testutil.Items(250), testutil.OffsetOptions{}))

	collector := newTestCollector(t, mock, DefaultConfig())
	n := 0
	for _, err := range collector.Collect(context.Background(), "/list", nil) {
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		n++
		if n == 10 {
			break
		}
	}
	if got := mock.PathCount("/list"); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestCollect_Restartable(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/list", testutil.OffsetHandler(testutil.Items(120), testutil.OffsetOptions{}))

	collector := newTestCollector(t, mock, DefaultConfig())
	first, err := collector.CollectAll(context.Background(), "/list", nil)
	if err != nil {
		t.Fatalf("first CollectAll() error = %v", err)
	}
	second, err := collector.CollectAll(context.Background(), "/list", nil)
	if err != nil {
		t.Fatalf("second CollectAll() error = %v", err)
	}
	if diff := cmp.Diff(ids(first), ids(second)); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestCollect_Cursor(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/vorgang", testutil.CursorHandler(testutil.Items(25), "cursor", 10))

	collector := newTestCollector(t, mock, Config{
		Mode:        ModeCursor,
		CursorParam: "cursor",
		Paths:       Paths{Items: "documents", Cursor: "cursor"},
	})
	recs, err := collector.CollectAll(context.Background(), "/vorgang", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if diff := cmp.Diff(seq(1, 25), ids(recs)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got := mock.PathCount("/vorgang"); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
}

func TestCollect_CursorFormat(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	// Semantic MediaWiki askargs: the offset travels inside "parameters"
	mock.SetHandler("/api.php", func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if _, v, ok := strings.Cut(r.URL.Query().Get("parameters"), "offset="); ok {
			offset, _ = strconv.Atoi(v)
		}
		results := make([]string, 0, 2)
		for i := offset + 1; i <= min(offset+2, 5); i++ {
			results = append(results, `"Spende `+strconv.Itoa(i)+`": {"fulltext": "`+strconv.Itoa(i)+`"}`)
		}
		body := `{"query": {"results": {` + strings.Join(results, ",") + `}}`
		if offset+2 < 5 {
			body += `, "query-continue-offset": ` + strconv.Itoa(offset+2)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body + "}"))
	})

	collector := newTestCollector(t, mock, Config{
		Mode:         ModeCursor,
		CursorParam:  "parameters",
		CursorFormat: "limit=2|offset={cursor}",
		Paths: Paths{
			Items:  "sort_by(values(query.results), &fulltext)",
			Cursor: `"query-continue-offset"`,
		},
	})
	recs, err := collector.CollectAll(context.Background(), "/api.php", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.String("fulltext")
	}
	if diff := cmp.Diff(seq(1, 5), got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if n := mock.PathCount("/api.php"); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestCollect_SingleWithValuesProjection(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/ask", testutil.NewJSONResponse(`{"results": {"Spende A": {"fulltext": "Spende A"}}}`))

	collector := newTestCollector(t, mock, Config{
		Mode:  ModeSingle,
		Paths: Paths{Items: "values(results)"},
	})
	recs, err := collector.CollectAll(context.Background(), "/ask", nil)
	if err != nil {
		t.Fatalf("CollectAll() error = %v", err)
	}
	if len(recs) != 1 || recs[0].String("fulltext") != "Spende A" {
		t.Errorf("records = %v", recs)
	}
}

func TestCollect_ServiceUnavailableAborts(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	items := testutil.Items(250)
	ok := testutil.OffsetHandler(items, testutil.OffsetOptions{})
	mock.SetHandler("/list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("range_start") == "100" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ok(w, r)
	})

	collector := newTestCollector(t, mock, DefaultConfig())
	var got int
	var collectErr error
	for _, err := range collector.Collect(context.Background(), "/list", nil) {
		if err != nil {
			collectErr = err
			break
		}
		got++
	}
	if !errors.Is(collectErr, client.ErrServiceUnavailable) {
		t.Fatalf("error = %v, want ErrServiceUnavailable", collectErr)
	}
	if got != 100 {
		t.Errorf("records before failure = %d, want 100", got)
	}
}

func TestNewCollector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"bad expression", Config{Paths: Paths{Items: "data[", Total: "meta.result.total"}}},
		{"unknown mode", Config{Mode: "scroll"}},
		{"cursor without path", Config{Mode: ModeCursor, CursorParam: "c"}},
		{"cursor format without marker", Config{Mode: ModeCursor, CursorParam: "c", CursorFormat: "offset=", Paths: Paths{Items: "i", Cursor: "c"}}},
		{"negative chunk", Config{ChunkSize: -1}},
		{"unknown id format", Config{IDFormat: "json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCollector(nil, tt.config)
			if !errors.Is(err, failure.ErrConfiguration) {
				t.Errorf("NewCollector() error = %v, want configuration error", err)
			}
		})
	}
}
