package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

var testCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pipeline_metrics_handler_test_total",
	Help: "Counter exercised by the handler test",
})

func TestHandler(t *testing.T) {
	testCounter.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "pipeline_metrics_handler_test_total 1") {
		t.Errorf("Expected test counter in output, got:\n%s", body)
	}
}
