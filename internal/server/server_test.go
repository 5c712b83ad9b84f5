package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nholik/relay-sentinel/internal/healthcheck"
	"github.com/nholik/relay-sentinel/internal/metrics"
)

func TestSharedPortServesHealthAndMetrics(t *testing.T) {
	tracker := healthcheck.NewTracker()
	tracker.RecordPass(time.Millisecond, 2, 0)
	m := metrics.New()
	m.SetServiceUp("xray", true)

	cfg := Config{PollInterval: time.Minute, Tracker: tracker, Metrics: m}
	mux := http.NewServeMux()
	registerHealthRoutes(mux, cfg)
	registerMetricsRoute(mux, cfg.Metrics)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/report")
	if err != nil {
		t.Fatalf("get /report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("/report without source: expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `relay_sentinel_service_up{service="xray"} 1`) {
		t.Fatalf("metrics output missing service_up:\n%s", buf.String())
	}
}

func TestMetricsRouteSkippedWithoutCollector(t *testing.T) {
	mux := http.NewServeMux()
	registerMetricsRoute(mux, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
