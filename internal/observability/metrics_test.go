package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/route-playback/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddlewareRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}

	r := gin.New()
	r.Use(collector.Middleware())
	r.GET("/api/v1/routes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/v1/routes/a", "/api/v1/routes/b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("GET", "/api/v1/routes/:id", "200")); got != 2 {
		t.Fatalf("http_requests_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "http_request_duration_seconds", map[string]string{
		"method": "GET",
		"route":  "/api/v1/routes/:id",
	}); count != 2 {
		t.Fatalf("http_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}
	r := gin.New()
	r.Use(collector.Middleware())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched request count = %v, want 1", got)
	}
}

func TestCollectorsReuseExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("first NewPlaybackCollector: %v", err)
	}
	second, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("second NewPlaybackCollector: %v", err)
	}
	first.ObserveTick(false)
	second.ObserveTick(false)
	if got := testutil.ToFloat64(first.Ticks); got != 2 {
		t.Fatalf("shared ticks counter = %v, want 2", got)
	}
}

func TestPlaybackCollectorHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPlaybackCollector(reg)
	if err != nil {
		t.Fatalf("NewPlaybackCollector: %v", err)
	}
	collector.ObserveTick(false)
	collector.ObserveTick(true)
	collector.ObserveTransition("pause")
	collector.ObserveTransition("reset")
	collector.SetActiveSessions(3)
	collector.AddRoutesLoaded(8)
	collector.AddRoutesLoaded(-1)

	if got := testutil.ToFloat64(collector.Completions); got != 1 {
		t.Fatalf("completions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Transitions.WithLabelValues("pause")); got != 1 {
		t.Fatalf("pause transitions = %v, want 1", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"playback_ticks_total 2",
		"playback_trip_completions_total 1",
		`playback_transitions_total{kind="reset"} 1`,
		"playback_sessions_active 3",
		"playback_routes_loaded 7",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func TestNilPlaybackCollectorIsSafe(t *testing.T) {
	var c *PlaybackCollector
	c.ObserveTick(true)
	c.ObserveTransition("pause")
	c.SetActiveSessions(1)
	c.AddRoutesLoaded(1)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
