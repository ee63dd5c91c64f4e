package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter_Inc(t *testing.T) {
	r := NewMetricsRegistry()
	c := r.NewCounter("test_counter", "Test counter", nil)

	c.Inc()
	c.Inc()
	c.Inc()

	if c.Value() != 3 {
		t.Fatalf("expected 3, got %f", c.Value())
	}
}

func TestCounter_Add(t *testing.T) {
	r := NewMetricsRegistry()
	c := r.NewCounter("test_counter", "Test counter", nil)

	c.Add(5)
	c.Add(3.5)

	if c.Value() != 8.5 {
		t.Fatalf("expected 8.5, got %f", c.Value())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	r := NewMetricsRegistry()
	g := r.NewGauge("test_gauge", "Test gauge", nil)

	g.Set(42)
	if g.Value() != 42 {
		t.Fatalf("expected 42, got %f", g.Value())
	}

	g.Inc()
	g.Dec()
	g.Add(-2)
	if g.Value() != 40 {
		t.Fatalf("expected 40, got %f", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("test_histogram", "Test histogram", nil, []float64{1, 5, 10})

	h.Observe(0.5)
	h.Observe(3)
	h.Observe(7)
	h.Observe(15)

	if h.count != 4 {
		t.Fatalf("expected count 4, got %d", h.count)
	}
	if h.sum != 25.5 {
		t.Fatalf("expected sum 25.5, got %f", h.sum)
	}
	// One observation per bucket; 15 exceeds every bound and is only
	// counted by count/+Inf.
	for i, want := range []uint64{1, 1, 1} {
		if h.counts[i] != want {
			t.Fatalf("bucket %d = %d, want %d", i, h.counts[i], want)
		}
	}
}

func TestHistogram_ObserveDuration(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("test_histogram", "Test histogram", nil, nil)

	start := time.Now().Add(-100 * time.Millisecond)
	h.ObserveDuration(start)

	if h.count != 1 {
		t.Fatalf("expected count 1, got %d", h.count)
	}
	if h.sum < 0.1 {
		t.Fatalf("expected sum >= 0.1, got %f", h.sum)
	}
}

func TestBucketsAscending(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"default": DefaultBuckets(),
		"score":   ScoreBuckets(),
	} {
		if len(buckets) == 0 {
			t.Fatalf("%s: expected non-empty buckets", name)
		}
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Fatalf("%s: buckets should be in ascending order", name)
			}
		}
	}
}

func TestMetricsRegistry_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.NewCounter("test_counter", "A test counter", nil).Inc()
	r.NewGauge("test_gauge", "A test gauge", nil).Set(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "test_counter 1") {
		t.Fatal("expected test_counter in output")
	}
	if !strings.Contains(body, "test_gauge 42") {
		t.Fatal("expected test_gauge in output")
	}
	if !strings.Contains(body, "# HELP") {
		t.Fatal("expected HELP comments")
	}
	if !strings.Contains(body, "# TYPE") {
		t.Fatal("expected TYPE comments")
	}
	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content type, got %s", ct)
	}
}

func TestMetricsWithLabels(t *testing.T) {
	r := NewMetricsRegistry()
	labels := map[string]string{"method": "POST", "path": "/api"}
	c := r.NewCounter("http_requests", "HTTP requests", labels)
	c.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	r.Handler().ServeHTTP(w, req)

	// Label order is sorted, so the full form is deterministic.
	if !strings.Contains(w.Body.String(), `http_requests{method="POST",path="/api"} 1`) {
		t.Fatalf("expected labeled sample in output, got:\n%s", w.Body.String())
	}
}

func TestHistogramOutput(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("request_duration", "Request duration", nil, []float64{0.1, 0.5, 1.0})
	h.Observe(0.05)
	h.Observe(0.3)
	h.Observe(0.8)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `request_duration_bucket{le="0.1"} 1`) {
		t.Fatalf("expected cumulative first bucket, got:\n%s", body)
	}
	if !strings.Contains(body, `request_duration_bucket{le="0.5"} 2`) {
		t.Fatal("expected cumulative second bucket")
	}
	if !strings.Contains(body, `request_duration_bucket{le="+Inf"} 3`) {
		t.Fatal("expected +Inf bucket")
	}
	if !strings.Contains(body, "request_duration_sum") {
		t.Fatal("expected sum metric")
	}
	if !strings.Contains(body, "request_duration_count 3") {
		t.Fatal("expected count metric")
	}
}

// Service metrics tests

func TestServiceMetrics_RecordCheck(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordCheck(100*time.Millisecond, 72.5, nil)
	m.RecordCheck(200*time.Millisecond, 100.0, nil)

	if m.ChecksTotal.Value() != 2 {
		t.Fatalf("expected 2 checks, got %f", m.ChecksTotal.Value())
	}
	if m.CheckErrorsTotal.Value() != 0 {
		t.Fatalf("expected 0 errors, got %f", m.CheckErrorsTotal.Value())
	}
	if m.ScoreHistogram.count != 2 {
		t.Fatalf("expected 2 score observations, got %d", m.ScoreHistogram.count)
	}
}

func TestServiceMetrics_RecordCheck_WithError(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordCheck(100*time.Millisecond, 0, errors.New("provider down"))

	if m.CheckErrorsTotal.Value() != 1 {
		t.Fatalf("expected 1 error, got %f", m.CheckErrorsTotal.Value())
	}
	// Failed checks must not distort the score distribution.
	if m.ScoreHistogram.count != 0 {
		t.Fatalf("expected 0 score observations, got %d", m.ScoreHistogram.count)
	}
}

func TestServiceMetrics_RecordIngest(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordIngest(nil)
	m.RecordIngest(nil)
	m.RecordIngest(errors.New("store unavailable"))

	if m.IngestsTotal.Value() != 3 {
		t.Fatalf("expected 3 ingests, got %f", m.IngestsTotal.Value())
	}
	if m.IngestErrorsTotal.Value() != 1 {
		t.Fatalf("expected 1 ingest error, got %f", m.IngestErrorsTotal.Value())
	}
}

func TestServiceMetrics_RecordEmbed(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordEmbed(50*time.Millisecond, nil)
	m.RecordEmbed(75*time.Millisecond, errors.New("rate limited"))

	if m.EmbedRequestsTotal.Value() != 2 {
		t.Fatalf("expected 2 requests, got %f", m.EmbedRequestsTotal.Value())
	}
	if m.EmbedErrorsTotal.Value() != 1 {
		t.Fatalf("expected 1 error, got %f", m.EmbedErrorsTotal.Value())
	}
}

func TestServiceMetrics_RecordStoreQuery(t *testing.T) {
	m := NewServiceMetrics()

	m.RecordStoreQuery(10*time.Millisecond, 120)

	if m.StoreQueriesTotal.Value() != 1 {
		t.Fatalf("expected 1 query, got %f", m.StoreQueriesTotal.Value())
	}
	if m.CorpusSize.Value() != 120 {
		t.Fatalf("expected corpus size 120, got %f", m.CorpusSize.Value())
	}
}

func TestServiceMetrics_Handler(t *testing.T) {
	m := NewServiceMetrics()
	m.ChecksTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	m.Handler().ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "noveltyd_checks_total") {
		t.Fatal("expected service metrics in output")
	}
}

func TestGlobalMetrics(t *testing.T) {
	m := Metrics()
	if m == nil {
		t.Fatal("expected non-nil global metrics")
	}

	// Should return same instance
	m2 := Metrics()
	if m != m2 {
		t.Fatal("expected same instance")
	}
}

func TestFormatLabels_Empty(t *testing.T) {
	if got := formatLabels(nil); got != "" {
		t.Fatalf("expected empty string, got %s", got)
	}
	if got := formatLabels(map[string]string{}); got != "" {
		t.Fatalf("expected empty string, got %s", got)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{0, "0"},
		{1, "1"},
		{42, "42"},
		{1.5, "1.5"},
		{0.25, "0.25"},
	}

	for _, tt := range tests {
		if got := formatFloat(tt.input); got != tt.expected {
			t.Errorf("formatFloat(%f) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}
