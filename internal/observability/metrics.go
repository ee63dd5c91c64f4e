package observability

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// ScoreBuckets returns histogram buckets for the 0-100 novelty scale.
func ScoreBuckets() []float64 {
	return []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	// counts holds per-bucket tallies; the exposition writer cumulates.
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format. Metrics are
// emitted in name order so the output is stable across scrapes.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w io.Writer, name, metricType, help string, labels map[string]string, value float64) {
	io.WriteString(w, "# HELP "+name+" "+help+"\n")
	io.WriteString(w, "# TYPE "+name+" "+metricType+"\n")
	io.WriteString(w, name+formatLabels(labels)+" "+formatFloat(value)+"\n")
}

func writeHistogram(w io.Writer, h *Histogram) {
	io.WriteString(w, "# HELP "+h.name+" "+h.help+"\n")
	io.WriteString(w, "# TYPE "+h.name+" histogram\n")

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		io.WriteString(w, h.name+"_bucket"+formatLabels(labels)+" "+strconv.FormatUint(cumulative, 10)+"\n")
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	io.WriteString(w, h.name+"_bucket"+formatLabels(labels)+" "+strconv.FormatUint(h.count, 10)+"\n")

	io.WriteString(w, h.name+"_sum"+formatLabels(h.labels)+" "+formatFloat(h.sum)+"\n")
	io.WriteString(w, h.name+"_count"+formatLabels(h.labels)+" "+strconv.FormatUint(h.count, 10)+"\n")
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i, k := range sortedKeys(labels) {
		if i > 0 {
			result += ","
		}
		result += k + "=\"" + labels[k] + "\""
	}
	result += "}"
	return result
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Service-specific metrics

// ServiceMetrics contains all novelty service metrics.
type ServiceMetrics struct {
	Registry *MetricsRegistry

	// Pipeline metrics
	ChecksTotal      *Counter
	CheckDuration    *Histogram
	CheckErrorsTotal *Counter
	ScoreHistogram   *Histogram

	// Ingest metrics
	IngestsTotal      *Counter
	IngestErrorsTotal *Counter

	// Embedding metrics
	EmbedRequestsTotal *Counter
	EmbedDuration      *Histogram
	EmbedErrorsTotal   *Counter

	// Store metrics
	StoreQueriesTotal  *Counter
	StoreQueryDuration *Histogram
	CorpusSize         *Gauge

	// HTTP metrics
	HTTPRequestsTotal   *Counter
	HTTPRequestDuration *Histogram
}

// NewServiceMetrics creates the novelty service metric set.
func NewServiceMetrics() *ServiceMetrics {
	r := NewMetricsRegistry()

	return &ServiceMetrics{
		Registry: r,

		ChecksTotal:      r.NewCounter("noveltyd_checks_total", "Total novelty checks", nil),
		CheckDuration:    r.NewHistogram("noveltyd_check_duration_seconds", "Novelty check duration", nil, nil),
		CheckErrorsTotal: r.NewCounter("noveltyd_check_errors_total", "Total failed novelty checks", nil),
		ScoreHistogram:   r.NewHistogram("noveltyd_score", "Distribution of novelty scores", nil, ScoreBuckets()),

		IngestsTotal:      r.NewCounter("noveltyd_ingests_total", "Total documents ingested", nil),
		IngestErrorsTotal: r.NewCounter("noveltyd_ingest_errors_total", "Total failed ingests", nil),

		EmbedRequestsTotal: r.NewCounter("noveltyd_embed_requests_total", "Total embedding provider requests", nil),
		EmbedDuration:      r.NewHistogram("noveltyd_embed_duration_seconds", "Embedding request duration", nil, nil),
		EmbedErrorsTotal:   r.NewCounter("noveltyd_embed_errors_total", "Total embedding provider errors", nil),

		StoreQueriesTotal:  r.NewCounter("noveltyd_store_queries_total", "Total similarity store queries", nil),
		StoreQueryDuration: r.NewHistogram("noveltyd_store_query_duration_seconds", "Similarity query duration", nil, nil),
		CorpusSize:         r.NewGauge("noveltyd_corpus_size", "Documents in the similarity corpus", nil),

		HTTPRequestsTotal:   r.NewCounter("noveltyd_http_requests_total", "Total HTTP requests served", nil),
		HTTPRequestDuration: r.NewHistogram("noveltyd_http_request_duration_seconds", "HTTP request duration", nil, nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *ServiceMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordCheck records a completed novelty check.
func (m *ServiceMetrics) RecordCheck(duration time.Duration, score float64, err error) {
	m.ChecksTotal.Inc()
	m.CheckDuration.Observe(duration.Seconds())
	if err != nil {
		m.CheckErrorsTotal.Inc()
		return
	}
	m.ScoreHistogram.Observe(score)
}

// RecordIngest records a document ingest.
func (m *ServiceMetrics) RecordIngest(err error) {
	m.IngestsTotal.Inc()
	if err != nil {
		m.IngestErrorsTotal.Inc()
	}
}

// RecordEmbed records an embedding provider request.
func (m *ServiceMetrics) RecordEmbed(duration time.Duration, err error) {
	m.EmbedRequestsTotal.Inc()
	m.EmbedDuration.Observe(duration.Seconds())
	if err != nil {
		m.EmbedErrorsTotal.Inc()
	}
}

// RecordStoreQuery records a similarity query and the corpus size it
// observed.
func (m *ServiceMetrics) RecordStoreQuery(duration time.Duration, corpusSize int64) {
	m.StoreQueriesTotal.Inc()
	m.StoreQueryDuration.Observe(duration.Seconds())
	m.CorpusSize.Set(float64(corpusSize))
}

// RecordHTTPRequest records a served HTTP request.
func (m *ServiceMetrics) RecordHTTPRequest(duration time.Duration) {
	m.HTTPRequestsTotal.Inc()
	m.HTTPRequestDuration.Observe(duration.Seconds())
}

// Global metrics instance
var globalMetrics *ServiceMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *ServiceMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewServiceMetrics()
	})
	return globalMetrics
}
