package observability

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
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

// WritePrometheus writes metrics in Prometheus text format, sorted by name
// within each metric type.
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
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
	w.Write([]byte(name + formatLabels(labels) + " "))
	w.Write([]byte(formatFloat(value) + "\n"))
}

func writeHistogram(w io.Writer, h *Histogram) {
	w.Write([]byte("# HELP " + h.name + " " + h.help + "\n"))
	w.Write([]byte("# TYPE " + h.name + " histogram\n"))

	// Write bucket counts
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		w.Write([]byte(h.name + "_bucket" + formatLabels(labels) + " "))
		w.Write([]byte(formatUint(cumulative) + "\n"))
	}

	// Write +Inf bucket
	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	w.Write([]byte(h.name + "_bucket" + formatLabels(labels) + " "))
	w.Write([]byte(formatUint(h.count) + "\n"))

	// Write sum and count
	w.Write([]byte(h.name + "_sum" + formatLabels(h.labels) + " "))
	w.Write([]byte(formatFloat(h.sum) + "\n"))
	w.Write([]byte(h.name + "_count" + formatLabels(h.labels) + " "))
	w.Write([]byte(formatUint(h.count) + "\n"))
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k + "=" + strconv.Quote(labels[k]))
	}
	b.WriteByte('}')
	return b.String()
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

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// RAGMetrics holds the counters and histograms of the ingest and query
// paths.
type RAGMetrics struct {
	Registry *MetricsRegistry

	IngestTotal        *Counter
	IngestErrorsTotal  *Counter
	IngestDuration     *Histogram
	ChunksIndexedTotal *Counter
	PagesIndexedTotal  *Counter

	EmbedBatchesTotal *Counter
	EmbedErrorsTotal  *Counter
	EmbedDuration     *Histogram

	QueryTotal       *Counter
	QueryErrorsTotal *Counter
	QueryEmptyTotal  *Counter
	QueryDuration    *Histogram
	CitationsTotal   *Counter

	IngestsInFlight *Gauge
}

// NewRAGMetrics creates the service metrics on a fresh registry.
func NewRAGMetrics() *RAGMetrics {
	r := NewMetricsRegistry()

	return &RAGMetrics{
		Registry: r,

		IngestTotal:        r.NewCounter("layoutrag_ingest_total", "Documents ingested", nil),
		IngestErrorsTotal:  r.NewCounter("layoutrag_ingest_errors_total", "Failed ingestions", nil),
		IngestDuration:     r.NewHistogram("layoutrag_ingest_duration_seconds", "Ingestion duration", nil, []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}),
		ChunksIndexedTotal: r.NewCounter("layoutrag_chunks_indexed_total", "Chunks written to the evidence store", nil),
		PagesIndexedTotal:  r.NewCounter("layoutrag_pages_indexed_total", "Pages written to the evidence store", nil),

		EmbedBatchesTotal: r.NewCounter("layoutrag_embed_batches_total", "Embedding requests", nil),
		EmbedErrorsTotal:  r.NewCounter("layoutrag_embed_errors_total", "Failed embedding requests", nil),
		EmbedDuration:     r.NewHistogram("layoutrag_embed_duration_seconds", "Embedding request duration", nil, nil),

		QueryTotal:       r.NewCounter("layoutrag_query_total", "Questions answered", nil),
		QueryErrorsTotal: r.NewCounter("layoutrag_query_errors_total", "Failed questions", nil),
		QueryEmptyTotal:  r.NewCounter("layoutrag_query_empty_total", "Questions with no retrieved evidence", nil),
		QueryDuration:    r.NewHistogram("layoutrag_query_duration_seconds", "Question answering duration", nil, nil),
		CitationsTotal:   r.NewCounter("layoutrag_citations_total", "Citations emitted in answers", nil),

		IngestsInFlight: r.NewGauge("layoutrag_ingests_in_flight", "Ingestions currently running", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *RAGMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordIngest records one document ingestion.
func (m *RAGMetrics) RecordIngest(duration time.Duration, pages, chunks int, err error) {
	m.IngestTotal.Inc()
	m.IngestDuration.Observe(duration.Seconds())
	if err != nil {
		m.IngestErrorsTotal.Inc()
		return
	}
	m.PagesIndexedTotal.Add(float64(pages))
	m.ChunksIndexedTotal.Add(float64(chunks))
}

// RecordEmbed records one embedding request.
func (m *RAGMetrics) RecordEmbed(duration time.Duration, err error) {
	m.EmbedBatchesTotal.Inc()
	m.EmbedDuration.Observe(duration.Seconds())
	if err != nil {
		m.EmbedErrorsTotal.Inc()
	}
}

// RecordQuery records one answered question.
func (m *RAGMetrics) RecordQuery(duration time.Duration, hits, cited int, err error) {
	m.QueryTotal.Inc()
	m.QueryDuration.Observe(duration.Seconds())
	if err != nil {
		m.QueryErrorsTotal.Inc()
		return
	}
	if hits == 0 {
		m.QueryEmptyTotal.Inc()
	}
	m.CitationsTotal.Add(float64(cited))
}

var globalMetrics *RAGMetrics
var metricsOnce sync.Once

// Metrics returns the process-wide metrics instance.
func Metrics() *RAGMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewRAGMetrics()
	})
	return globalMetrics
}
