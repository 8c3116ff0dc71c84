// Package observability carries the orchestrator's metrics registry, the
// Prometheus text exporter and the component health monitor. The registry is
// name-keyed and lock-cheap so pipelines can count on the hot path.
package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// MetricEntry is a point-in-time snapshot of one metric.
type MetricEntry struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Help      string            `json:"help"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// --- counter ----------------------------------------------------------------

// Counter only goes up. The value is held as int64 milli-units so Inc and
// Add stay lock-free while fractional Add still round-trips to 3 decimals.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  atomic.Int64 // milli-units
}

// Inc adds 1.
func (c *Counter) Inc() {
	c.value.Add(1000)
}

// Add adds delta. Negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.value.Add(int64(math.Round(delta * 1000)))
}

// Value returns the current total.
func (c *Counter) Value() float64 {
	return float64(c.value.Load()) / 1000.0
}

// Entry snapshots the counter.
func (c *Counter) Entry() MetricEntry {
	return MetricEntry{
		Name:      c.name,
		Type:      MetricCounter,
		Help:      c.help,
		Value:     c.Value(),
		Labels:    copyLabels(c.labels),
		Timestamp: time.Now(),
	}
}

// --- gauge ------------------------------------------------------------------

// Gauge goes up and down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

// Set replaces the value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc adds 1.
func (g *Gauge) Inc() {
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

// Dec subtracts 1.
func (g *Gauge) Dec() {
	g.mu.Lock()
	g.value--
	g.mu.Unlock()
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

// Value returns the current value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Entry snapshots the gauge.
func (g *Gauge) Entry() MetricEntry {
	return MetricEntry{
		Name:      g.name,
		Type:      MetricGauge,
		Help:      g.help,
		Value:     g.Value(),
		Labels:    copyLabels(g.labels),
		Timestamp: time.Now(),
	}
}

// --- histogram --------------------------------------------------------------

// Histogram buckets observed values. Bucket bounds are upper-inclusive and
// counts are cumulative: an observation <= buckets[i] lands in counts[i] and
// every bucket above it.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	mu      sync.Mutex
	buckets []float64 // sorted upper bounds
	counts  []int64   // cumulative count per bound
	sum     float64
	count   int64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Quantile approximates the q-th percentile (0..1) by linear interpolation
// inside the bucket the target rank falls into. Past the last bound it
// returns the last bound.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || q < 0 || q > 1 {
		return 0
	}
	target := q * float64(h.count)

	for i, bound := range h.buckets {
		cum := float64(h.counts[i])
		if cum < target {
			continue
		}
		var lower, below float64
		if i > 0 {
			lower = h.buckets[i-1]
			below = float64(h.counts[i-1])
		}
		inBucket := cum - below
		if inBucket == 0 {
			return bound
		}
		return lower + (target-below)/inBucket*(bound-lower)
	}

	if len(h.buckets) > 0 {
		return h.buckets[len(h.buckets)-1]
	}
	return 0
}

// Entry snapshots the histogram; Value carries the observation count.
func (h *Histogram) Entry() MetricEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return MetricEntry{
		Name:      h.name,
		Type:      MetricHistogram,
		Help:      h.help,
		Value:     float64(h.count),
		Labels:    copyLabels(h.labels),
		Timestamp: time.Now(),
	}
}

// BucketCounts returns copies of the bounds and cumulative counts plus sum
// and count, for the exporter.
func (h *Histogram) BucketCounts() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := make([]float64, len(h.buckets))
	c := make([]int64, len(h.counts))
	copy(b, h.buckets)
	copy(c, h.counts)
	return b, c, h.sum, h.count
}

// --- registry ---------------------------------------------------------------

// Registry holds every metric by name. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// NewCounter registers a counter. Registering an existing name returns the
// existing metric.
func (r *Registry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	c := &Counter{name: name, help: help, labels: copyLabels(labels)}
	r.counters[name] = c
	return c
}

// NewGauge registers a gauge. Registering an existing name returns the
// existing metric.
func (r *Registry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.gauges[name]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help, labels: copyLabels(labels)}
	r.gauges[name] = g
	return g
}

// NewHistogram registers a histogram with the given bucket upper bounds.
// Registering an existing name returns the existing metric.
func (r *Registry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  copyLabels(labels),
		buckets: sorted,
		counts:  make([]int64, len(sorted)),
	}
	r.histograms[name] = h
	return h
}

// GetCounter returns a registered counter, or nil.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge returns a registered gauge, or nil.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram returns a registered histogram, or nil.
func (r *Registry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// AllMetrics snapshots every metric, name-sorted within each family.
func (r *Registry) AllMetrics() []MetricEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]MetricEntry, 0, len(r.counters)+len(r.gauges)+len(r.histograms))
	for _, name := range sortedKeys(r.counters) {
		entries = append(entries, r.counters[name].Entry())
	}
	for _, name := range sortedKeys(r.gauges) {
		entries = append(entries, r.gauges[name].Entry())
	}
	for _, name := range sortedKeys(r.histograms) {
		entries = append(entries, r.histograms[name].Entry())
	}
	return entries
}

// DefaultLatencyBuckets in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// ForgeMetrics builds the orchestrator's standard metric set.
func ForgeMetrics() *Registry {
	r := NewRegistry()

	// --- counters ---
	r.NewCounter("forge_jobs_enqueued_total",
		"Total jobs accepted onto a queue",
		map[string]string{"queue": ""})

	r.NewCounter("forge_jobs_completed_total",
		"Total jobs acked as completed",
		map[string]string{"queue": ""})

	r.NewCounter("forge_jobs_failed_total",
		"Total job handler failures, including retried attempts",
		map[string]string{"queue": ""})

	r.NewCounter("forge_launches_created_total",
		"Total launch records created",
		nil)

	r.NewCounter("forge_launches_graduated_total",
		"Total launches that crossed their graduation threshold",
		nil)

	r.NewCounter("forge_risk_alerts_total",
		"Total risk alerts raised",
		map[string]string{"severity": ""})

	r.NewCounter("forge_events_published_total",
		"Total events published to the hub",
		nil)

	r.NewCounter("forge_events_dropped_total",
		"Total events dropped on slow subscriber channels",
		nil)

	// --- gauges ---
	r.NewGauge("forge_queue_depth",
		"Jobs waiting or delayed on a queue",
		map[string]string{"queue": ""})

	r.NewGauge("forge_queue_active",
		"Jobs currently leased from a queue",
		map[string]string{"queue": ""})

	r.NewGauge("forge_worker_busy",
		"Workers currently executing a job",
		map[string]string{"queue": ""})

	r.NewGauge("forge_ws_clients",
		"Connected websocket subscribers",
		nil)

	// --- histograms ---
	r.NewHistogram("forge_job_duration_ms",
		"Job handler wall time in milliseconds",
		map[string]string{"queue": ""},
		DefaultLatencyBuckets)

	r.NewHistogram("forge_http_latency_ms",
		"API request latency in milliseconds",
		nil,
		DefaultLatencyBuckets)

	return r
}

// --- helpers ----------------------------------------------------------------

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
