package observability

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter renders a Registry in Prometheus text exposition
// format (https://prometheus.io/docs/instrumenting/exposition_formats/).
type PrometheusExporter struct {
	registry *Registry
}

// NewPrometheusExporter creates an exporter over the given registry.
func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric, families sorted by name.
func (e *PrometheusExporter) Format() string {
	var b strings.Builder

	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()

	for _, name := range sortedKeys(e.registry.counters) {
		c := e.registry.counters[name]
		writeFamily(&b, c.name, c.help, "counter")
		fmt.Fprintf(&b, "%s%s %s\n\n", c.name, labelPairs(c.labels), renderValue(c.Value()))
	}

	for _, name := range sortedKeys(e.registry.gauges) {
		g := e.registry.gauges[name]
		writeFamily(&b, g.name, g.help, "gauge")
		fmt.Fprintf(&b, "%s%s %s\n\n", g.name, labelPairs(g.labels), renderValue(g.Value()))
	}

	for _, name := range sortedKeys(e.registry.histograms) {
		h := e.registry.histograms[name]
		buckets, counts, sum, count := h.BucketCounts()
		writeFamily(&b, h.name, h.help, "histogram")

		// Cumulative buckets, then the +Inf bucket, then _sum and _count.
		for i, bound := range buckets {
			fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, labelPairsWith(h.labels, "le", renderValue(bound)), counts[i])
		}
		fmt.Fprintf(&b, "%s_bucket%s %d\n", h.name, labelPairsWith(h.labels, "le", "+Inf"), count)
		fmt.Fprintf(&b, "%s_sum%s %s\n", h.name, labelPairs(h.labels), renderValue(sum))
		fmt.Fprintf(&b, "%s_count%s %d\n\n", h.name, labelPairs(h.labels), count)
	}

	return b.String()
}

func writeFamily(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

// labelPairs renders {k1="v1",k2="v2"}, keys sorted; empty when unlabeled.
func labelPairs(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// labelPairsWith renders the base labels with one extra pair merged in.
func labelPairsWith(base map[string]string, key, value string) string {
	merged := make(map[string]string, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	merged[key] = value
	return labelPairs(merged)
}

func renderValue(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
