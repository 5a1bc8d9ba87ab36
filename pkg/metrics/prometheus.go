package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new Prometheus exporter for the given collector.
// The namespace is prepended to all metric names (e.g., "modcompat").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{
		collector: c,
		namespace: namespace,
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

type promSample struct {
	name  string
	help  string
	typ   string
	value float64
}

// WriteMetrics writes all metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := formatLabels(snap.Labels)

	samples := []promSample{
		{"handshakes_active", "Number of handshakes in progress", "gauge", float64(snap.HandshakesActive)},
		{"handshakes_total", "Total number of handshakes started", "counter", float64(snap.HandshakesTotal)},
		{"handshakes_accepted_total", "Handshakes that ended with compatible peers", "counter", float64(snap.HandshakesAccepted)},
		{"handshakes_rejected_total", "Handshakes rejected for incompatibility", "counter", float64(snap.HandshakesRejected)},
		{"handshakes_failed_total", "Handshakes that failed on I/O or protocol errors", "counter", float64(snap.HandshakesFailed)},

		{"payloads_encoded_total", "Version data payloads encoded", "counter", float64(snap.PayloadsEncoded)},
		{"payloads_decoded_total", "Version data payloads decoded", "counter", float64(snap.PayloadsDecoded)},
		{"payload_bytes_encoded_total", "Bytes of version data encoded", "counter", float64(snap.BytesEncoded)},
		{"payload_bytes_decoded_total", "Bytes of version data decoded", "counter", float64(snap.BytesDecoded)},

		{"checks_total", "Compatibility checks performed", "counter", float64(snap.ChecksTotal)},
		{"check_cache_hits_total", "Compatibility checks answered from cache", "counter", float64(snap.CheckCacheHits)},
		{"game_version_mismatches_total", "Game or network version mismatches", "counter", float64(snap.GameVersionMismatches)},
		{"missing_modules_total", "Required modules missing on a peer", "counter", float64(snap.MissingModules)},
		{"module_version_mismatches_total", "Module versions below the required version", "counter", float64(snap.ModuleVersionMismatches)},

		{"malformed_payloads_total", "Payloads that could not be decoded", "counter", float64(snap.MalformedPayloads)},
		{"unsupported_layouts_total", "Payloads with an unsupported module data layout", "counter", float64(snap.UnsupportedLayouts)},
		{"layout_inconsistencies_total", "Payloads mixing module data layouts", "counter", float64(snap.LayoutInconsistencies)},
		{"protocol_errors_total", "Malformed or unexpected frames", "counter", float64(snap.ProtocolErrors)},
		{"rate_limited_total", "Connections refused by a peer or rate limit", "counter", float64(snap.RateLimited)},

		{"uptime_seconds", "Time since the collector was created", "gauge", snap.Uptime.Seconds()},
	}

	for _, s := range samples {
		e.writeHeader(w, s.name, s.help, s.typ)
		e.writeSample(w, s.name, labels, s.value)
	}

	e.writeHistogram(w, "handshake_duration_milliseconds", "Handshake duration in milliseconds", labels, snap.HandshakeLatency)
	e.writeHistogram(w, "encode_duration_microseconds", "Payload encode duration in microseconds", labels, snap.EncodeLatency)
	e.writeHistogram(w, "decode_duration_microseconds", "Payload decode duration in microseconds", labels, snap.DecodeLatency)
}

func (e *PrometheusExporter) writeHeader(w io.Writer, name, help, typ string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

func (e *PrometheusExporter) writeSample(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHeader(w, name, help, "histogram")

	prefix := ""
	if labels != "" {
		prefix = labels + ","
	}
	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(w, "%s_%s_bucket{%sle=\"%s\"} %d\n", e.namespace, name, prefix, le, b.Count)
	}

	e.writeSample(w, name+"_sum", labels, h.Sum)
	e.writeSample(w, name+"_count", labels, float64(h.Count))
}

// formatLabels renders labels in sorted key order.
func formatLabels(labels Labels) string {
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
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, escapePromValue(labels[k])))
	}
	return strings.Join(parts, ",")
}

// escapePromValue escapes a string for use as a Prometheus label value.
func escapePromValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
