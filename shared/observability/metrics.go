package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const meterName = "claw-companion/backend"

// Metrics are the counters the sync daemon exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	passes          *prometheus.CounterVec
	merged          *prometheus.CounterVec
	findings        *prometheus.CounterVec
	suppressed      prometheus.Counter
	auditDropped    prometheus.Counter
	documentWrites  *prometheus.CounterVec
	passDuration    otelmetric.Float64Histogram
	renderersActive otelmetric.Int64UpDownCounter
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_sync_passes_total",
			Help: "Reconciliation passes by final state.",
		}, []string{"state"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_sync_events_total",
			Help: "Remote events by merge outcome.",
		}, []string{"outcome"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integrity_findings_total",
			Help: "Integrity findings reported to sinks.",
		}, []string{"layer", "check_type"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "integrity_findings_suppressed_total",
			Help: "Findings dropped by the per-fingerprint cooldown.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "integrity_audits_dropped_total",
			Help: "Audit jobs dropped because the queue was full.",
		}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "document_writes_total",
			Help: "Document put attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.passes, m.merged, m.findings, m.suppressed, m.auditDropped, m.documentWrites)

	meter := otel.Meter(meterName)
	m.passDuration, _ = meter.Float64Histogram("timeline_sync_pass_duration_seconds",
		otelmetric.WithDescription("Wall time of one reconciliation pass."),
		otelmetric.WithUnit("s"))
	m.renderersActive, _ = meter.Int64UpDownCounter("renderer_sessions_active",
		otelmetric.WithDescription("Connected renderer websocket sessions."))
	return m
}

// ObservePass records the outcome of a reconciliation pass
func (m *Metrics) ObservePass(ctx context.Context, state string, inserted, skipped, reconciled, echoes int, took time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(state).Inc()
	m.merged.WithLabelValues("inserted").Add(float64(inserted))
	m.merged.WithLabelValues("skipped").Add(float64(skipped))
	m.merged.WithLabelValues("reconciled").Add(float64(reconciled))
	m.merged.WithLabelValues("echo").Add(float64(echoes))
	if m.passDuration != nil {
		m.passDuration.Record(ctx, took.Seconds(), otelmetric.WithAttributes(attribute.String("state", state)))
	}
}

func (m *Metrics) FindingReported(layer, checkType string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(layer, checkType).Inc()
}

func (m *Metrics) FindingSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// DocumentWrite counts a put by result: accepted, conflict or not_found
func (m *Metrics) DocumentWrite(result string) {
	if m == nil {
		return
	}
	m.documentWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) RendererConnected(ctx context.Context, delta int64) {
	if m == nil || m.renderersActive == nil {
		return
	}
	m.renderersActive.Add(ctx, delta)
}
