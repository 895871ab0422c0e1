// Package metrics holds the Prometheus collectors of the reporting core.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry         prometheus.Registerer
	serializeTotal   *prometheus.CounterVec
	serializeBytes   *prometheus.HistogramVec
	serializeRecords *prometheus.HistogramVec
	reportsTotal     *prometheus.CounterVec
	reportDuration   *prometheus.HistogramVec
	reportsInFlight  prometheus.Gauge
	exportJobsTotal  *prometheus.CounterVec
	dispatchRuns     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		serializeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serialize_total",
				Help:      "Serialize calls by output format",
			},
			[]string{"format"},
		),
		serializeBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "serialize_size_bytes",
				Help:      "Size of serialized files",
				Buckets:   prometheus.ExponentialBuckets(512, 4, 10),
			},
			[]string{"format"},
		),
		serializeRecords: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "serialize_records",
				Help:      "Records per serialized file",
				Buckets:   []float64{1, 10, 100, 1000, 10000, 50000},
			},
			[]string{"format"},
		),
		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_generations_total",
				Help:      "Finished report generations by type and terminal status",
			},
			[]string{"type", "status"},
		),
		reportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_generation_duration_seconds",
				Help:      "Duration of report generations",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		reportsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_generations_in_flight",
				Help:      "Reports currently generating",
			},
		),
		exportJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_total",
				Help:      "Finished export jobs by entity type and status",
			},
			[]string{"entity", "status"},
		),
		dispatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_dispatch_runs_total",
				Help:      "Scheduled runs handled by the dispatcher by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	reg.MustRegister(
		m.serializeTotal,
		m.serializeBytes,
		m.serializeRecords,
		m.reportsTotal,
		m.reportDuration,
		m.reportsInFlight,
		m.exportJobsTotal,
		m.dispatchRuns,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// ObserveSerialize records one serialize call.
func (m *Metrics) ObserveSerialize(format string, records int, sizeBytes int64) {
	if m == nil {
		return
	}
	m.serializeTotal.WithLabelValues(format).Inc()
	m.serializeBytes.WithLabelValues(format).Observe(float64(sizeBytes))
	m.serializeRecords.WithLabelValues(format).Observe(float64(records))
}

func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.reportsInFlight.Inc()
}

func (m *Metrics) GenerationFinished(reportType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reportsInFlight.Dec()
	m.reportsTotal.WithLabelValues(reportType, status).Inc()
	m.reportDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordExportJob(entity, status string) {
	if m == nil {
		return
	}
	m.exportJobsTotal.WithLabelValues(entity, status).Inc()
}

// RecordDispatch counts dispatcher outcomes: triggered, skipped, failed, deactivated.
func (m *Metrics) RecordDispatch(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dispatchRuns.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}
