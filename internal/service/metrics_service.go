package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

// Person outcomes recorded by MetricsService.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// MetricsService encapsulates Prometheus instrumentation for import runs and
// the ops HTTP surface.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	persons         *prometheus.CounterVec
	records         *prometheus.CounterVec
	sourceRows      *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	lastRun         prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	persons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradsync_persons_total",
		Help: "Persons processed by outcome",
	}, []string{"outcome"})

	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradsync_records_total",
		Help: "Local records written by kind and operation",
	}, []string{"kind", "op"})

	sourceRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradsync_source_rows_total",
		Help: "Rows read from the student-records source by kind",
	}, []string{"kind"})

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradsync_runs_total",
		Help: "Import runs by result",
	}, []string{"result"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gradsync_run_duration_seconds",
		Help:    "Wall time of import runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gradsync_last_run_timestamp_seconds",
		Help: "Unix time the last import run finished",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gradsync_source_cache_lookups_total",
		Help: "Source row cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, persons, records, sourceRows, runs, runDuration, lastRun, cacheLookups, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		persons:         persons,
		records:         records,
		sourceRows:      sourceRows,
		runs:            runs,
		runDuration:     runDuration,
		lastRun:         lastRun,
		cacheLookups:    cacheLookups,
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordPerson counts one person by outcome.
func (m *MetricsService) RecordPerson(outcome string) {
	if m == nil {
		return
	}
	m.persons.WithLabelValues(outcome).Inc()
}

// RecordWrites adds the created and updated counts of one person.
func (m *MetricsService) RecordWrites(created, updated map[models.RecordKind]int) {
	if m == nil {
		return
	}
	for kind, n := range created {
		m.records.WithLabelValues(string(kind), "create").Add(float64(n))
	}
	for kind, n := range updated {
		m.records.WithLabelValues(string(kind), "update").Add(float64(n))
	}
}

// RecordSourceRows counts rows fetched for one kind.
func (m *MetricsService) RecordSourceRows(kind models.SourceKind, n int) {
	if m == nil {
		return
	}
	m.sourceRows.WithLabelValues(string(kind)).Add(float64(n))
}

// RecordCacheLookup counts a source cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveRun records the outcome and duration of a finished run.
func (m *MetricsService) ObserveRun(report *models.RunReport) {
	if m == nil || report == nil {
		return
	}
	result := "ok"
	switch {
	case report.Aborted != "":
		result = "aborted"
	case len(report.Failures) > 0:
		result = "partial"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.lastRun.Set(float64(report.FinishedAt.Unix()))
}
