// Package metrics exposes Prometheus collectors for the HTTP layer, report
// generation, history sync and master-data uploads.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/brokerage-engine/commission"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Report metrics
	ReportsTotal   *prometheus.CounterVec
	ReportDuration prometheus.Histogram
	RecordsTotal   *prometheus.CounterVec

	// Sync metrics
	SyncRunsTotal *prometheus.CounterVec
	SyncRowsTotal *prometheus.CounterVec

	// Upload metrics
	UploadsTotal    *prometheus.CounterVec
	UploadRowsTotal *prometheus.CounterVec
}

// New creates a Metrics instance on its own registry, so tests and multiple
// servers in one process never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_reports_total",
				Help: "Commission reports generated",
			},
			[]string{"outcome"}, // success, error
		),
		ReportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commission_report_duration_seconds",
			Help:    "Commission report generation time in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_records_total",
				Help: "Commission records computed",
			},
			[]string{"status"}, // calculated, no_grid_match
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_sync_runs_total",
				Help: "Commission history sync runs",
			},
			[]string{"trigger", "outcome"},
		),
		SyncRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_sync_rows_total",
				Help: "Commission history rows upserted",
			},
			[]string{"kind"}, // agent, employee
		),

		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masterdata_uploads_total",
				Help: "Master-data uploads by final status",
			},
			[]string{"table", "status"},
		),
		UploadRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "masterdata_upload_rows_total",
				Help: "Master-data rows imported or rejected",
			},
			[]string{"table", "result"}, // imported, rejected
		),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path (e.g. /api/policies/{id})
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveReport implements commission.Recorder.
func (m *Metrics) ObserveReport(d time.Duration, records, unmatched int, err error) {
	if err != nil {
		m.ReportsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ReportsTotal.WithLabelValues("success").Inc()
	m.ReportDuration.Observe(d.Seconds())
	m.RecordsTotal.WithLabelValues(string(commission.StatusCalculated)).Add(float64(records - unmatched))
	m.RecordsTotal.WithLabelValues(string(commission.StatusNoGridMatch)).Add(float64(unmatched))
}

// RecordSync counts a sync run and the rows it wrote.
func (m *Metrics) RecordSync(trigger string, res commission.SyncResult, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.SyncRunsTotal.WithLabelValues(trigger, outcome).Inc()
	m.SyncRowsTotal.WithLabelValues("agent").Add(float64(res.AgentRows))
	m.SyncRowsTotal.WithLabelValues("employee").Add(float64(res.EmployeeRows))
}

// ObserveUpload counts a finished upload.
func (m *Metrics) ObserveUpload(table, status string, imported, rejected int) {
	m.UploadsTotal.WithLabelValues(table, status).Inc()
	m.UploadRowsTotal.WithLabelValues(table, "imported").Add(float64(imported))
	m.UploadRowsTotal.WithLabelValues(table, "rejected").Add(float64(rejected))
}

var _ commission.Recorder = (*Metrics)(nil)
