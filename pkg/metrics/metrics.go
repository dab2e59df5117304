// Package metrics defines the Prometheus metric collectors used by the
// refresh service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing, which keeps components usable in tests and
// tools that do not export metrics.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RefreshCyclesTotal   *prometheus.CounterVec
	RefreshDuration      *prometheus.HistogramVec
	BuildDuration        *prometheus.HistogramVec
	SchedulerTicksTotal  prometheus.Counter
	CleanupPending       prometheus.Gauge
	CleanupDeletedTotal  *prometheus.CounterVec
	ActiveLeases         prometheus.Gauge
	ReconcileCorrections *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
	LastRefreshTimestamp *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler(nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 300},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of admin HTTP requests currently being processed.",
			},
		),
		RefreshCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_refresh_cycles_total",
				Help: "Refresh cycles by alias and outcome (unchanged, refreshed, failed).",
			},
			[]string{"alias", "outcome"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_refresh_duration_seconds",
				Help:    "Wall time of a refresh cycle in seconds.",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800, 3600},
			},
			[]string{"outcome"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Duration of external build commands by kind (index, scip).",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
			},
			[]string{"kind", "status"},
		),
		SchedulerTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_refresh_ticks_total",
				Help: "Total scheduler ticks.",
			},
		),
		CleanupPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_cleanup_pending",
				Help: "Retired index versions waiting for deletion.",
			},
		),
		CleanupDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_cleanup_deleted_total",
				Help: "Retired index versions removed by status (deleted, dropped).",
			},
			[]string{"status"},
		),
		ActiveLeases: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_query_leases_active",
				Help: "Outstanding query leases across all index versions.",
			},
		),
		ReconcileCorrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reconcile_corrections_total",
				Help: "Registry flag corrections made by reconciliation.",
			},
			[]string{"flag", "value"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_swap_notifications_total",
				Help: "Post-swap notifications by sink and status.",
			},
			[]string{"sink", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		LastRefreshTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_last_refresh_timestamp_seconds",
				Help: "Unix time of the last successful swap per alias.",
			},
			[]string{"alias"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RefreshCyclesTotal,
		m.RefreshDuration,
		m.BuildDuration,
		m.SchedulerTicksTotal,
		m.CleanupPending,
		m.CleanupDeletedTotal,
		m.ActiveLeases,
		m.ReconcileCorrections,
		m.NotificationsTotal,
		m.CircuitBreakerState,
		m.LastRefreshTimestamp,
	)

	return m
}

func (m *Metrics) ObserveRefresh(alias, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshCyclesTotal.WithLabelValues(alias, outcome).Inc()
	m.RefreshDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "refreshed" {
		m.LastRefreshTimestamp.WithLabelValues(alias).SetToCurrentTime()
	}
}

func (m *Metrics) ObserveBuild(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BuildDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.SchedulerTicksTotal.Inc()
}

func (m *Metrics) SetCleanupPending(n int) {
	if m == nil {
		return
	}
	m.CleanupPending.Set(float64(n))
}

func (m *Metrics) CleanupRemoved(status string) {
	if m == nil {
		return
	}
	m.CleanupDeletedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) LeaseDelta(delta int) {
	if m == nil {
		return
	}
	m.ActiveLeases.Add(float64(delta))
}

func (m *Metrics) Corrected(flag string, value bool) {
	if m == nil {
		return
	}
	v := "false"
	if value {
		v = "true"
	}
	m.ReconcileCorrections.WithLabelValues(flag, v).Inc()
}

func (m *Metrics) Notified(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotificationsTotal.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the scrape handler for gatherer, or the default registry
// when gatherer is nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
