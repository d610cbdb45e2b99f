package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	syncRuns       *prometheus.CounterVec // total runs
	syncDuration   prometheus.Histogram   // time to run
	lastSuccess    prometheus.Gauge       // unix time of last successful run
	fetchRequests  *prometheus.CounterVec // address source requests
	dnsRequests    *prometheus.CounterVec // dns provider requests
	recordOutcomes *prometheus.CounterVec // per-record reconcile outcomes
	badgerRequests *prometheus.CounterVec // badgerdb requests
}

// Public interface for metrics operations
func (m *Metrics) IncSyncRun(success bool) {
	status := boolToResult(success)
	m.syncRuns.WithLabelValues(status).Inc()
	if success {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *Metrics) SetSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncFetchRequest(source string, success bool) {
	if source == "" {
		return
	}
	m.fetchRequests.WithLabelValues(source, boolToResult(success)).Inc()
}

func (m *Metrics) IncDNSRequest(operation, zone string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.dnsRequests.WithLabelValues(operation, zone, status).Inc()
}

func (m *Metrics) IncRecordOutcome(outcome, reason, recordType string) {
	if outcome == "" {
		return
	}
	if !isValidRecordType(recordType) {
		recordType = "other"
	}
	m.recordOutcomes.WithLabelValues(outcome, reason, recordType).Inc()
}

func (m *Metrics) IncBadgerRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.badgerRequests.WithLabelValues(operation, status).Inc()
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "list", "read", "update":
		return true
	}
	return false
}

func isValidRecordType(rt string) bool {
	switch rt {
	case "A", "AAAA":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "cloudflare_ddns"

	m := &Metrics{
		registry: registry,

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of reconciliation runs",
		}, []string{"status"}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful reconciliation run",
		}),

		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Total public address lookups",
		}, []string{"source", "status"}),

		dnsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_requests_total",
			Help:      "Total DNS provider requests",
		}, []string{"operation", "zone", "status"}),

		recordOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_outcomes_total",
			Help:      "Total per-record reconciliation outcomes",
		}, []string{"outcome", "reason", "type"}),

		badgerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badgerdb_requests_total",
			Help:      "Total badgerdb requests",
		}, []string{"operation", "status"}),
	}

	if register {
		registry.MustRegister(
			m.syncRuns,
			m.syncDuration,
			m.lastSuccess,
			m.fetchRequests,
			m.dnsRequests,
			m.recordOutcomes,
			m.badgerRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
