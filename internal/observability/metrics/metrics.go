// Package metrics provides Prometheus instrumentation for lostpaws.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Case lifecycle metrics
	caseOperationTotal *prometheus.CounterVec
	caseEscrowTotal    prometheus.Gauge
	caseActive         prometheus.Gauge

	// Ledger metrics
	ledgerMovementTotal *prometheus.CounterVec
	expirySweepExpired  prometheus.Counter
)

// Init initializes the metrics system. It is safe to call more than once;
// collectors are only registered on the first enabled call.
func Init(enabledFlag bool, svcName string) {
	serviceName = svcName

	if !enabledFlag || enabled {
		return
	}
	enabled = true

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	caseOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_operation_total",
			Help: "Total number of case lifecycle operations by result",
		},
		[]string{"operation", "result"},
	)

	caseEscrowTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "case_escrow_total",
		Help: "Sum of bounties held in escrow for active cases",
	})

	caseActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "case_active",
		Help: "Number of cases in the active state",
	})

	ledgerMovementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_movement_total",
			Help: "Total number of ledger movements by kind and result",
		},
		[]string{"kind", "result"},
	)

	expirySweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expiry_sweep_expired_total",
		Help: "Total number of cases expired by the background sweeper",
	})
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
