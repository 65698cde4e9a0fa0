package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowClientMetrics groups the collectors shared by the ledger client, the
// escrow reader, reconciliation and the gateway.
type EscrowClientMetrics struct {
	rpcRequests   *prometheus.CounterVec
	rpcLatency    *prometheus.HistogramVec
	submissions   *prometheus.CounterVec
	confirmations *prometheus.HistogramVec
	decodeErrors  *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	phases        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	throttles     *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowClientMetrics
)

// EscrowClient returns the lazily-initialised metrics registry.
func EscrowClient() *EscrowClientMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowClientMetrics{
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "ledger",
				Name:      "rpc_requests_total",
				Help:      "Ledger JSON-RPC calls segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeshack",
				Subsystem: "ledger",
				Name:      "rpc_duration_seconds",
				Help:      "Latency distribution for ledger JSON-RPC calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Transactions submitted segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			confirmations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeshack",
				Subsystem: "ledger",
				Name:      "confirmation_seconds",
				Help:      "Time from send to confirmation segmented by confirmer.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			}, []string{"confirmer"}),
			decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "escrow",
				Name:      "decode_errors_total",
				Help:      "Program accounts whose bytes failed to decode, by layout.",
			}, []string{"layout"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "escrow",
				Name:      "scan_skipped_total",
				Help:      "Accounts skipped during program scans, by reason.",
			}, []string{"reason"}),
			phases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "reconcile",
				Name:      "views_total",
				Help:      "Reconciled views segmented by phase.",
			}, []string{"phase"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakeshack",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeshack",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			escrowRegistry.rpcRequests,
			escrowRegistry.rpcLatency,
			escrowRegistry.submissions,
			escrowRegistry.confirmations,
			escrowRegistry.decodeErrors,
			escrowRegistry.skipped,
			escrowRegistry.phases,
			escrowRegistry.httpRequests,
			escrowRegistry.httpLatency,
			escrowRegistry.throttles,
		)
	})
	return escrowRegistry
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// ObserveRPC records one JSON-RPC round trip.
func (m *EscrowClientMetrics) ObserveRPC(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	method = orUnknown(method)
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSubmission counts a submission outcome such as "confirmed",
// "rejected" or "timeout".
func (m *EscrowClientMetrics) RecordSubmission(operation, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(orUnknown(operation), orUnknown(outcome)).Inc()
}

func (m *EscrowClientMetrics) ObserveConfirmation(confirmer string, duration time.Duration) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(orUnknown(confirmer)).Observe(duration.Seconds())
}

func (m *EscrowClientMetrics) RecordDecodeError(layout string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(orUnknown(layout)).Inc()
}

func (m *EscrowClientMetrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(orUnknown(reason)).Inc()
}

func (m *EscrowClientMetrics) RecordPhase(phase string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(orUnknown(phase)).Inc()
}

// ObserveHTTP records a gateway request. The status code should be the one
// written to the response.
func (m *EscrowClientMetrics) ObserveHTTP(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = orUnknown(route)
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit".
func (m *EscrowClientMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(orUnknown(reason)).Inc()
}
