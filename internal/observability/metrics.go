// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Content store metrics
	PinsTotal      *prometheus.CounterVec
	PinErrors      *prometheus.CounterVec
	PinBytes       prometheus.Counter
	GatewayFetches prometheus.Counter
	GatewayLatency prometheus.Histogram

	// Ledger metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	TxSubmitted    *prometheus.CounterVec
	TxOutcomes     *prometheus.CounterVec
	EventsReceived *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	WSReconnects   prometheus.Counter

	// Read-state metrics
	RefreshesTotal *prometheus.CounterVec
	StaleDropped   *prometheus.CounterVec
	RefreshLatency *prometheus.HistogramVec
	Invalidations  *prometheus.CounterVec

	// Mint flow metrics
	MintsStarted   prometheus.Counter
	MintsSucceeded prometheus.Counter
	MintsFailed    *prometheus.CounterVec
	MintDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nftmarket"
	}

	return &Metrics{
		PinsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipfs",
			Name:      "pins_total",
			Help:      "Total number of successful pins by kind",
		}, []string{"kind"}),
		PinErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipfs",
			Name:      "pin_errors_total",
			Help:      "Total number of failed pins by error class",
		}, []string{"kind", "error"}),
		PinBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipfs",
			Name:      "pin_bytes_total",
			Help:      "Total bytes uploaded to the content store",
		}),
		GatewayFetches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipfs",
			Name:      "gateway_fetches_total",
			Help:      "Total number of gateway content fetches",
		}),
		GatewayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ipfs",
			Name:      "gateway_fetch_latency_seconds",
			Help:      "Gateway fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of ledger RPC call errors",
		}, []string{"method"}),
		TxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_submitted_total",
			Help:      "Total number of transactions submitted by kind",
		}, []string{"kind"}),
		TxOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_outcomes_total",
			Help:      "Total number of transaction outcomes by kind and status",
		}, []string{"kind", "status"}),
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_received_total",
			Help:      "Total number of contract events received by name",
		}, []string{"event"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_dropped_total",
			Help:      "Total number of contract events dropped on full subscriber channels",
		}, []string{"event"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),

		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readmodel",
			Name:      "refreshes_total",
			Help:      "Total number of cache refreshes by scope kind and status",
		}, []string{"scope", "status"}),
		StaleDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readmodel",
			Name:      "stale_responses_dropped_total",
			Help:      "Total number of refresh results discarded as stale",
		}, []string{"scope"}),
		RefreshLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "readmodel",
			Name:      "refresh_latency_seconds",
			Help:      "Cache refresh latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		Invalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readmodel",
			Name:      "invalidations_total",
			Help:      "Total number of scope invalidations by trigger",
		}, []string{"trigger"}),

		MintsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "started_total",
			Help:      "Total number of mint flows started",
		}),
		MintsSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "succeeded_total",
			Help:      "Total number of mint flows completed successfully",
		}),
		MintsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "failed_total",
			Help:      "Total number of mint flows failed by stage",
		}, []string{"stage"}),
		MintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "duration_seconds",
			Help:      "End-to-end mint flow duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPin records a successful pin.
func RecordPin(kind string, bytes int) {
	DefaultMetrics.PinsTotal.WithLabelValues(kind).Inc()
	DefaultMetrics.PinBytes.Add(float64(bytes))
}

// RecordPinError records a failed pin.
func RecordPinError(kind, errorClass string) {
	DefaultMetrics.PinErrors.WithLabelValues(kind, errorClass).Inc()
}

// RecordGatewayFetch records a gateway fetch and its latency.
func RecordGatewayFetch(seconds float64) {
	DefaultMetrics.GatewayFetches.Inc()
	DefaultMetrics.GatewayLatency.Observe(seconds)
}

// RecordRPCCall records ledger RPC call latency and errors.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordTxSubmitted records a submitted transaction.
func RecordTxSubmitted(kind string) {
	DefaultMetrics.TxSubmitted.WithLabelValues(kind).Inc()
}

// RecordTxOutcome records a transaction outcome.
func RecordTxOutcome(kind, status string) {
	DefaultMetrics.TxOutcomes.WithLabelValues(kind, status).Inc()
}

// RecordEventReceived records a received contract event.
func RecordEventReceived(event string) {
	DefaultMetrics.EventsReceived.WithLabelValues(event).Inc()
}

// RecordEventDropped records a contract event dropped on a full channel.
func RecordEventDropped(event string) {
	DefaultMetrics.EventsDropped.WithLabelValues(event).Inc()
}

// RecordWSReconnect records a WebSocket reconnect attempt.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordRefresh records a cache refresh with its outcome and latency.
func RecordRefresh(scope, status string, seconds float64) {
	DefaultMetrics.RefreshesTotal.WithLabelValues(scope, status).Inc()
	DefaultMetrics.RefreshLatency.WithLabelValues(scope).Observe(seconds)
}

// RecordStaleDropped records a refresh result discarded as stale.
func RecordStaleDropped(scope string) {
	DefaultMetrics.StaleDropped.WithLabelValues(scope).Inc()
}

// RecordInvalidation records a scope invalidation.
func RecordInvalidation(trigger string) {
	DefaultMetrics.Invalidations.WithLabelValues(trigger).Inc()
}
