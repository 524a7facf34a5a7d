// Package metrics exposes Prometheus collectors for the ingestion
// pipeline and HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xrpldash",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xrpldash",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	// LedgersProcessed counts ledgerClosed events fully processed.
	LedgersProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "pipeline",
			Name:      "ledgers_processed_total",
			Help:      "Total number of closed ledgers processed.",
		},
	)

	// LedgerFetchFailures counts failed per-ledger transaction fetches.
	LedgerFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "pipeline",
			Name:      "ledger_fetch_failures_total",
			Help:      "Total number of failed ledger transaction fetches.",
		},
	)

	// PricesPersisted counts price rows actually inserted, by source path.
	PricesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "prices",
			Name:      "persisted_total",
			Help:      "Total number of price observations persisted.",
		},
		[]string{"source"},
	)

	// PriceBroadcasts counts accepted and suppressed broadcast attempts.
	PriceBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "prices",
			Name:      "broadcasts_total",
			Help:      "Price broadcast attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// UpstreamReconnects counts reconnect attempts to the XRPL endpoints.
	UpstreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xrpldash",
			Subsystem: "upstream",
			Name:      "reconnects_total",
			Help:      "Total number of upstream reconnect attempts.",
		},
	)

	// UpstreamRequestDuration observes upstream request latency by command.
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xrpldash",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream XRPL requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"command"},
	)

	// ConnectedClients tracks currently attached websocket subscribers.
	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xrpldash",
			Subsystem: "hub",
			Name:      "connected_clients",
			Help:      "Current number of attached websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		LedgersProcessed,
		LedgerFetchFailures,
		PricesPersisted,
		PriceBroadcasts,
		UpstreamReconnects,
		UpstreamRequestDuration,
		ConnectedClients,
	)
}

// Handler serves the metrics endpoint for the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an HTTP handler with request counting and timing.
func Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
