package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	rowsSeeded      prometheus.Counter
	listsConfirmed  prometheus.Counter
	itemsPosted     prometheus.Counter
}

// NewMetrics initialises the registry with HTTP and inventory metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_inventory_reconciliation_rejections_total",
		Help: "Composite preparations rejected by the reconciliation engine, by reason.",
	}, []string{"reason"})
	seeded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_inventory_rows_seeded_total",
		Help: "Ledger rows created by report generation.",
	})
	confirmed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_purchase_lists_confirmed_total",
		Help: "Purchase lists confirmed.",
	})
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_purchase_items_posted_total",
		Help: "Purchase list items posted into the ledger.",
	})
	registry.MustRegister(requests, duration, rejections, seeded, confirmed, posted)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		rejections:      rejections,
		rowsSeeded:      seeded,
		listsConfirmed:  confirmed,
		itemsPosted:     posted,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Gatherer exposes the registry for serving alongside other registries.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// RecordRejection counts a refused composite preparation.
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// AddRowsSeeded counts ledger rows created by report generation.
func (m *Metrics) AddRowsSeeded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsSeeded.Add(float64(n))
}

// RecordPurchaseConfirmed counts a confirmation and the items it posted.
func (m *Metrics) RecordPurchaseConfirmed(items int) {
	if m == nil {
		return
	}
	m.listsConfirmed.Inc()
	if items > 0 {
		m.itemsPosted.Add(float64(items))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
