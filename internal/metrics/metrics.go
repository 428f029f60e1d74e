// Package metrics exposes Prometheus instrumentation for the bookstore.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many instances as
// they like without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge

	checkoutSessionsTotal *prometheus.CounterVec
	webhookEventsTotal    *prometheus.CounterVec
	emailsTotal           *prometheus.CounterVec
	ordersSweptTotal      prometheus.Counter
}

// New constructs a metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	m.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookstore_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookstore_http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	m.checkoutSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_checkout_sessions_total",
		Help: "Hosted checkout sessions by outcome (created, failed).",
	}, []string{"outcome"})

	m.webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_webhook_events_total",
		Help: "Payment webhook events by result.",
	}, []string{"result"})

	m.emailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookstore_emails_total",
		Help: "Transactional emails by kind and result.",
	}, []string{"kind", "result"})

	m.ordersSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookstore_orders_swept_total",
		Help: "Pending orders marked abandoned by the sweep job.",
	})

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInflight,
		m.checkoutSessionsTotal,
		m.webhookEventsTotal,
		m.emailsTotal,
		m.ordersSweptTotal,
	)
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CheckoutSession(outcome string) {
	m.checkoutSessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WebhookEvent(result string) {
	m.webhookEventsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) EmailSent(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.emailsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) OrdersSwept(n int64) {
	if n > 0 {
		m.ordersSweptTotal.Add(float64(n))
	}
}

// Middleware instruments every request with count, latency and inflight
// gauges, labeled by the mux route template so path parameters do not blow
// up cardinality.
func (m *Metrics) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			m.httpInflight.Inc()
			defer m.httpInflight.Dec()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
