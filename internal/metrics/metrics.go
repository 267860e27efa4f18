// Package metrics exposes the Prometheus collectors shared by the
// storefront and tracker processes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jogardn/fromentine-orders/internal/circuitbreaker"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	changeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_change_events_total",
			Help: "Change events published, by table, kind and order status",
		},
		[]string{"table", "kind", "status"},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	trackerConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_websocket_connections",
			Help: "Open order tracking websocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(changeEventsTotal)
	prometheus.MustRegister(circuitBreakerState)
	prometheus.MustRegister(trackerConnections)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by route template,
// so /api/orders/{id} is one series rather than one per order.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBreakerState is shaped to be a circuitbreaker OnStateChange callback.
func RecordBreakerState(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	circuitBreakerState.WithLabelValues(name).Set(float64(to))
}

func TrackerConnectionOpened() { trackerConnections.Inc() }

func TrackerConnectionClosed() { trackerConnections.Dec() }

type ChangePublisher interface {
	Publish(event models.ChangeEvent) error
}

// CountingPublisher counts every change event that its inner publisher
// accepted.
type CountingPublisher struct {
	next ChangePublisher
}

func NewCountingPublisher(next ChangePublisher) *CountingPublisher {
	return &CountingPublisher{next: next}
}

func (p *CountingPublisher) Publish(event models.ChangeEvent) error {
	if err := p.next.Publish(event); err != nil {
		return err
	}
	status := ""
	if event.Order != nil {
		status = string(event.Order.Status)
	}
	changeEventsTotal.WithLabelValues(event.Table, string(event.Kind), status).Inc()
	return nil
}
