package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locallift_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locallift_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locallift_gbp_token_refresh_total",
			Help: "Google access token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	EntitlementDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locallift_entitlement_denials_total",
			Help: "Gated actions denied by plan or quota.",
		},
		[]string{"reason", "feature"},
	)

	UsageIncrements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locallift_usage_increments_total",
			Help: "Metered usage counter increments.",
		},
		[]string{"feature"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locallift_gbp_upstream_requests_total",
			Help: "Calls made to the Google Business Profile APIs.",
		},
		[]string{"status"},
	)

	registerOnce sync.Once
)

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			TokenRefreshes,
			EntitlementDenials,
			UsageIncrements,
			UpstreamRequests,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records one observation per request labelled with the chi route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
