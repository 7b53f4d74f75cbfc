package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "passvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	secretsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passvault_secrets_total",
		Help: "Number of live (not deleted) secrets.",
	})

	activeTokensTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passvault_active_tokens_total",
		Help: "Number of active (non-revoked, non-expired) tokens.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, secretsTotal, activeTokensTotal)
}

type gaugeSource interface {
	CountSecrets(ctx context.Context) (int64, error)
	CountActiveTokens(ctx context.Context) (int64, error)
}

// MetricsHandler returns the Prometheus handler. Inventory gauges are
// refreshed from storage on every scrape.
func MetricsHandler(src gaugeSource) http.Handler {
	prom := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n, err := src.CountSecrets(r.Context()); err == nil {
			secretsTotal.Set(float64(n))
		} else {
			log.Warn().Err(err).Msg("failed to count secrets")
		}
		if n, err := src.CountActiveTokens(r.Context()); err == nil {
			activeTokensTotal.Set(float64(n))
		} else {
			log.Warn().Err(err).Msg("failed to count tokens")
		}
		prom.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request metrics, labelled by route pattern so
// that ids in paths do not explode cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, route, status).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(dur)
	})
}
