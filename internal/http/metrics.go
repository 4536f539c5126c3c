package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/socialauth/internal/http/middlewares"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	loginStartsTotal    *prometheus.CounterVec
	callbackTotal       *prometheus.CounterVec
	refreshTotal        *prometheus.CounterVec
	rateRejectionsTotal *prometheus.CounterVec
)

// RegisterMetrics registra las métricas del servicio y devuelve el handler
// para /metrics. Idempotente.
func RegisterMetrics(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		loginStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_login_starts_total",
			Help: "Flows de autorización iniciados, por provider",
		}, []string{"provider"})

		callbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_callbacks_total",
			Help: "Callbacks procesados por provider y resultado",
		}, []string{"provider", "outcome"}) // outcome: signed_in|created|linked|needs_confirmation|error

		refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_token_refresh_total",
			Help: "Intentos de refresh en background por resultado",
		}, []string{"provider", "result"}) // result: ok|retry|failed

		rateRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rechazadas por rate limiting",
		}, []string{"path"})

		reg.MustRegister(httpRequestsTotal, httpRequestDuration,
			loginStartsTotal, callbackTotal, refreshTotal, rateRejectionsTotal)
	})

	return promhttp.Handler()
}

// withHTTPMetrics instrumenta requests con counter + histograma. El label de
// path usa el patrón de ruta, no el path crudo, para acotar cardinalidad.
func withHTTPMetrics(pattern string) middlewares.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if httpRequestsTotal == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
			if rec.status == http.StatusTooManyRequests {
				rateRejectionsTotal.WithLabelValues(pattern).Inc()
			}
		})
	}
}

type metricsRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (m *metricsRecorder) WriteHeader(code int) {
	if !m.wroteHeader {
		m.status = code
		m.wroteHeader = true
	}
	m.ResponseWriter.WriteHeader(code)
}

func countLoginStart(provider string) {
	if loginStartsTotal != nil {
		loginStartsTotal.WithLabelValues(provider).Inc()
	}
}

func countCallback(provider, outcome string) {
	if callbackTotal != nil {
		callbackTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// CountRefresh expone el counter de refresh al worker en background.
func CountRefresh(provider, result string) {
	if refreshTotal != nil {
		refreshTotal.WithLabelValues(provider, result).Inc()
	}
}
