package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/warp/split-engine/engine"
)

// Metrics holds the Prometheus collectors of one server. Each instance owns
// its registry so tests can build many routers.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	distributions   *prometheus.CounterVec
	distributed     prometheus.Counter
	validation      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "How many HTTP requests processed, partitioned by status code, HTTP method and route.",
			},
			[]string{"code", "method", "route"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "request_duration_seconds",
				Help: "The HTTP request latencies in seconds.",
			},
			[]string{"code", "method", "route"},
		),
		distributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "distributions_total",
				Help: "Split distributions attempted, partitioned by result.",
			},
			[]string{"result"},
		),
		distributed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "distributed_amount_total",
				Help: "Sum of all successfully distributed amounts.",
			},
		),
		validation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "split_validation_failures_total",
				Help: "Rejected splits, partitioned by each distinct error code they carried.",
			},
			[]string{"code"},
		),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.distributions,
		m.distributed,
		m.validation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result labels of distributions_total.
const (
	resultSuccess = "success"
	resultInvalid = "invalid"
	resultFailed  = "failed"
)

func (m *Metrics) observeDistribution(result string, amount float64) {
	m.distributions.WithLabelValues(result).Inc()
	if result == resultSuccess {
		m.distributed.Add(amount)
	}
}

func (m *Metrics) observeValidation(errs engine.ValidationErrors) {
	for _, code := range errs.Codes() {
		m.validation.WithLabelValues(errorCode(code)).Inc()
	}
}

// Middleware updates the request metrics. Routes are labelled by their chi
// pattern to keep cardinality low.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := strconv.Itoa(statusOf(ww))
		elapsed := time.Since(start).Seconds()
		route := routePattern(r)

		m.requestDuration.WithLabelValues(status, r.Method, route).Observe(elapsed)
		m.requestCount.WithLabelValues(status, r.Method, route).Inc()
	})
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			event := logger.Info()
			switch {
			case status >= 500:
				event = logger.Error()
			case status >= 400:
				event = logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusOf treats a handler that wrote nothing as 200 OK, as net/http does.
func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
