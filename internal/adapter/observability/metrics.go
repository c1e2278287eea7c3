package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	StageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Total number of stage failures by stage and class",
		},
		[]string{"stage", "class"},
	)

	MLRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_requests_total",
			Help: "Total number of ML scoring requests by result",
		},
		[]string{"result"},
	)
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM adjudication requests by provider and result",
		},
		[]string{"provider", "result"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_breaker_state",
			Help: "Circuit breaker state per key (0 closed, 1 open, 2 half-open)",
		},
		[]string{"key"},
	)
	LLMHealthUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_health_up",
			Help: "Result of the last adjudicator canary probe (1 healthy, 0 failing)",
		},
	)

	JobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_queued",
			Help: "Number of jobs currently queued",
		},
	)
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
	)
	JobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_retried_total",
			Help: "Total number of job attempts re-queued with backoff",
		},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Total number of final decisions by outcome",
		},
		[]string{"outcome"},
	)
	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs finalized as failed (dead-lettered)",
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageErrorsTotal)
	prometheus.MustRegister(MLRequestsTotal)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(LLMHealthUp)
	prometheus.MustRegister(JobsQueued)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsRetriedTotal)
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(JobsFailedTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveStage records one stage execution.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveDecision records the final routing outcome.
func ObserveDecision(outcome string) {
	DecisionsTotal.WithLabelValues(outcome).Inc()
}

// SetBreakerState publishes the circuit state for one breaker key.
func SetBreakerState(key string, state float64) {
	BreakerState.WithLabelValues(key).Set(state)
}

// SetLLMHealth publishes the latest canary probe result.
func SetLLMHealth(healthy bool) {
	if healthy {
		LLMHealthUp.Set(1)
		return
	}
	LLMHealthUp.Set(0)
}
