package unifiedllm

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder receives resilience events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	IncFailure(provider string, category ErrorCategory, severity Severity)
	IncRetry(provider string, category ErrorCategory)
	ObserveRetryDelay(provider string, d time.Duration)
	IncRetriesExhausted(provider string, category ErrorCategory)
	SetBreakerState(name string, state BreakerState)
	IncBreakerRejection(name string)
}

// NoopRecorder is the default Recorder when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) IncFailure(string, ErrorCategory, Severity) {}
func (NoopRecorder) IncRetry(string, ErrorCategory) {}
func (NoopRecorder) ObserveRetryDelay(string, time.Duration) {}
func (NoopRecorder) IncRetriesExhausted(string, ErrorCategory) {}
func (NoopRecorder) SetBreakerState(string, BreakerState) {}
func (NoopRecorder) IncBreakerRejection(string) {}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	failures          *prom.CounterVec
	retries           *prom.CounterVec
	retryDelay        *prom.HistogramVec
	retriesExhausted  *prom.CounterVec
	breakerState      *prom.GaugeVec
	breakerRejections *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a private registry.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		failures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "llmguard",
			Name:      "provider_failures_total",
			Help:      "Classified provider failures",
		}, []string{"provider", "category", "severity"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "llmguard",
			Name:      "retries_total",
			Help:      "Retries scheduled after a retryable failure",
		}, []string{"provider", "category"}),
		retryDelay: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "llmguard",
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay before each retry",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider"}),
		retriesExhausted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "llmguard",
			Name:      "retries_exhausted_total",
			Help:      "Calls that failed after using every retry",
		}, []string{"provider", "category"}),
		breakerState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "llmguard",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
		breakerRejections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "llmguard",
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected without invoking the provider",
		}, []string{"breaker"}),
	}
	reg.MustRegister(pr.failures, pr.retries, pr.retryDelay, pr.retriesExhausted, pr.breakerState, pr.breakerRejections)
	return pr
}

func (p *PrometheusRecorder) IncFailure(provider string, category ErrorCategory, severity Severity) {
	p.failures.WithLabelValues(provider, string(category), severity.String()).Inc()
}

func (p *PrometheusRecorder) IncRetry(provider string, category ErrorCategory) {
	p.retries.WithLabelValues(provider, string(category)).Inc()
}

func (p *PrometheusRecorder) ObserveRetryDelay(provider string, d time.Duration) {
	p.retryDelay.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRetriesExhausted(provider string, category ErrorCategory) {
	p.retriesExhausted.WithLabelValues(provider, string(category)).Inc()
}

func (p *PrometheusRecorder) SetBreakerState(name string, state BreakerState) {
	p.breakerState.WithLabelValues(name).Set(state.gaugeValue())
}

func (p *PrometheusRecorder) IncBreakerRejection(name string) {
	p.breakerRejections.WithLabelValues(name).Inc()
}
