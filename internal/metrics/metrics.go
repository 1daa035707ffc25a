// Package metrics exposes Prometheus counters for the auth flow and the API
// gateway. All record methods are safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client
type Metrics struct {
	// GatewayRequests counts outbound record-store requests by method and status
	GatewayRequests *prometheus.CounterVec
	// GatewayLatency tracks outbound request latency by method
	GatewayLatency *prometheus.HistogramVec
	// GatewayRecoveries counts 401 recovery attempts by outcome
	GatewayRecoveries *prometheus.CounterVec
	// LimiterWait tracks time spent waiting for the outbound rate limiter
	LimiterWait prometheus.Histogram
	// TokenExchanges counts JWT-bearer exchanges by result
	TokenExchanges *prometheus.CounterVec
	// StepTransitions counts auth state machine transitions by target step
	StepTransitions *prometheus.CounterVec
	// StaleResults counts async results discarded by the staleness guard
	StaleResults *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of outbound record-store requests",
			},
			[]string{"method", "status"},
		),
		GatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Outbound request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		GatewayRecoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_recoveries_total",
				Help:      "Total number of 401 recovery attempts",
			},
			[]string{"outcome"},
		),
		LimiterWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_limiter_wait_seconds",
				Help:      "Time spent waiting for the outbound rate limiter",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
			},
		),
		TokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_exchanges_total",
				Help:      "Total number of service-account token exchanges",
			},
			[]string{"result"},
		),
		StepTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_step_transitions_total",
				Help:      "Total number of auth step transitions",
			},
			[]string{"step"},
		),
		StaleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_stale_results_total",
				Help:      "Async results discarded because the auth state moved on",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.GatewayRequests,
		m.GatewayLatency,
		m.GatewayRecoveries,
		m.LimiterWait,
		m.TokenExchanges,
		m.StepTransitions,
		m.StaleResults,
	)

	return m
}

// RecordGatewayRequest records one outbound request
func (m *Metrics) RecordGatewayRequest(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(method, status).Inc()
	m.GatewayLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordRecovery records the outcome of a 401 recovery
func (m *Metrics) RecordRecovery(outcome string) {
	if m == nil {
		return
	}
	m.GatewayRecoveries.WithLabelValues(outcome).Inc()
}

// RecordLimiterWait records time spent in the rate limiter
func (m *Metrics) RecordLimiterWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LimiterWait.Observe(d.Seconds())
}

// RecordTokenExchange records a token exchange result
func (m *Metrics) RecordTokenExchange(result string) {
	if m == nil {
		return
	}
	m.TokenExchanges.WithLabelValues(result).Inc()
}

// RecordStep records a transition into step
func (m *Metrics) RecordStep(step string) {
	if m == nil {
		return
	}
	m.StepTransitions.WithLabelValues(step).Inc()
}

// RecordStale records a discarded async result
func (m *Metrics) RecordStale(operation string) {
	if m == nil {
		return
	}
	m.StaleResults.WithLabelValues(operation).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
