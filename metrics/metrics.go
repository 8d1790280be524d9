// Package metrics holds the Prometheus collectors for checkoutgate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Decisions         *prometheus.CounterVec
	DecisionDuration  prometheus.Histogram
	Submissions       *prometheus.CounterVec
	TokensIssued      prometheus.Counter
	RateLimited       prometheus.Counter
	SettingsLoadError prometheus.Counter
	BuildInfo         *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them with a private registry
// that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.MustRegister(reg)
	m.gatherer = reg
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkoutgate_decision_total",
				Help: "Gate decisions by kind (allow/challenge/redirect/json) and reason",
			},
			[]string{"kind", "reason"},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "checkoutgate_decision_duration_seconds",
				Help:    "Latency of gate decisions, including password verification",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkoutgate_submission_total",
				Help: "Password submissions by protocol (form/async) and outcome",
			},
			[]string{"protocol", "outcome"},
		),
		TokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkoutgate_token_issued_total",
				Help: "Auth tokens minted",
			},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkoutgate_rate_limited_total",
				Help: "Submissions refused by the rate limiter",
			},
		),
		SettingsLoadError: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkoutgate_settings_load_error_total",
				Help: "Settings loads that failed and let the request through",
			},
		),
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkoutgate_build_info",
				Help: "Build info gauge, always 1",
			},
			[]string{"version"},
		),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Decisions, m.DecisionDuration, m.Submissions, m.TokensIssued,
		m.RateLimited, m.SettingsLoadError, m.BuildInfo)
}

// SetVersion publishes the running version on the build info gauge.
func (m *Metrics) SetVersion(version string) {
	m.BuildInfo.Reset()
	m.BuildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
