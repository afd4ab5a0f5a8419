package agentpay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollTicks       prometheus.Counter
	outcomes        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_http_attempts_total",
			Help: "HTTP attempts made by the transport, by outcome.",
		}, []string{"method", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_http_retries_total",
			Help: "Retries scheduled by the transport, by reason.",
		}, []string{"method", "reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpay_http_request_duration_seconds",
			Help:    "Duration of a logical request including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_poll_ticks_total",
			Help: "Transaction status fetches made while waiting for approval.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_approval_outcomes_total",
			Help: "Terminal outcomes observed while waiting for approval.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.retries, m.requestDuration, m.pollTicks, m.outcomes)
	}
	return m
}

func (m *Metrics) observeAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) observeRetry(method, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method, reason).Inc()
}

func (m *Metrics) observeDuration(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) observePollTick() {
	if m == nil {
		return
	}
	m.pollTicks.Inc()
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}
