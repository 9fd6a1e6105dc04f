// Package metrics exposes the proxy's Prometheus collector: session
// counts, per-protocol auth outcomes, relay byte totals, timeouts, and
// upstream TLS verification failures. Shape is grounded on
// infodancer-pop3d's internal/metrics/prometheus.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements the narrow metrics surfaces internal/relay and
// internal/session report through (relay.Metrics plus the session-level
// counters below), backed by real Prometheus collectors.
type Collector struct {
	sessionsTotal    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	authOutcomeTotal *prometheus.CounterVec
	relayBytesTotal  *prometheus.CounterVec
	relayTimeouts    *prometheus.CounterVec
	tlsVerifyFailed  prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailproxy_sessions_total",
			Help: "Total number of proxy sessions started, by protocol.",
		}, []string{"protocol"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailproxy_sessions_active",
			Help: "Number of currently active proxy sessions.",
		}),
		authOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailproxy_auth_outcomes_total",
			Help: "Total AuthStateMachine outcomes, by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		relayBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailproxy_relay_bytes_total",
			Help: "Total bytes forwarded by the relay pump, by direction.",
		}, []string{"direction"}),
		relayTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailproxy_relay_timeouts_total",
			Help: "Total relay idle timeouts, by side.",
		}, []string{"side"}),
		tlsVerifyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailproxy_upstream_tls_verify_failures_total",
			Help: "Total upstream TLS certificate verification failures.",
		}),
	}

	reg.MustRegister(
		c.sessionsTotal,
		c.sessionsActive,
		c.authOutcomeTotal,
		c.relayBytesTotal,
		c.relayTimeouts,
		c.tlsVerifyFailed,
	)

	return c
}

// SessionStarted records a new session for protocol.
func (c *Collector) SessionStarted(protocol string) {
	c.sessionsTotal.WithLabelValues(protocol).Inc()
	c.sessionsActive.Inc()
}

// SessionEnded decrements the active session gauge.
func (c *Collector) SessionEnded() {
	c.sessionsActive.Dec()
}

// AuthOutcome records the terminal outcome an AuthStateMachine reached.
func (c *Collector) AuthOutcome(protocol, outcome string) {
	c.authOutcomeTotal.WithLabelValues(protocol, outcome).Inc()
}

// RelayBytes implements relay.Metrics.
func (c *Collector) RelayBytes(direction string, n int) {
	c.relayBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RelayTimeout implements relay.Metrics.
func (c *Collector) RelayTimeout(side string) {
	c.relayTimeouts.WithLabelValues(side).Inc()
}

// TLSVerifyFailed records an upstream TLS verification failure.
func (c *Collector) TLSVerifyFailed() {
	c.tlsVerifyFailed.Inc()
}
