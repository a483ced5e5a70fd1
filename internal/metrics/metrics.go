// Package metrics exposes client-side counters for the request gateway and
// the auth session. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "noblelift_client"

// Refresh outcomes.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshReused  = "reused"
)

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	unauthorized     prometheus.Counter
	networkFailures  prometheus.Counter
	stateTransitions *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests sent, by method and response status.",
		}, []string{"method", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"result"}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_total",
			Help:      "Calls that ended unauthorized and cleared the session.",
		}),
		networkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_failures_total",
			Help:      "Requests that failed at the transport level.",
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Auth session state emissions by state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.refreshes,
		m.unauthorized,
		m.networkFailures,
		m.stateTransitions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveUnauthorized() {
	if m == nil {
		return
	}
	m.unauthorized.Inc()
}

func (m *Metrics) ObserveNetworkFailure() {
	if m == nil {
		return
	}
	m.networkFailures.Inc()
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(state).Inc()
}
