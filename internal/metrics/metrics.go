// Package metrics exposes prometheus collectors for the execution subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BridgeRequests counts bridge calls per operation, including retries.
	BridgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mt4_bridge_requests_total",
		Help: "Bridge API calls by operation, retries included.",
	}, []string{"op"})

	// BridgeFailures counts failed bridge calls per operation.
	BridgeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mt4_bridge_failures_total",
		Help: "Failed bridge API calls by operation.",
	}, []string{"op"})

	// OrdersClosed counts monitor-initiated closes by reason.
	OrdersClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mt4_orders_closed_total",
		Help: "Positions closed by the monitor, by close reason.",
	}, []string{"reason"})

	// PolicyVetoes counts exit evaluations suppressed by a policy gate.
	PolicyVetoes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mt4_policy_vetoes_total",
		Help: "Exit evaluations suppressed by policy, by gate.",
	}, []string{"gate"})

	// MonitorTicks counts position-monitor tick executions.
	MonitorTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mt4_monitor_ticks_total",
		Help: "Position monitor tick executions.",
	})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(BridgeRequests, BridgeFailures, OrdersClosed, PolicyVetoes, MonitorTicks)
}

// Handler serves the metrics registry for the dashboard mux.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
