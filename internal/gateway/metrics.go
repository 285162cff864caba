package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aethersystems/aether/internal/agentloop"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/process"
)

// Kernel-wide counters and gauges surfaced on the kernel.metrics HTTP
// endpoint (spec §6). Registered against the default registry so a single
// process exposes one coherent /metrics output.
var (
	processesSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aether_processes_spawned_total",
		Help: "Total number of agent processes spawned.",
	})
	processesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aether_processes_active",
		Help: "Number of agent processes currently running or paused.",
	})
	gatewaySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aether_gateway_sessions_active",
		Help: "Number of live authenticated WebSocket sessions.",
	})
	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aether_tool_invocations_total",
		Help: "Total number of tool executions, labeled by tool name and outcome.",
	}, []string{"tool", "outcome"})
)

// registerMetrics mounts the /metrics endpoint on mux.
func registerMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// watchMetrics subscribes to the EventBus directly (outside any session) and
// keeps the kernel-wide counters in sync for as long as bus is alive. Run as
// a background goroutine from New.
func watchMetrics(bus *eventbus.Bus) {
	sub := bus.Subscribe("process")
	agentSub := bus.Subscribe("agent")
	go func() {
		for evt := range sub.Events() {
			switch evt.Payload.(type) {
			case process.ProcessSpawnedEvent:
				processesSpawned.Inc()
				processesActive.Inc()
			case process.ProcessExitEvent:
				processesActive.Dec()
			}
		}
	}()
	go func() {
		for evt := range agentSub.Events() {
			switch p := evt.Payload.(type) {
			case agentloop.AgentObservationEvent:
				outcome := "error"
				if p.Success {
					outcome = "success"
				}
				toolInvocations.WithLabelValues(p.Tool, outcome).Inc()
			}
		}
	}()
}
