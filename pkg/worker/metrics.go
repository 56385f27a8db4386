package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// strategyResponses tracks where each intercepted response came from
	strategyResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_worker_responses_total",
			Help: "Intercepted responses by strategy and source",
		},
		[]string{"strategy", "source"}, // source: "network", "cache", "offline"
	)

	// passthroughRequests tracks requests the worker did not intercept
	passthroughRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botdash_worker_passthrough_total",
			Help: "Requests passed to the network without interception",
		},
	)

	// stateTransitions tracks worker lifecycle transitions
	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_worker_state_transitions_total",
			Help: "Worker lifecycle transitions by target state",
		},
		[]string{"state"},
	)

	// backgroundWrites tracks asynchronous API store writes
	backgroundWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botdash_worker_background_writes_total",
			Help: "Background API store writes by result",
		},
		[]string{"result"}, // "success", "error"
	)

	// connectedClients is the number of registered page clients
	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botdash_worker_clients",
			Help: "Number of page clients connected to the registration",
		},
	)
)
