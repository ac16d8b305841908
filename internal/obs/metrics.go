package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveClients          = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelrelay_active_clients", Help: "Tunnels currently paired and pumping"})
	PendingTunnels         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelrelay_pending_tunnels", Help: "Pending (not yet connected) tunnels"})
	TunnelEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelrelay_tunnel_established_total", Help: "Tunnels established"})
	TunnelTimeoutTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelrelay_tunnel_timeout_total", Help: "Tunnels timed out before client"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnelrelay_errors_total", Help: "Errors by type"}, []string{"type"})
	TunnelDurationSeconds  = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tunnelrelay_tunnel_duration_seconds", Help: "Tunnel lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})

	// Relay-side pairing queues, partitioned by tunnel key and summed here.
	PendingPublicPipes = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelrelay_pending_public_pipes", Help: "Public-side pipes waiting for an agent"})
	PendingAgentPipes  = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelrelay_pending_agent_pipes", Help: "Agent-side pipes waiting for a public client"})
	AuthFailuresTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelrelay_auth_failures_total", Help: "Relay-side connections rejected by the authenticator"})

	// Agent pool.
	AgentPoolSize             = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelrelay_agent_pool_size", Help: "Warm (unconsumed) pool members currently held open"})
	AgentPoolReplacementTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnelrelay_agent_pool_replacement_total", Help: "Pool member replacements by trigger"}, []string{"trigger"})
)
