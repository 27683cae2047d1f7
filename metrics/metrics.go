// Package metrics exposes per-node Prometheus counters and gauges for
// the same event stream the structured log records, mirroring it into
// a scrapeable /metrics endpoint via prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of gauges/counters one node instance reports.
type Metrics struct {
	registry *prometheus.Registry

	BlocksAccepted  prometheus.Counter
	BlocksRejected  prometheus.Counter
	BlocksOrphaned  prometheus.Counter
	Reorgs          prometheus.Counter
	FinalHeight     prometheus.Gauge
	TipHeight       prometheus.Gauge
	PeersConnected  prometheus.Gauge
	SafetyViolation prometheus.Counter
}

// New creates a registry and the node's metric set, namespaced by
// node id so a shared scrape target can distinguish processes.
func New(nodeID int) *Metrics {
	reg := prometheus.NewRegistry()
	namespace := fmt.Sprintf("consensim_node_%d", nodeID)

	m := &Metrics{
		registry: reg,
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_accepted_total", Help: "Blocks accepted into the chain store.",
		}),
		BlocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_rejected_total", Help: "Blocks rejected by consensus validation.",
		}),
		BlocksOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_orphaned_total", Help: "Blocks buffered in the pending pool awaiting their parent.",
		}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reorgs_total", Help: "Tip changes that switched branches.",
		}),
		FinalHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "final_height", Help: "Highest finalized block height.",
		}),
		TipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tip_height", Help: "Current tip's block height.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers_connected", Help: "peer_connected minus peer_disconnected events, over inbound and outbound connections.",
		}),
		SafetyViolation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "safety_violations_total", Help: "Fatal finality conflicts observed.",
		}),
	}

	reg.MustRegister(
		m.BlocksAccepted, m.BlocksRejected, m.BlocksOrphaned, m.Reorgs,
		m.FinalHeight, m.TipHeight, m.PeersConnected, m.SafetyViolation,
	)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
