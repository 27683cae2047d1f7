package metrics

import "github.com/nilchain/consensim/events"

// Observe wires m's counters and gauges to the node's event stream so
// metrics stay in lockstep with the JSON-lines log without either side
// calling into the other.
func Observe(emitter *events.Emitter, m *Metrics) {
	emitter.Subscribe(events.BlockAccepted, func(events.Event) { m.BlocksAccepted.Inc() })
	emitter.Subscribe(events.BlockRejected, func(events.Event) { m.BlocksRejected.Inc() })
	emitter.Subscribe(events.BlockOrphaned, func(events.Event) { m.BlocksOrphaned.Inc() })
	emitter.Subscribe(events.Reorg, func(events.Event) { m.Reorgs.Inc() })
	emitter.Subscribe(events.SafetyViolation, func(events.Event) { m.SafetyViolation.Inc() })
	emitter.Subscribe(events.PeerConnected, func(events.Event) { m.PeersConnected.Inc() })
	emitter.Subscribe(events.PeerDisconnected, func(events.Event) { m.PeersConnected.Dec() })

	emitter.Subscribe(events.Finalized, func(ev events.Event) {
		if h, ok := ev.Data["height"].(int64); ok {
			m.FinalHeight.Set(float64(h))
		}
	})
	emitter.Subscribe(events.TipChanged, func(ev events.Event) {
		if h, ok := ev.Data["height"].(int64); ok {
			m.TipHeight.Set(float64(h))
		}
	})
}
