// Package events is a small synchronous pub/sub broker used to decouple
// the chain store, consensus engine, and transport from their
// observers: the structured logger and the metrics exporter.
package events

import (
	"log"
	"sync"
)

// Type labels what happened, one of the event types the node log records.
type Type string

const (
	Startup          Type = "startup"
	PeerConnected    Type = "peer_connected"
	PeerDisconnected Type = "peer_disconnected"
	BlockCreated     Type = "block_created"
	BlockReceived    Type = "block_received"
	BlockAccepted    Type = "block_accepted"
	BlockRejected    Type = "block_rejected"
	BlockOrphaned    Type = "block_orphaned"
	TipChanged       Type = "tip_changed"
	Finalized        Type = "finalized"
	Reorg            Type = "reorg"
	PartitionStart   Type = "partition_start"
	PartitionHeal    Type = "partition_heal"
	SafetyViolation  Type = "safety_violation"
	Shutdown         Type = "shutdown"
)

// Event carries a typed payload to subscribers. Data holds whatever
// fields are relevant to Type; it is marshalled verbatim into the log
// line's "data" object.
type Event struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
