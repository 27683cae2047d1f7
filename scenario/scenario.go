// Package scenario implements two network-condition injectors:
// per-message delay sampling and a startup partition that heals at a
// scheduled time. Both satisfy p2p.OutboundFilter so the transport
// never branches on which scenario is active.
package scenario

import (
	"math/rand"
	"sync"
	"time"
)

// Delays samples a uniform delay in [Min, Max] for every outbound
// message, seeded deterministically from the run seed and the
// destination peer id so every node's view of "the delay to peer P"
// is reproducible across runs with the same seed.
type Delays struct {
	Min, Max time.Duration
	seed     uint64
	nodeID   int

	mu  sync.Mutex
	rng map[int]*rand.Rand
}

// NewDelays creates a Delays filter. seed is the run seed (--seed);
// nodeID is this node's identity, mixed into the per-peer RNG seed so
// distinct nodes do not sample identical delay sequences.
func NewDelays(seed uint64, nodeID int, min, max time.Duration) *Delays {
	return &Delays{
		Min:    min,
		Max:    max,
		seed:   seed,
		nodeID: nodeID,
		rng:    map[int]*rand.Rand{},
	}
}

func (d *Delays) rngFor(peerID int) *rand.Rand {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rng[peerID]
	if !ok {
		src := rand.NewSource(int64(d.seed) ^ int64(d.nodeID)<<32 ^ int64(peerID))
		r = rand.New(src)
		d.rng[peerID] = r
	}
	return r
}

// Delay always allows delivery, after a uniform random wait.
func (d *Delays) Delay(src, dst int, now time.Time) (time.Duration, bool) {
	r := d.rngFor(dst)
	span := d.Max - d.Min
	if span <= 0 {
		return d.Min, true
	}
	return d.Min + time.Duration(r.Int63n(int64(span)+1)), true
}

// Partition splits the node set into two fixed groups and drops every
// message whose source and destination are in different groups until
// HealAt has elapsed since the controller was created.
type Partition struct {
	groupA  map[int]bool
	healAt  time.Time
	healDur time.Duration

	mu     sync.Mutex
	healed bool
}

// DefaultGroupA is the default partition split: nodes 0 and 1 in one
// group, every other node in the other.
var DefaultGroupA = map[int]bool{0: true, 1: true}

// NewPartition creates a Partition that heals healDelay after now.
func NewPartition(groupA map[int]bool, healDelay time.Duration, now time.Time) *Partition {
	return &Partition{
		groupA:  groupA,
		healAt:  now.Add(healDelay),
		healDur: healDelay,
	}
}

func (p *Partition) sameGroup(a, b int) bool {
	return p.groupA[a] == p.groupA[b]
}

// HealAt returns the wall-clock time the partition lifts, so a caller
// can schedule a single timer instead of polling.
func (p *Partition) HealAt() time.Time {
	return p.healAt
}

// Healed reports whether the partition has lifted.
func (p *Partition) Healed(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healed {
		return true
	}
	if !now.Before(p.healAt) {
		p.healed = true
		return true
	}
	return false
}

// Delay never introduces latency; it allows delivery unless the
// partition is active and src/dst fall in different groups.
func (p *Partition) Delay(src, dst int, now time.Time) (time.Duration, bool) {
	if p.Healed(now) {
		return 0, true
	}
	return 0, p.sameGroup(src, dst)
}
