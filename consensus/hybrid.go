package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/chain"
)

// Hybrid is a stake-weighted leader-election engine: the leader for a
// slot is chosen deterministically from
// sha256(parent_hash|slot) mod total stake, landing in one node's
// cumulative stake interval. The elected leader mines a light-PoW
// block; if it misses LeaderTimeout, any node may propose as a
// fallback under its own proposer id, and Validate accepts such a block
// when its timestamp is at least LeaderTimeout past its parent's.
type Hybrid struct {
	nodeID          int
	stakes          []int64 // stakes[i] is node i's stake weight
	totalStake      int64
	lightDifficulty int
	leaderTimeout   time.Duration

	mu        sync.Mutex
	firstSeen map[string]time.Time // tip hash -> when this node first observed it
}

// NewHybrid creates a Hybrid engine. stakes is indexed by node ID and
// must be non-empty with a positive sum.
func NewHybrid(nodeID int, stakes []int64, lightDifficulty int, leaderTimeout time.Duration) *Hybrid {
	var total int64
	for _, w := range stakes {
		total += w
	}
	return &Hybrid{
		nodeID:          nodeID,
		stakes:          stakes,
		totalStake:      total,
		lightDifficulty: lightDifficulty,
		leaderTimeout:   leaderTimeout,
		firstSeen:       map[string]time.Time{},
	}
}

// NodeID implements Engine.
func (h *Hybrid) NodeID() int { return h.nodeID }

// leaderFor deterministically picks the slot's leader by hashing
// parentHash|slot into a uint64 and walking cumulative stake
// intervals.
func (h *Hybrid) leaderFor(parentHash string, slot int64) int {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", parentHash, slot))
	point := binary.BigEndian.Uint64(sum[:8]) % uint64(h.totalStake)

	var cumulative int64
	for id, w := range h.stakes {
		cumulative += w
		if point < uint64(cumulative) {
			return id
		}
	}
	return len(h.stakes) - 1
}

// ObserveTip records when this node first saw tipHash, the reference
// point for the leader-timeout fallback.
func (h *Hybrid) ObserveTip(tipHash string, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.firstSeen[tipHash]; !ok {
		h.firstSeen[tipHash] = now
	}
}

func (h *Hybrid) elapsedSinceTip(tipHash string, now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen, ok := h.firstSeen[tipHash]
	if !ok {
		return 0
	}
	return now.Sub(seen)
}

// CanPropose reports true for the slot's elected leader immediately,
// or for any node once LeaderTimeout has elapsed since the tip arrived
// without the leader producing a block.
func (h *Hybrid) CanPropose(tip *block.Block, now time.Time) bool {
	slot := tip.Height + 1
	if h.leaderFor(tip.Hash, slot) == h.nodeID {
		return true
	}
	return h.elapsedSinceTip(tip.Hash, now) >= h.leaderTimeout
}

// Produce mines a light-PoW successor, returning (nil, false) if ctx
// is cancelled first.
func (h *Hybrid) Produce(ctx context.Context, tip *block.Block, txs []block.Transaction, now time.Time) (*block.Block, bool) {
	b := &block.Block{
		Height:       tip.Height + 1,
		PrevHash:     tip.Hash,
		Transactions: txs,
		ProposerID:   h.nodeID,
		Timestamp:    now.UnixNano(),
	}
	for nonce := uint64(0); ; nonce++ {
		if nonce%preemptionInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, false
			default:
			}
		}
		b.Nonce = nonce
		b.Hash = b.ComputeHash()
		if block.MeetsDifficulty(b.Hash, h.lightDifficulty) {
			return b, true
		}
	}
}

// Validate accepts a block if its proposer was the elected leader for
// the slot, or if its timestamp is at least LeaderTimeout past the
// parent's timestamp (the fallback path). The light-PoW predicate
// and the usual linkage/height/timestamp checks always apply.
func (h *Hybrid) Validate(b, parent *block.Block) (bool, string) {
	if b.PrevHash != parent.Hash {
		return false, "prev_hash does not match parent"
	}
	if b.Height != parent.Height+1 {
		return false, "height is not parent height + 1"
	}
	if b.Timestamp < parent.Timestamp {
		return false, "timestamp precedes parent"
	}
	if computed := b.ComputeHash(); computed != b.Hash {
		return false, "stored hash does not match recomputed hash"
	}
	if !block.MeetsDifficulty(b.Hash, h.lightDifficulty) {
		return false, "hash does not meet light difficulty"
	}

	leader := h.leaderFor(parent.Hash, b.Height)
	if b.ProposerID == leader {
		return true, ""
	}
	elapsed := time.Duration(b.Timestamp-parent.Timestamp) * time.Nanosecond
	if elapsed < h.leaderTimeout {
		return false, "proposer is not the elected leader and leader timeout has not elapsed"
	}
	return true, ""
}

// Score sums the stake weight of every proposer along the chain,
// tie-broken by chain length then the lexicographically smaller tip
// hash.
func (h *Hybrid) Score(c []*block.Block) chain.Score {
	var stakeSum int64
	for _, b := range c {
		if b.Height == 0 {
			continue
		}
		stakeSum += h.stakes[b.ProposerID]
	}
	tip := c[len(c)-1]
	return chain.Score{Primary: stakeSum, Secondary: tip.Height, TipHash: tip.Hash}
}
