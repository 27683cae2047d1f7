package consensus

import (
	"context"
	"time"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/chain"
)

// preemptionInterval is how many nonces PoW mines between checks of the
// cancellation signal — fine enough that a tip change is observed
// within milliseconds, coarse enough that the check itself
// isn't the bottleneck.
const preemptionInterval = 2000

// PoW is the Proof-of-Work engine: iterate nonces until the block hash
// has at least Difficulty leading hex-zero nibbles. Fork-choice is the
// longest chain, tie-broken by the lexicographically smaller tip hash.
type PoW struct {
	nodeID     int
	difficulty int
}

// NewPoW creates a PoW engine for the local node.
func NewPoW(nodeID, difficulty int) *PoW {
	return &PoW{nodeID: nodeID, difficulty: difficulty}
}

// NodeID implements Engine.
func (p *PoW) NodeID() int { return p.nodeID }

// CanPropose implements Engine: PoW miners are always eligible to try.
func (p *PoW) CanPropose(tip *block.Block, now time.Time) bool { return true }

// ObserveTip implements Engine; PoW has no leader-timeout state to track.
func (p *PoW) ObserveTip(tipHash string, now time.Time) {}

// Produce mines a successor to tip, returning (nil, false) if ctx is
// cancelled first (a better tip arrived).
func (p *PoW) Produce(ctx context.Context, tip *block.Block, txs []block.Transaction, now time.Time) (*block.Block, bool) {
	b := &block.Block{
		Height:       tip.Height + 1,
		PrevHash:     tip.Hash,
		Transactions: txs,
		ProposerID:   p.nodeID,
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
		if block.MeetsDifficulty(b.Hash, p.difficulty) {
			return b, true
		}
	}
}

// Validate checks prev-hash linkage, height continuity, non-decreasing
// timestamp, and the difficulty predicate on the recomputed hash.
func (p *PoW) Validate(b, parent *block.Block) (bool, string) {
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
	if !block.MeetsDifficulty(b.Hash, p.difficulty) {
		return false, "hash does not meet difficulty"
	}
	return true, ""
}

// Score is chain length, tie-broken by the lexicographically smaller
// tip hash.
func (p *PoW) Score(c []*block.Block) chain.Score {
	tip := c[len(c)-1]
	return chain.Score{Primary: tip.Height, TipHash: tip.Hash}
}
