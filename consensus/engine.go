// Package consensus implements two pluggable consensus engines:
// Proof-of-Work (longest chain) and Hybrid (stake-weighted
// deterministic leader election with light PoW). Both satisfy the same
// four-operation contract so the chain store, transport, and scheduler
// never branch on which one is running.
package consensus

import (
	"context"
	"time"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/chain"
)

// Engine is the common consensus contract, plus ObserveTip — a hook
// the scheduler calls on every tip change so an engine with
// slot/leader timing (Hybrid) can track how long it has waited for the
// expected leader. PoW's ObserveTip is a no-op.
type Engine interface {
	// CanPropose reports whether this node may attempt to produce a
	// block on tip at wall-clock now.
	CanPropose(tip *block.Block, now time.Time) bool

	// Produce synthesises a valid successor to tip. It returns
	// (nil, false) if ctx is cancelled before a block is found — the
	// caller must abandon the attempt without broadcasting anything.
	Produce(ctx context.Context, tip *block.Block, txs []block.Transaction, now time.Time) (*block.Block, bool)

	// Validate performs structural and consensus-specific checks
	// against block's parent.
	Validate(b, parent *block.Block) (ok bool, reason string)

	// Score computes the fork-choice value of a full chain from genesis
	// to its tip.
	Score(c []*block.Block) chain.Score

	// ObserveTip records when this node first saw tipHash, for engines
	// whose CanPropose depends on elapsed time since the tip arrived.
	ObserveTip(tipHash string, now time.Time)

	// NodeID returns the local node's identity, used when stamping
	// ProposerID on produced blocks.
	NodeID() int
}
