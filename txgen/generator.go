// Package txgen is a synthetic transaction generator. It produces
// opaque transactions for blocks to carry; no validity checking
// happens here or anywhere in block acceptance — see package invariant
// for the offline checks that run after a run completes.
package txgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nilchain/consensim/block"
)

// Generator produces pseudo-random transactions among a fixed pool of
// account ids, deterministically seeded so a run can be replayed.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	accounts int
	nextNonce map[int]uint64
}

// New creates a Generator seeded from seed and nodeID (mixed so
// distinct nodes in the same run produce distinct transaction
// streams), drawing sender/recipient ids from [0, accounts).
func New(seed uint64, nodeID, accounts int) *Generator {
	src := rand.NewSource(int64(seed) ^ int64(nodeID)<<32)
	return &Generator{
		rng:       rand.New(src),
		accounts:  accounts,
		nextNonce: make(map[int]uint64, accounts),
	}
}

// Next synthesises one transaction with a strictly increasing nonce
// per sender, timestamped at now.
func (g *Generator) Next(now time.Time) block.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	sender := g.rng.Intn(g.accounts)
	recipient := g.rng.Intn(g.accounts)
	for recipient == sender && g.accounts > 1 {
		recipient = g.rng.Intn(g.accounts)
	}
	nonce := g.nextNonce[sender]
	g.nextNonce[sender] = nonce + 1

	return block.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    uint64(1 + g.rng.Intn(100)),
		Nonce:     nonce,
		Timestamp: now.UnixNano(),
	}
}

// Batch synthesises exactly n transactions.
func (g *Generator) Batch(n int, now time.Time) []block.Transaction {
	txs := make([]block.Transaction, n)
	for i := range txs {
		txs[i] = g.Next(now)
	}
	return txs
}
