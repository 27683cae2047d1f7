// Package invariant implements offline checks run against a finalized
// chain after a simulation ends: double-spend detection (a
// transaction-level check kept out of block acceptance entirely, since
// transactions are opaque at insert time) and the structural
// invariants (hash integrity, chain continuity, and cross-node
// agreement on finalized hashes).
package invariant

import (
	"fmt"

	"github.com/nilchain/consensim/block"
)

// account tracks the balance/nonce pair an offline opaque-transaction
// check needs.
type account struct {
	balance int64
	nonce   uint64
}

// Violation describes one detected double-spend or replay.
type Violation struct {
	Height int64
	TxHash string
	Sender int
	Reason string
}

func (v Violation) Error() string {
	return fmt.Sprintf("invariant: height %d tx %s sender %d: %s", v.Height, v.TxHash, v.Sender, v.Reason)
}

// CheckDoubleSpend replays every transaction in chain order against a
// starting balance table and reports every violation found: a nonce
// that is not exactly the sender's next expected nonce (replay or
// reorder), or a spend that would drive a sender's balance negative.
// It does not stop at the first violation — a full report is more
// useful for a test suite than a single failure.
func CheckDoubleSpend(chain []*block.Block, initialBalances []int) []Violation {
	accounts := make([]account, len(initialBalances))
	for i, b := range initialBalances {
		accounts[i] = account{balance: int64(b)}
	}

	var violations []Violation
	for _, blk := range chain {
		for _, tx := range blk.Transactions {
			if tx.Sender < 0 || tx.Sender >= len(accounts) {
				violations = append(violations, Violation{
					Height: blk.Height, TxHash: tx.Hash(), Sender: tx.Sender,
					Reason: "sender id out of range of configured accounts",
				})
				continue
			}
			acct := &accounts[tx.Sender]
			if tx.Nonce != acct.nonce {
				violations = append(violations, Violation{
					Height: blk.Height, TxHash: tx.Hash(), Sender: tx.Sender,
					Reason: fmt.Sprintf("nonce %d does not match expected next nonce %d", tx.Nonce, acct.nonce),
				})
				continue
			}
			if acct.balance < int64(tx.Amount) {
				violations = append(violations, Violation{
					Height: blk.Height, TxHash: tx.Hash(), Sender: tx.Sender,
					Reason: fmt.Sprintf("balance %d insufficient for amount %d", acct.balance, tx.Amount),
				})
				continue
			}
			acct.balance -= int64(tx.Amount)
			acct.nonce++
			if tx.Recipient >= 0 && tx.Recipient < len(accounts) {
				accounts[tx.Recipient].balance += int64(tx.Amount)
			}
		}
	}
	return violations
}
