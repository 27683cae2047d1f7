package invariant

import (
	"testing"

	"github.com/nilchain/consensim/block"
)

func blockWith(height int64, txs ...block.Transaction) *block.Block {
	return &block.Block{Height: height, Transactions: txs}
}

func TestCheckDoubleSpendCleanChainHasNoViolations(t *testing.T) {
	chain := []*block.Block{
		blockWith(1, block.Transaction{Sender: 0, Recipient: 1, Amount: 10, Nonce: 0}),
		blockWith(2, block.Transaction{Sender: 0, Recipient: 1, Amount: 5, Nonce: 1}),
		blockWith(3, block.Transaction{Sender: 1, Recipient: 0, Amount: 3, Nonce: 0}),
	}
	if v := CheckDoubleSpend(chain, []int{100, 100}); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestCheckDoubleSpendDetectsNonceReplay(t *testing.T) {
	chain := []*block.Block{
		blockWith(1, block.Transaction{Sender: 0, Recipient: 1, Amount: 10, Nonce: 0}),
		blockWith(2, block.Transaction{Sender: 0, Recipient: 1, Amount: 10, Nonce: 0}),
	}
	v := CheckDoubleSpend(chain, []int{100, 100})
	if len(v) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(v), v)
	}
	if v[0].Height != 2 || v[0].Sender != 0 {
		t.Fatalf("unexpected violation: %+v", v[0])
	}
}

func TestCheckDoubleSpendDetectsOverspend(t *testing.T) {
	chain := []*block.Block{
		blockWith(1, block.Transaction{Sender: 0, Recipient: 1, Amount: 1000, Nonce: 0}),
	}
	v := CheckDoubleSpend(chain, []int{10, 10})
	if len(v) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(v), v)
	}
}

func TestCheckDoubleSpendDetectsSenderOutOfRange(t *testing.T) {
	chain := []*block.Block{
		blockWith(1, block.Transaction{Sender: 5, Recipient: 1, Amount: 1, Nonce: 0}),
	}
	v := CheckDoubleSpend(chain, []int{10, 10})
	if len(v) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(v), v)
	}
}

func TestCheckDoubleSpendStopsAccountingAfterViolatingTx(t *testing.T) {
	// A nonce violation short-circuits that sender's remaining effect for
	// that transaction; the next correctly-nonced transaction from the
	// same sender must still be accepted.
	chain := []*block.Block{
		blockWith(1, block.Transaction{Sender: 0, Recipient: 1, Amount: 10, Nonce: 5}),
		blockWith(2, block.Transaction{Sender: 0, Recipient: 1, Amount: 10, Nonce: 0}),
	}
	v := CheckDoubleSpend(chain, []int{100, 100})
	if len(v) != 1 {
		t.Fatalf("expected 1 violation, got %d: %v", len(v), v)
	}
	if v[0].Height != 1 {
		t.Fatalf("expected violation at height 1, got %+v", v[0])
	}
}
