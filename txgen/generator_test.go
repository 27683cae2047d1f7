package txgen

import (
	"testing"
	"time"
)

func TestNextIncreasesNoncePerSender(t *testing.T) {
	g := New(42, 0, 5)
	now := time.Now()
	seen := map[int]uint64{}
	for i := 0; i < 200; i++ {
		tx := g.Next(now)
		if tx.Nonce != seen[tx.Sender] {
			t.Fatalf("sender %d: got nonce %d, want %d", tx.Sender, tx.Nonce, seen[tx.Sender])
		}
		seen[tx.Sender]++
	}
}

func TestNextNeverSendsToSelfWithMultipleAccounts(t *testing.T) {
	g := New(42, 0, 5)
	now := time.Now()
	for i := 0; i < 200; i++ {
		tx := g.Next(now)
		if tx.Sender == tx.Recipient {
			t.Fatalf("transaction sent to self: %+v", tx)
		}
	}
}

func TestDeterministicAcrossInstances(t *testing.T) {
	now := time.Now()
	a := New(7, 1, 5).Batch(20, now)
	b := New(7, 1, 5).Batch(20, now)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tx %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
