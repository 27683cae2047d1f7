package block

import "testing"

func TestGenesisDeterministic(t *testing.T) {
	a := Genesis()
	b := Genesis()
	if a.Hash != b.Hash {
		t.Fatalf("genesis hash not deterministic: %s vs %s", a.Hash, b.Hash)
	}
	if a.Height != 0 {
		t.Errorf("genesis height: got %d want 0", a.Height)
	}
	if !IsGenesisPrevHash(a.PrevHash) {
		t.Errorf("genesis prev_hash not recognised as genesis: %q", a.PrevHash)
	}
}

func TestComputeHashStable(t *testing.T) {
	b := &Block{
		Height:     1,
		PrevHash:   Genesis().Hash,
		ProposerID: 2,
		Timestamp:  1000,
		Nonce:      42,
		Transactions: []Transaction{
			{Sender: 0, Recipient: 1, Amount: 10, Nonce: 0, Timestamp: 999},
		},
	}
	h1 := b.ComputeHash()
	h2 := b.ComputeHash()
	if h1 != h2 {
		t.Fatalf("ComputeHash not stable: %s vs %s", h1, h2)
	}
	b.Nonce++
	if h3 := b.ComputeHash(); h3 == h1 {
		t.Error("changing nonce did not change hash")
	}
}

func TestMeetsDifficulty(t *testing.T) {
	cases := []struct {
		hash string
		diff int
		want bool
	}{
		{"0000abcd", 4, true},
		{"0000abcd", 5, false},
		{"000abcd", 3, true},
		{"1000abcd", 1, false},
	}
	for _, c := range cases {
		if got := MeetsDifficulty(c.hash, c.diff); got != c.want {
			t.Errorf("MeetsDifficulty(%q, %d) = %v, want %v", c.hash, c.diff, got, c.want)
		}
	}
}

func TestTransactionHashChangesWithNonce(t *testing.T) {
	tx1 := Transaction{Sender: 0, Recipient: 1, Amount: 5, Nonce: 0, Timestamp: 1}
	tx2 := tx1
	tx2.Nonce = 1
	if tx1.Hash() == tx2.Hash() {
		t.Error("transactions with different nonces hashed identically")
	}
}

func TestCloneIndependentSlice(t *testing.T) {
	b := &Block{Transactions: []Transaction{{Sender: 1}}}
	cp := b.Clone()
	cp.Transactions[0].Sender = 99
	if b.Transactions[0].Sender == 99 {
		t.Error("Clone aliased the transaction slice")
	}
}
