package chain

import (
	"errors"
	"testing"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/events"
)

// lengthEngine is a minimal test double: valid if height/prevhash line
// up, scored by chain length with a hash tiebreak — the PoW rule.
type lengthEngine struct{}

func (lengthEngine) Validate(b, parent *block.Block) (bool, string) {
	if b.PrevHash != parent.Hash {
		return false, "prev_hash mismatch"
	}
	if b.Height != parent.Height+1 {
		return false, "height mismatch"
	}
	return true, ""
}

func (lengthEngine) Score(c []*block.Block) Score {
	tip := c[len(c)-1]
	return Score{Primary: tip.Height, TipHash: tip.Hash}
}

func mineChild(parent *block.Block, proposer int) *block.Block {
	b := &block.Block{
		Height:     parent.Height + 1,
		PrevHash:   parent.Hash,
		ProposerID: proposer,
		Timestamp:  parent.Timestamp + 1,
	}
	b.Hash = b.ComputeHash()
	return b
}

func TestInsertLinearChain(t *testing.T) {
	s := New(0, lengthEngine{}, 2, nil, nil)
	g := s.Tip()

	b1 := mineChild(g, 0)
	if res, err := s.Insert(b1); res != Accepted || err != nil {
		t.Fatalf("insert b1: %v %v", res, err)
	}
	b2 := mineChild(b1, 1)
	if res, err := s.Insert(b2); res != Accepted || err != nil {
		t.Fatalf("insert b2: %v %v", res, err)
	}
	if s.CurrentTip() != b2.Hash {
		t.Errorf("tip = %s, want %s", s.CurrentTip(), b2.Hash)
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := New(0, lengthEngine{}, 4, nil, nil)
	b1 := mineChild(s.Tip(), 0)
	s.Insert(b1)
	if res, _ := s.Insert(b1); res != Duplicate {
		t.Errorf("second insert = %v, want Duplicate", res)
	}
}

func TestInsertOrphanThenResolve(t *testing.T) {
	s := New(0, lengthEngine{}, 4, nil, nil)
	g := s.Tip()
	b1 := mineChild(g, 0)
	b2 := mineChild(b1, 0)

	res, err := s.Insert(b2)
	if res != Orphaned || err != nil {
		t.Fatalf("insert b2 before b1: %v %v", res, err)
	}
	if s.CurrentTip() != g.Hash {
		t.Errorf("tip moved while orphaned: %s", s.CurrentTip())
	}

	res, err = s.Insert(b1)
	if res != Accepted || err != nil {
		t.Fatalf("insert b1: %v %v", res, err)
	}
	if s.CurrentTip() != b2.Hash {
		t.Errorf("pending pool did not resolve b2: tip = %s, want %s", s.CurrentTip(), b2.Hash)
	}
}

func TestInsertOrphanEmitsBlockOrphaned(t *testing.T) {
	emitter := events.NewEmitter()
	var orphaned []string
	emitter.Subscribe(events.BlockOrphaned, func(ev events.Event) {
		orphaned = append(orphaned, ev.Data["hash"].(string))
	})

	s := New(0, lengthEngine{}, 4, emitter, nil)
	b1 := mineChild(s.Tip(), 0)
	b2 := mineChild(b1, 0)
	s.Insert(b2)

	if len(orphaned) != 1 || orphaned[0] != b2.Hash {
		t.Errorf("orphaned events = %v, want [%s]", orphaned, b2.Hash)
	}
}

func TestInsertInvalidHeight(t *testing.T) {
	s := New(0, lengthEngine{}, 4, nil, nil)
	bad := mineChild(s.Tip(), 0)
	bad.Height = 99
	bad.Hash = bad.ComputeHash()
	if res, err := s.Insert(bad); res != Invalid || err == nil {
		t.Fatalf("insert bad height: %v %v", res, err)
	}
}

func TestForkChoicePrefersLongerChain(t *testing.T) {
	s := New(0, lengthEngine{}, 10, nil, nil)
	g := s.Tip()

	a1 := mineChild(g, 0)
	s.Insert(a1)

	b1 := mineChild(g, 1)
	b1.Timestamp++ // distinguish hash from a1
	b1.Hash = b1.ComputeHash()
	s.Insert(b1)
	b2 := mineChild(b1, 1)
	s.Insert(b2)

	if s.CurrentTip() != b2.Hash {
		t.Fatalf("fork choice did not pick the longer branch: tip = %s", s.CurrentTip())
	}
}

func TestFinalityAdvancesAtDepth(t *testing.T) {
	emitter := events.NewEmitter()
	var finalized []int64
	emitter.Subscribe(events.Finalized, func(ev events.Event) {
		finalized = append(finalized, ev.Data["height"].(int64))
	})

	s := New(0, lengthEngine{}, 2, emitter, nil)
	cur := s.Tip()
	for i := 0; i < 5; i++ {
		cur = mineChild(cur, 0)
		if res, err := s.Insert(cur); res != Accepted || err != nil {
			t.Fatalf("insert %d: %v %v", i, res, err)
		}
	}
	// Tip height 5, k=2 -> finalized through height 3.
	if got := s.FinalHeight(); got != 3 {
		t.Errorf("final height = %d, want 3", got)
	}
	if len(finalized) == 0 {
		t.Error("no Finalized events observed")
	}
}

func TestSafetyViolationOnConflictingFinality(t *testing.T) {
	s := New(0, lengthEngine{}, 1, nil, nil)
	g := s.Tip()
	a1 := mineChild(g, 0)
	s.Insert(a1)
	a2 := mineChild(a1, 0)
	s.Insert(a2) // finalizes height 1 as a1's hash (depth 1 >= k=1)

	// Force a conflicting finalized hash at height 1 directly, simulating
	// the impossible-in-practice case the invariant guards.
	s.mu.Lock()
	s.finalHashAtHeight[1] = "not-a1-hash"
	s.mu.Unlock()

	a3 := mineChild(a2, 0)
	_, err := s.Insert(a3)
	var safety *SafetyError
	if !errors.As(err, &safety) {
		t.Fatalf("expected *SafetyError, got %v", err)
	}
}
