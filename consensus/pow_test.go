package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/nilchain/consensim/block"
)

func TestPoWProduceMeetsDifficulty(t *testing.T) {
	p := NewPoW(0, 1)
	g := block.Genesis()
	b, ok := p.Produce(context.Background(), g, nil, time.Now())
	if !ok {
		t.Fatal("produce returned false")
	}
	if !block.MeetsDifficulty(b.Hash, 1) {
		t.Errorf("produced block %s does not meet difficulty", b.Hash)
	}
	if b.PrevHash != g.Hash || b.Height != 1 {
		t.Errorf("unexpected linkage: prev=%s height=%d", b.PrevHash, b.Height)
	}
}

func TestPoWProduceCancellation(t *testing.T) {
	p := NewPoW(0, 64) // unreachable difficulty
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := p.Produce(ctx, block.Genesis(), nil, time.Now()); ok {
		t.Error("expected cancellation to abort production")
	}
}

func TestPoWValidateRejectsBadLinkage(t *testing.T) {
	p := NewPoW(0, 1)
	g := block.Genesis()
	b, _ := p.Produce(context.Background(), g, nil, time.Now())
	b.PrevHash = "not-genesis"
	if ok, _ := p.Validate(b, g); ok {
		t.Error("expected rejection of mismatched prev_hash")
	}
}

func TestPoWValidateRejectsTamperedHash(t *testing.T) {
	p := NewPoW(0, 1)
	g := block.Genesis()
	b, _ := p.Produce(context.Background(), g, nil, time.Now())
	b.Hash = "0000deadbeef"
	if ok, _ := p.Validate(b, g); ok {
		t.Error("expected rejection of tampered hash")
	}
}

func TestPoWScorePrefersLongerChain(t *testing.T) {
	p := NewPoW(0, 1)
	g := block.Genesis()
	b1, _ := p.Produce(context.Background(), g, nil, time.Now())
	b2, _ := p.Produce(context.Background(), b1, nil, time.Now())

	short := p.Score([]*block.Block{g, b1})
	long := p.Score([]*block.Block{g, b1, b2})
	if !long.Better(short) {
		t.Error("longer chain should score better")
	}
}
