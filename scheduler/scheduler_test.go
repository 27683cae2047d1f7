package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nilchain/consensim/chain"
	"github.com/nilchain/consensim/config"
	"github.com/nilchain/consensim/consensus"
	"github.com/nilchain/consensim/events"
	"github.com/nilchain/consensim/p2p"
	"github.com/nilchain/consensim/txgen"
)

// newTestNode wires a single in-process node at the given loopback
// port with the given peer table, mirroring what cmd/node/main.go does
// for a real process but without a listener collision between test
// runs (each test picks its own fixed port range).
func newTestNode(t *testing.T, nodeID int, listenAddr string, peerAddrs map[int]string, difficulty int) (*Scheduler, *chain.Store, *p2p.Node, *events.Emitter) {
	t.Helper()
	emitter := events.NewEmitter()
	engine := consensus.NewPoW(nodeID, difficulty)
	store := chain.New(nodeID, engine, 2, emitter, nil)
	node := p2p.NewNode(nodeID, listenAddr, peerAddrs, nil, emitter, 4)
	gen := txgen.New(42, nodeID, 2)
	sched := New(nodeID, store, engine, node, gen, emitter, nil)
	sched.productionPoll = 5 * time.Millisecond
	sched.WireTransport()
	if err := node.Start(); err != nil {
		t.Fatalf("start node %d: %v", nodeID, err)
	}
	t.Cleanup(node.Stop)
	return sched, store, node, emitter
}

func waitForHeight(t *testing.T, store *chain.Store, height int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if store.Tip().Height >= height {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for height >= %d, got %d", height, store.Tip().Height)
}

func TestTwoNodesConvergeOnSharedTip(t *testing.T) {
	addrA := config.PeerAddr(60)
	addrB := config.PeerAddr(61)
	peersA := map[int]string{61: addrB}
	peersB := map[int]string{60: addrA}

	schedA, storeA, _, _ := newTestNode(t, 60, addrA, peersA, 1)
	schedB, storeB, _, _ := newTestNode(t, 61, addrB, peersB, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go schedA.productionLoop(ctx)
	go schedB.productionLoop(ctx)

	waitForHeight(t, storeA, 2, 5*time.Second)
	waitForHeight(t, storeB, 2, 5*time.Second)

	cancel()
	time.Sleep(20 * time.Millisecond)

	if storeA.CurrentTip() != storeB.CurrentTip() {
		t.Fatalf("tips diverged: a=%s b=%s", storeA.CurrentTip(), storeB.CurrentTip())
	}
}

func TestLateJoinerCatchesUpViaGetBlock(t *testing.T) {
	addrA := config.PeerAddr(70)
	addrB := config.PeerAddr(71)

	schedA, storeA, _, _ := newTestNode(t, 70, addrA, map[int]string{71: addrB}, 1)
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	go schedA.productionLoop(ctxA)
	waitForHeight(t, storeA, 3, 5*time.Second)
	cancelA()
	time.Sleep(10 * time.Millisecond)

	// B joins after A already has a multi-block head start; B never
	// produces itself, so convergence can only happen via the
	// Hello -> RequestBlock -> GetBlock -> Blocks catch-up path.
	_, storeB, _, _ := newTestNode(t, 71, addrB, map[int]string{70: addrA}, 1)

	waitForHeight(t, storeB, storeA.Tip().Height, 5*time.Second)
	if storeB.CurrentTip() != storeA.CurrentTip() {
		t.Fatalf("B did not converge: a=%s b=%s", storeA.CurrentTip(), storeB.CurrentTip())
	}
}
