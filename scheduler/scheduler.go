// Package scheduler wires the chain store, consensus engine, gossip
// transport, scenario controller, and transaction generator together
// into a concurrent node: a production loop, an inbound dispatch loop,
// and the scenario heal timer. The store remains the single serialized
// owner of chain mutation; everything here only calls its exported,
// lock-protected methods.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/chain"
	"github.com/nilchain/consensim/consensus"
	"github.com/nilchain/consensim/events"
	"github.com/nilchain/consensim/p2p"
	"github.com/nilchain/consensim/txgen"
)

const (
	defaultProductionPoll = 50 * time.Millisecond
	defaultTxPerBlock     = 3
)

// Healer is implemented by scenario.Partition: a filter whose drop
// behaviour changes once at a scheduled wall-clock time. The scheduler
// drives that transition and emits the PartitionStart/PartitionHeal
// events the filter itself has no emitter to raise.
type Healer interface {
	HealAt() time.Time
	Healed(now time.Time) bool
}

// Scheduler owns the concurrent activities a node runs beyond what
// p2p.Node already runs internally (its inbound/outbound loops): block
// production, inbound-to-store dispatch, and the scenario heal timer.
type Scheduler struct {
	nodeID int

	store   *chain.Store
	engine  consensus.Engine
	node    *p2p.Node
	gen     *txgen.Generator
	emitter *events.Emitter

	productionPoll time.Duration
	txPerBlock     int

	healer Healer

	fatal chan error
}

// New creates a Scheduler. healer may be nil when the active scenario
// is Delays rather than Partition.
func New(nodeID int, store *chain.Store, engine consensus.Engine, node *p2p.Node, gen *txgen.Generator, emitter *events.Emitter, healer Healer) *Scheduler {
	return &Scheduler{
		nodeID:         nodeID,
		store:          store,
		engine:         engine,
		node:           node,
		gen:            gen,
		emitter:        emitter,
		productionPoll: defaultProductionPoll,
		txPerBlock:     defaultTxPerBlock,
		healer:         healer,
		fatal:          make(chan error, 1),
	}
}

// WireTransport registers the inbound handlers that turn received p2p
// messages into chain.Store operations, and points the store's orphan
// recovery at the transport's GetBlock request. Call once, before
// node.Start().
func (s *Scheduler) WireTransport() {
	s.store.RequestParent = func(hash string) {
		s.broadcastGetBlock(hash)
	}
	s.node.TipFn = func() (string, chain.Score) {
		tip := s.store.Tip()
		chainTo, err := s.store.ChainTo(tip.Hash)
		if err != nil {
			return tip.Hash, chain.Score{}
		}
		return tip.Hash, s.engine.Score(chainTo)
	}
	s.node.Handle(p2p.KindBlock, s.handleBlock)
	s.node.Handle(p2p.KindGetBlock, s.handleGetBlock)
	s.node.Handle(p2p.KindBlocks, s.handleBlocks)
}

// Run blocks for runBudget, driving production and the scenario timer,
// and returns a non-nil error if a safety violation was observed. It
// always returns once runBudget elapses or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, runBudget time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, runBudget)
	defer cancel()

	s.emit(events.Startup, map[string]any{"node_id": s.nodeID})

	go s.productionLoop(runCtx)
	if s.healer != nil {
		go s.scenarioTimer(runCtx)
	}

	select {
	case <-runCtx.Done():
		reason := "run budget elapsed"
		if ctx.Err() != nil {
			reason = "context cancelled"
		}
		s.emit(events.Shutdown, map[string]any{"reason": reason})
		return nil
	case err := <-s.fatal:
		s.emit(events.Shutdown, map[string]any{"reason": "safety violation"})
		return err
	}
}

func (s *Scheduler) scenarioTimer(ctx context.Context) {
	s.emit(events.PartitionStart, map[string]any{"heal_at": s.healer.HealAt()})
	wait := time.Until(s.healer.HealAt())
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.healer.Healed(time.Now())
		s.emit(events.PartitionHeal, map[string]any{})
	}
}

func (s *Scheduler) productionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.productionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tip := s.store.Tip()
		now := time.Now()
		s.engine.ObserveTip(tip.Hash, now)
		if !s.engine.CanPropose(tip, now) {
			continue
		}

		produceCtx, cancel := context.WithCancel(ctx)
		watchDone := make(chan struct{})
		go s.watchTipChange(produceCtx, cancel, tip.Hash, watchDone)

		txs := s.gen.Batch(s.txPerBlock, now)
		b, ok := s.engine.Produce(produceCtx, tip, txs, now)
		cancel()
		<-watchDone

		if !ok {
			continue
		}
		s.acceptProduced(b)
	}
}

func (s *Scheduler) watchTipChange(ctx context.Context, cancel context.CancelFunc, startTip string, done chan struct{}) {
	defer close(done)
	poll := time.NewTicker(s.productionPoll)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if s.store.CurrentTip() != startTip {
				cancel()
				return
			}
		}
	}
}

func (s *Scheduler) acceptProduced(b *block.Block) {
	s.emit(events.BlockCreated, map[string]any{"hash": b.Hash, "height": b.Height})
	result, err := s.store.Insert(b)
	if err != nil && result == chain.Accepted {
		s.reportFatal(fmt.Errorf("scheduler: insert produced block %s: %w", b.Hash, err))
		return
	}
	if result == chain.Accepted {
		s.node.BroadcastBlock(b, -1)
	}
}

func (s *Scheduler) handleBlock(peer *p2p.Peer, msg p2p.Message) {
	var payload p2p.BlockPayload
	if err := msg.Unmarshal(&payload); err != nil || payload.Block == nil {
		return
	}
	s.emit(events.BlockReceived, map[string]any{"hash": payload.Block.Hash, "height": payload.Block.Height, "from": peer.RemoteID})
	result, err := s.store.Insert(payload.Block)
	if err != nil && result == chain.Accepted {
		s.reportFatal(fmt.Errorf("scheduler: insert received block %s: %w", payload.Block.Hash, err))
		return
	}
	if result == chain.Accepted {
		s.node.BroadcastBlock(payload.Block, peer.RemoteID)
	}
}

func (s *Scheduler) handleGetBlock(peer *p2p.Peer, msg p2p.Message) {
	var payload p2p.GetBlockPayload
	if err := msg.Unmarshal(&payload); err != nil {
		return
	}
	b, ok := s.store.GetBlock(payload.Hash)
	if !ok {
		return
	}
	chainTo, err := s.store.ChainTo(b.Hash)
	if err != nil {
		s.node.SendBlocks(peer.RemoteID, []*block.Block{b})
		return
	}
	s.node.SendBlocks(peer.RemoteID, chainTo)
}

func (s *Scheduler) handleBlocks(peer *p2p.Peer, msg p2p.Message) {
	var payload p2p.BlocksPayload
	if err := msg.Unmarshal(&payload); err != nil {
		return
	}
	for _, b := range payload.Blocks {
		result, err := s.store.Insert(b)
		if err != nil && result == chain.Accepted {
			s.reportFatal(fmt.Errorf("scheduler: insert catch-up block %s: %w", b.Hash, err))
			return
		}
		if result == chain.Accepted {
			s.node.BroadcastBlock(b, peer.RemoteID)
		}
	}
}

func (s *Scheduler) broadcastGetBlock(hash string) {
	s.node.BroadcastGetBlock(hash)
}

func (s *Scheduler) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

func (s *Scheduler) emit(t events.Type, data map[string]any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(events.Event{Type: t, Data: data})
}
