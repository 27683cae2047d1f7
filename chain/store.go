// Package chain implements the block DAG, fork-choice, and k-deep
// finality tracking: a block index, a children index, a pending pool
// for orphans, a tip set, and the current tip chosen by a pluggable
// consensus engine's monotone Score.
//
// The store is the one piece of shared mutable state in the whole
// system: every exported method takes the same mutex, so
// insert/tip/finalized observations never race each other.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/events"
	"github.com/nilchain/consensim/storage"
)

// Validator checks a candidate block against its parent. Implemented by
// the consensus engine (validate operation); the chain
// package only needs this narrow view, so it declares its own
// interface rather than importing the consensus package.
type Validator interface {
	Validate(b, parent *block.Block) (ok bool, reason string)
}

// Scorer computes the fork-choice value of a candidate chain.
type Scorer interface {
	Score(chain []*block.Block) Score
}

// Engine is everything the store needs from a consensus engine.
type Engine interface {
	Validator
	Scorer
}

// InsertResult classifies the outcome of Insert.
type InsertResult int

const (
	Accepted InsertResult = iota
	Orphaned
	Duplicate
	Invalid
)

func (r InsertResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Orphaned:
		return "orphaned"
	case Duplicate:
		return "duplicate"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrUnknownHash is returned by lookups for a hash the store has never
// indexed.
var ErrUnknownHash = errors.New("chain: unknown hash")

// Store is the per-node block DAG, fork-choice, and finality tracker.
type Store struct {
	mu sync.Mutex

	engine Engine
	k      int64
	nodeID int

	index    map[string]*block.Block
	children map[string]map[string]bool
	pending  map[string][]*block.Block
	tips     map[string]bool

	currentTip string

	finalHeight       int64
	finalHashAtHeight map[int64]string

	emitter *events.Emitter
	persist *storage.BlockIndex // optional durability sidecar; never read back

	// RequestParent, if set, is called (outside the lock) whenever a
	// block orphans because its parent is unknown, so the p2p layer can
	// broadcast a GetBlock(prev_hash) request.
	RequestParent func(hash string)
}

// New creates a Store seeded with the deterministic genesis block,
// already finalized at height 0.
func New(nodeID int, engine Engine, finalityDepth int64, emitter *events.Emitter, persist *storage.BlockIndex) *Store {
	g := block.Genesis()
	s := &Store{
		engine:            engine,
		k:                 finalityDepth,
		nodeID:            nodeID,
		index:             map[string]*block.Block{g.Hash: g},
		children:          map[string]map[string]bool{},
		pending:           map[string][]*block.Block{},
		tips:              map[string]bool{g.Hash: true},
		currentTip:        g.Hash,
		finalHeight:       0,
		finalHashAtHeight: map[int64]string{0: g.Hash},
		emitter:           emitter,
		persist:           persist,
	}
	if persist != nil {
		_ = persist.Put(g)
	}
	return s
}

// CurrentTip returns the hash of the fork-choice-selected tip.
func (s *Store) CurrentTip() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTip
}

// Tip returns the block at the current tip.
func (s *Store) Tip() *block.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[s.currentTip]
}

// GetBlock returns the block stored under hash.
func (s *Store) GetBlock(hash string) (*block.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.index[hash]
	return b, ok
}

// ChainTo reconstructs the ordered sequence from genesis to hash.
func (s *Store) ChainTo(hash string) ([]*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chainToLocked(hash)
	if chain == nil {
		return nil, fmt.Errorf("chain: chain to %s: %w", hash, ErrUnknownHash)
	}
	return chain, nil
}

// FinalizedAt returns the hash finalized at height, if any.
func (s *Store) FinalizedAt(height int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.finalHashAtHeight[height]
	return h, ok
}

// FinalHeight returns the highest finalized height.
func (s *Store) FinalHeight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalHeight
}

// Insert adds b to the store. On Accepted, fork-choice is recomputed,
// TipChanged/Reorg/Finalized events fire as applicable, and the pending
// pool is drained for any children of b. A non-nil error alongside
// Accepted means the finality update hit a *SafetyError — the caller
// must treat that as fatal.
func (s *Store) Insert(b *block.Block) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.insertOne(b)
	if result != Accepted {
		return result, err
	}
	if err != nil {
		return result, err
	}

	queue := []string{b.Hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		waiters := s.pending[h]
		delete(s.pending, h)
		for _, w := range waiters {
			res, werr := s.insertOne(w)
			if werr != nil && res == Accepted {
				return Accepted, werr
			}
			if res == Accepted {
				queue = append(queue, w.Hash)
			}
		}
	}
	return Accepted, nil
}

func (s *Store) insertOne(b *block.Block) (InsertResult, error) {
	if _, exists := s.index[b.Hash]; exists {
		return Duplicate, nil
	}
	if computed := b.ComputeHash(); computed != b.Hash {
		return Invalid, fmt.Errorf("chain: hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	if b.Height == 0 {
		return Invalid, fmt.Errorf("chain: rejecting non-genesis insert of height 0 block %s", b.Hash)
	}

	parent, ok := s.index[b.PrevHash]
	if !ok {
		s.pending[b.PrevHash] = append(s.pending[b.PrevHash], b)
		s.emit(events.BlockOrphaned, map[string]any{"hash": b.Hash, "prev_hash": b.PrevHash})
		if s.RequestParent != nil {
			go s.RequestParent(b.PrevHash)
		}
		return Orphaned, nil
	}

	if ok, reason := s.engine.Validate(b, parent); !ok {
		s.emit(events.BlockRejected, map[string]any{"hash": b.Hash, "height": b.Height, "reason": reason})
		return Invalid, fmt.Errorf("chain: validate block %s: %s", b.Hash, reason)
	}

	s.index[b.Hash] = b
	if s.children[b.PrevHash] == nil {
		s.children[b.PrevHash] = map[string]bool{}
	}
	s.children[b.PrevHash][b.Hash] = true
	delete(s.tips, b.PrevHash)
	s.tips[b.Hash] = true

	if s.persist != nil {
		_ = s.persist.Put(b)
	}
	s.emit(events.BlockAccepted, map[string]any{"hash": b.Hash, "height": b.Height, "proposer_id": b.ProposerID})

	if err := s.recomputeForkChoice(); err != nil {
		return Accepted, err
	}
	return Accepted, nil
}

func (s *Store) recomputeForkChoice() error {
	bestHash := s.currentTip
	bestChain := s.chainToLocked(bestHash)
	bestScore := s.engine.Score(bestChain)

	for tip := range s.tips {
		if tip == bestHash {
			continue
		}
		chain := s.chainToLocked(tip)
		score := s.engine.Score(chain)
		if score.Better(bestScore) {
			bestHash, bestChain, bestScore = tip, chain, score
		}
	}

	if bestHash == s.currentTip {
		return nil
	}

	oldHash := s.currentTip
	oldChain := s.chainToLocked(oldHash)
	lcaHeight := lowestCommonAncestorHeight(oldChain, bestChain)
	s.currentTip = bestHash

	if lcaHeight < oldChain[len(oldChain)-1].Height {
		s.emit(events.Reorg, map[string]any{
			"from_hash":    oldHash,
			"to_hash":      bestHash,
			"common_height": lcaHeight,
			"old_height":   oldChain[len(oldChain)-1].Height,
			"new_height":   bestChain[len(bestChain)-1].Height,
		})
	}
	s.emit(events.TipChanged, map[string]any{"old_hash": oldHash, "new_hash": bestHash, "height": bestChain[len(bestChain)-1].Height})

	return s.updateFinality(bestChain)
}

func (s *Store) updateFinality(chain []*block.Block) error {
	n := len(chain)
	for i, b := range chain {
		depth := int64(n - 1 - i)
		if depth < s.k {
			continue
		}
		if existing, ok := s.finalHashAtHeight[b.Height]; ok {
			if existing != b.Hash {
				s.emit(events.SafetyViolation, map[string]any{
					"height":   b.Height,
					"existing": existing,
					"new":      b.Hash,
				})
				return &SafetyError{Height: b.Height, Existing: existing, New: b.Hash}
			}
			continue
		}
		s.finalHashAtHeight[b.Height] = b.Hash
		if b.Height > s.finalHeight {
			s.finalHeight = b.Height
		}
		s.emit(events.Finalized, map[string]any{"height": b.Height, "hash": b.Hash})
	}
	return nil
}

func (s *Store) chainToLocked(hash string) []*block.Block {
	var rev []*block.Block
	cur := hash
	for {
		b, ok := s.index[cur]
		if !ok {
			return nil
		}
		rev = append(rev, b)
		if b.Height == 0 {
			break
		}
		cur = b.PrevHash
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// lowestCommonAncestorHeight returns the height of the last block both
// chains agree on, walking forward from genesis (both chains always
// share genesis at index 0).
func lowestCommonAncestorHeight(a, b []*block.Block) int64 {
	i := 0
	for i < len(a) && i < len(b) && a[i].Hash == b[i].Hash {
		i++
	}
	return a[i-1].Height
}

func (s *Store) emit(t events.Type, data map[string]any) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(events.Event{Type: t, Data: data})
}
