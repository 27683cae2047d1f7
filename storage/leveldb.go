// Package storage backs the chain store's append-only block index with
// an embedded LevelDB instance. Persistence across restarts stays out
// of scope: BlockIndex always opens a fresh temporary directory and is
// never reopened against a prior run's data, so a real embedded KV
// engine is exercised without needing durable storage. The children
// index, pending pool, and tip set live in the chain package's own
// in-memory maps — they need graph traversal, not key lookups.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/nilchain/consensim/block"
)

// ErrNotFound is returned when a requested block is absent from the index.
var ErrNotFound = errors.New("storage: not found")

// BlockIndex persists the block-index half of the chain store (hash ->
// block) in an embedded LevelDB database rooted in a scratch directory.
type BlockIndex struct {
	db  *leveldb.DB
	dir string
}

// OpenEphemeral creates a LevelDB database under a fresh os.MkdirTemp
// directory named after the node, so concurrent nodes in one simulation
// run never collide and no run ever sees another run's blocks.
func OpenEphemeral(nodeID int) (*BlockIndex, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("consensim-node%d-", nodeID))
	if err != nil {
		return nil, fmt.Errorf("storage: mkdir scratch dir: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("storage: open leveldb %q: %w", dir, err)
	}
	return &BlockIndex{db: db, dir: dir}, nil
}

// Put writes b, keyed by its hash.
func (idx *BlockIndex) Put(b *block.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("storage: marshal block %s: %w", b.Hash, err)
	}
	return idx.db.Put([]byte("block:"+b.Hash), data, nil)
}

// Get returns the block stored under hash, or ErrNotFound.
func (idx *BlockIndex) Get(hash string) (*block.Block, error) {
	data, err := idx.db.Get([]byte("block:"+hash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("storage: unmarshal block %s: %w", hash, err)
	}
	return &b, nil
}

// Has reports whether hash is already in the index without deserialising
// the block.
func (idx *BlockIndex) Has(hash string) bool {
	ok, _ := idx.db.Has([]byte("block:"+hash), nil)
	return ok
}

// Close releases the database and removes its scratch directory — this
// index never outlives the process that created it.
func (idx *BlockIndex) Close() error {
	err := idx.db.Close()
	os.RemoveAll(idx.dir)
	return err
}
