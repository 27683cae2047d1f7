package block

import (
	"encoding/json"
	"strings"
)

// GenesisSeed is the fixed string all nodes hash to derive the genesis
// block deterministically, without any network round-trip.
const GenesisSeed = "consensim-genesis-v1"

// GenesisPrevHash is the canonical all-zero previous hash for height 0.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashableBlock mirrors Block but omits Hash, so ComputeHash can reuse
// json.Marshal's stable field order (struct field order is
// serialization order in encoding/json) without re-hashing the hash
// itself.
type hashableBlock struct {
	Height       int64         `json:"height"`
	PrevHash     string        `json:"prev_hash"`
	Transactions []Transaction `json:"transactions"`
	ProposerID   int           `json:"proposer_id"`
	Timestamp    int64         `json:"timestamp"`
	Nonce        uint64        `json:"nonce"`
}

// Block is the tuple (height, prev_hash, transactions, proposer_id,
// timestamp, nonce) plus the hash binding all of the above.
type Block struct {
	Height       int64         `json:"height"`
	PrevHash     string        `json:"prev_hash"`
	Transactions []Transaction `json:"transactions"`
	ProposerID   int           `json:"proposer_id"`
	Timestamp    int64         `json:"timestamp"`
	Nonce        uint64        `json:"nonce"`
	Hash         string        `json:"hash"`
}

// ComputeHash returns the hex SHA-256 digest of the canonical
// serialization of every field except Hash itself, including Nonce.
func (b *Block) ComputeHash() string {
	return hashJSON(hashableBlock{
		Height:       b.Height,
		PrevHash:     b.PrevHash,
		Transactions: b.Transactions,
		ProposerID:   b.ProposerID,
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
	})
}

// LeadingZeroNibbles counts the leading hex '0' characters in s.
func LeadingZeroNibbles(s string) int {
	n := 0
	for n < len(s) && s[n] == '0' {
		n++
	}
	return n
}

// MeetsDifficulty reports whether hash has at least `difficulty` leading
// hex-zero nibbles.
func MeetsDifficulty(hash string, difficulty int) bool {
	return LeadingZeroNibbles(hash) >= difficulty
}

// IsGenesisPrevHash reports whether h is the canonical all-zero prev-hash.
func IsGenesisPrevHash(h string) bool {
	return len(h) == len(GenesisPrevHash) && strings.Count(h, "0") == len(h)
}

// Genesis returns the deterministic height-0 block every node can
// construct offline from GenesisSeed, requiring no network round-trip to
// agree on its hash.
func Genesis() *Block {
	b := &Block{
		Height:       0,
		PrevHash:     GenesisPrevHash,
		Transactions: nil,
		ProposerID:   0,
		Timestamp:    0,
		Nonce:        0,
	}
	b.Hash = hashJSON(genesisSeedBody{Seed: GenesisSeed, Header: hashableBlock{
		Height:     b.Height,
		PrevHash:   b.PrevHash,
		ProposerID: b.ProposerID,
		Timestamp:  b.Timestamp,
		Nonce:      b.Nonce,
	}})
	return b
}

type genesisSeedBody struct {
	Seed   string        `json:"seed"`
	Header hashableBlock `json:"header"`
}

// Clone returns a deep-enough copy of b safe to mutate (new nonce/hash
// search) without aliasing the caller's transaction slice.
func (b *Block) Clone() *Block {
	txs := make([]Transaction, len(b.Transactions))
	copy(txs, b.Transactions)
	cp := *b
	cp.Transactions = txs
	return &cp
}

// MarshalForWire returns the JSON encoding of b, the same form in which
// the p2p package embeds a block inside a framed message payload.
func (b *Block) MarshalForWire() ([]byte, error) {
	return json.Marshal(b)
}
