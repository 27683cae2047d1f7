// Package block defines the wire-level data model shared by every
// component: opaque transactions, blocks, and the genesis block.
package block

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Transaction is an opaque payload. The core treats it as bytes; no
// signature, balance check, or account model is required to accept a
// block that carries it. Double-spend checking against
// (Sender, Nonce) happens only offline, on finalized chains — see the
// invariant package.
type Transaction struct {
	Sender    int    `json:"sender"`
	Recipient int    `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// Hash returns the hex SHA-256 digest of the transaction's canonical
// serialization. It uniquely identifies the transaction.
// Returns an empty string if marshalling fails (which cannot happen in
// practice, since Transaction holds only plain data fields).
func (t Transaction) Hash() string {
	return hashJSON(t)
}

func hashJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
