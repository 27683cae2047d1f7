// Package p2p implements a TCP gossip transport: length-prefixed JSON
// framing, a Hello/Block/GetBlock/Blocks/Ping/Pong wire protocol, flood
// broadcast with source suppression and bounded duplicate suppression,
// and exponential-backoff reconnection.
package p2p

import (
	"encoding/json"

	"github.com/nilchain/consensim/block"
)

// Kind labels a gossip message.
type Kind string

const (
	KindHello    Kind = "hello"
	KindBlock    Kind = "block"
	KindGetBlock Kind = "get_block"
	KindBlocks   Kind = "blocks"
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
)

// Message is the envelope for every frame on the wire: a top-level kind
// string and an opaque payload object.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// HelloPayload announces identity and fork-choice state on connect so
// the peer can decide whether to request a catch-up.
type HelloPayload struct {
	NodeID       int    `json:"node_id"`
	TipHash      string `json:"tip_hash"`
	TipScore     int64  `json:"tip_score"`     // engine's Score.Primary
	TipSecondary int64  `json:"tip_secondary"` // engine's Score.Secondary
}

// BlockPayload carries a single gossiped block.
type BlockPayload struct {
	Block *block.Block `json:"block"`
}

// GetBlockPayload requests a block by hash.
type GetBlockPayload struct {
	Hash string `json:"hash"`
}

// BlocksPayload answers a GetBlock or a catch-up request.
type BlocksPayload struct {
	Blocks []*block.Block `json:"blocks"`
}

// PingPayload and PongPayload carry a liveness timestamp (UnixNano).
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Unmarshal decodes m's payload into v.
func (m Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Payload, v)
}

func encode(kind Kind, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Payload: data}, nil
}
