package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nilchain/consensim/block"
	"github.com/nilchain/consensim/chain"
	"github.com/nilchain/consensim/events"
)

// OutboundFilter is the scenario controller's hook into the transport:
// for every message about to be sent from src to dst at now, it
// returns the delay to impose and whether the message should be
// delivered at all.
type OutboundFilter interface {
	Delay(src, dst int, now time.Time) (delay time.Duration, allow bool)
}

// TipProvider reports the local chain's current tip, used to populate
// outgoing Hello messages.
type TipProvider func() (hash string, score chain.Score)

// Handler processes one received message. peer.RemoteID is set once a
// Hello has been processed on that connection.
type Handler func(peer *Peer, msg Message)

const (
	dialMinBackoff = 100 * time.Millisecond
	dialMaxBackoff = 2 * time.Second
	pongTimeout    = 5 * time.Second
	pingInterval   = 2 * time.Second
	outboundQueue  = 256
)

// Node is one gossiping process: a TCP listener, a dialer per
// configured peer, and per-peer outbound queues drained through the
// scenario filter.
type Node struct {
	nodeID     int
	listenAddr string
	peerAddrs  map[int]string
	filter     OutboundFilter
	emitter    *events.Emitter
	TipFn      TipProvider

	mu       sync.RWMutex
	outPeers map[int]*Peer
	handlers map[Kind]Handler
	queues   map[int]chan Message
	lastPong map[int]time.Time

	recent   *recentSet
	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node for nodeID, bound to listenAddr, with a fixed
// peer table (node id -> "host:port"). recentDepth sizes the
// duplicate-suppression set as N^2 * recentDepth + 1.
func NewNode(nodeID int, listenAddr string, peerAddrs map[int]string, filter OutboundFilter, emitter *events.Emitter, recentDepth int) *Node {
	n := len(peerAddrs) + 1
	return &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		peerAddrs:  peerAddrs,
		filter:     filter,
		emitter:    emitter,
		outPeers:   map[int]*Peer{},
		handlers:   map[Kind]Handler{},
		queues:     map[int]chan Message{},
		lastPong:   map[int]time.Time{},
		recent:     newRecentSet(n*n*recentDepth + 1),
		stopCh:     make(chan struct{}),
	}
}

// Handle registers a handler for a message kind, overriding any
// built-in handler (Hello/Ping/Pong have defaults installed by Start).
func (n *Node) Handle(kind Kind, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[kind] = h
}

// Start opens the listener, begins accepting inbound connections, and
// launches a dialer, outbound worker, and liveness loop per peer.
func (n *Node) Start() error {
	n.mu.Lock()
	if _, ok := n.handlers[KindHello]; !ok {
		n.handlers[KindHello] = n.handleHello
	}
	if _, ok := n.handlers[KindPing]; !ok {
		n.handlers[KindPing] = n.handlePing
	}
	if _, ok := n.handlers[KindPong]; !ok {
		n.handlers[KindPong] = n.handlePong
	}
	n.mu.Unlock()

	ln, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()

	for id, addr := range n.peerAddrs {
		n.mu.Lock()
		n.queues[id] = make(chan Message, outboundQueue)
		n.mu.Unlock()
		go n.outboundWorker(id)
		go n.dialLoop(id, addr)
		go n.livenessLoop(id)
	}
	return nil
}

// Stop closes the listener and every connection, tearing down workers.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.outPeers {
		p.Close()
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				continue
			}
		}
		peer := newPeer(conn, -1)
		go n.inboundReadLoop(peer)
	}
}

func (n *Node) inboundReadLoop(peer *Peer) {
	defer func() {
		peer.Close()
		n.emit(events.PeerDisconnected, map[string]any{"peer_id": peer.RemoteID})
	}()
	failures := 0
	for {
		msg, err := peer.Receive()
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			// A well-framed but undecodable message is dropped like an
			// unknown kind.
			failures++
			if failures >= 3 {
				return
			}
			continue
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Kind]
		n.mu.RUnlock()
		if !ok {
			failures++
			if failures >= 3 {
				return
			}
			continue
		}
		failures = 0
		h(peer, msg)
	}
}

func (n *Node) dialLoop(peerID int, addr string) {
	backoff := dialMinBackoff
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		peer, err := dial(addr)
		if err != nil {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > dialMaxBackoff {
				backoff = dialMaxBackoff
			}
			continue
		}
		backoff = dialMinBackoff

		n.mu.Lock()
		n.outPeers[peerID] = peer
		n.lastPong[peerID] = time.Now()
		n.mu.Unlock()
		n.emit(events.PeerConnected, map[string]any{"peer_id": peerID})
		n.sendHello(peerID)

		watch := make(chan struct{}, 1)
		go func() {
			buf := make([]byte, 1)
			for {
				if _, err := peer.conn.Read(buf); err != nil {
					watch <- struct{}{}
					return
				}
			}
		}()

		select {
		case <-watch:
		case <-n.stopCh:
			peer.Close()
			return
		}

		n.mu.Lock()
		if n.outPeers[peerID] == peer {
			delete(n.outPeers, peerID)
		}
		n.mu.Unlock()
		peer.Close()
		n.emit(events.PeerDisconnected, map[string]any{"peer_id": peerID})
	}
}

func (n *Node) outboundWorker(peerID int) {
	n.mu.RLock()
	q := n.queues[peerID]
	n.mu.RUnlock()
	for {
		select {
		case <-n.stopCh:
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			delay := time.Duration(0)
			allow := true
			if n.filter != nil {
				delay, allow = n.filter.Delay(n.nodeID, peerID, time.Now())
			}
			if !allow {
				continue
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			n.mu.RLock()
			peer := n.outPeers[peerID]
			n.mu.RUnlock()
			if peer == nil {
				continue // no durable delivery across disconnects
			}
			if err := peer.Send(msg); err != nil {
				peer.Close()
			}
		}
	}
}

func (n *Node) livenessLoop(peerID int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.RLock()
			last := n.lastPong[peerID]
			n.mu.RUnlock()
			if time.Since(last) > pongTimeout {
				n.mu.Lock()
				if peer := n.outPeers[peerID]; peer != nil {
					peer.Close()
				}
				n.mu.Unlock()
				continue
			}
			msg, err := encode(KindPing, PingPayload{Timestamp: time.Now().UnixNano()})
			if err == nil {
				n.SendTo(peerID, msg)
			}
		}
	}
}

// SendTo enqueues msg for delivery to peerID, subject to the scenario
// filter. It never blocks the caller on socket I/O.
func (n *Node) SendTo(peerID int, msg Message) {
	n.mu.RLock()
	q := n.queues[peerID]
	n.mu.RUnlock()
	if q == nil {
		return
	}
	select {
	case q <- msg:
	default: // queue full: drop rather than block the caller
	}
}

// BroadcastBlock gossips b to every peer except excludePeerID (flood
// with source suppression), skipping peers entirely if b's hash has
// already been broadcast or received.
func (n *Node) BroadcastBlock(b *block.Block, excludePeerID int) {
	n.mu.Lock()
	seen := n.recent.Seen(b.Hash)
	n.mu.Unlock()
	if seen {
		return
	}
	msg, err := encode(KindBlock, BlockPayload{Block: b})
	if err != nil {
		return
	}
	for id := range n.peerAddrs {
		if id == excludePeerID {
			continue
		}
		n.SendTo(id, msg)
	}
}

// BroadcastGetBlock asks every peer for the block with the given hash,
// used when a block orphans because its parent never arrived: the
// requester does not know which peer, if any, holds it.
func (n *Node) BroadcastGetBlock(hash string) {
	msg, err := encode(KindGetBlock, GetBlockPayload{Hash: hash})
	if err != nil {
		return
	}
	for id := range n.peerAddrs {
		n.SendTo(id, msg)
	}
}

// RequestBlock asks peerID for the block with the given hash.
func (n *Node) RequestBlock(peerID int, hash string) {
	msg, err := encode(KindGetBlock, GetBlockPayload{Hash: hash})
	if err != nil {
		return
	}
	n.SendTo(peerID, msg)
}

// SendBlocks answers a GetBlock/catch-up request with a batch.
func (n *Node) SendBlocks(peerID int, blocks []*block.Block) {
	msg, err := encode(KindBlocks, BlocksPayload{Blocks: blocks})
	if err != nil {
		return
	}
	n.SendTo(peerID, msg)
}

func (n *Node) sendHello(peerID int) {
	if n.TipFn == nil {
		return
	}
	hash, score := n.TipFn()
	msg, err := encode(KindHello, HelloPayload{
		NodeID:       n.nodeID,
		TipHash:      hash,
		TipScore:     score.Primary,
		TipSecondary: score.Secondary,
	})
	if err != nil {
		return
	}
	n.SendTo(peerID, msg)
}

func (n *Node) handleHello(peer *Peer, msg Message) {
	var payload HelloPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}
	peer.RemoteID = payload.NodeID
	n.emit(events.PeerConnected, map[string]any{"peer_id": payload.NodeID})

	if n.TipFn == nil {
		return
	}
	_, ourScore := n.TipFn()
	theirScore := chain.Score{Primary: payload.TipScore, Secondary: payload.TipSecondary, TipHash: payload.TipHash}
	if theirScore.Better(ourScore) {
		n.RequestBlock(payload.NodeID, payload.TipHash)
	}
}

func (n *Node) handlePing(peer *Peer, msg Message) {
	var payload PingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}
	reply, err := encode(KindPong, PongPayload{Timestamp: payload.Timestamp})
	if err != nil {
		return
	}
	n.SendTo(peer.RemoteID, reply)
}

func (n *Node) handlePong(peer *Peer, msg Message) {
	n.mu.Lock()
	n.lastPong[peer.RemoteID] = time.Now()
	n.mu.Unlock()
}

func (n *Node) emit(t events.Type, data map[string]any) {
	if n.emitter == nil {
		return
	}
	n.emitter.Emit(events.Event{Type: t, Data: data})
}
