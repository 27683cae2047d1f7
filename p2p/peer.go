package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxFrameBytes bounds an incoming frame so a malformed length prefix
// cannot cause an unbounded allocation.
const maxFrameBytes = 32 * 1024 * 1024

// readDeadline closes a connection whose peer has gone silent; Ping/Pong
// liveness renews it on every successful read.
const readDeadline = 30 * time.Second

// Peer wraps one TCP connection — either an accepted inbound socket or
// a dialed outbound one — with length-prefixed JSON framing.
type Peer struct {
	RemoteID int // -1 until a Hello identifies the peer on an inbound socket

	conn net.Conn
	mu   sync.Mutex
	dead bool
}

func newPeer(conn net.Conn, remoteID int) *Peer {
	return &Peer{RemoteID: remoteID, conn: conn}
}

// dial opens an outbound connection to addr.
func dial(addr string) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	return newPeer(conn, -1), nil
}

// Send writes a length-prefixed JSON message. A write that blocks
// longer than two seconds fails and the caller is expected to close
// the connection.
func (p *Peer) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("p2p: marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return fmt.Errorf("p2p: peer connection closed")
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := p.conn.Write(header[:]); err != nil {
		return err
	}
	_, err = p.conn.Write(data)
	return err
}

// Receive reads the next length-prefixed JSON message, blocking until
// one arrives, the deadline expires, or the connection closes.
func (p *Peer) Receive() (Message, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(readDeadline))

	var header [4]byte
	if _, err := io.ReadFull(p.conn, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameBytes {
		return Message{}, fmt.Errorf("p2p: frame too large: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, fmt.Errorf("p2p: decode frame: %w", err)
	}
	return msg, nil
}

// Close terminates the connection; safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dead {
		p.dead = true
		_ = p.conn.Close()
	}
}
