// Package rudp implements the RUDP connection engine: handshake, stop-and-wait
// delivery with retransmission, duplicate suppression and the FIN teardown
// linger, over any net.PacketConn.
package rudp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/rcarmo/go-rudp/internal/logging"
)

// Connection states
type State int

const (
	// StateClosed - no session, or the session has been torn down
	StateClosed State = iota
	// StateListen - responder only: waiting for a SYN
	StateListen
	// StateSynSent - initiator only: SYN sent, waiting for SYN+ACK
	StateSynSent
	// StateSynReceived - responder only: SYN received, SYN+ACK being sent
	StateSynReceived
	// StateEstablished - data can be exchanged
	StateEstablished
	// StateFinWait - teardown in progress: FIN sent, or FIN acknowledged and lingering
	StateFinWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Role is the side of the handshake a Connection played.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// Errors
var (
	ErrTransportIO     = errors.New("rudp: transport I/O failure")
	ErrSequence        = errors.New("rudp: sequence number out of order")
	ErrHandshakeFailed = errors.New("rudp: handshake failed")
	ErrDeliveryFailed  = errors.New("rudp: delivery failed")
	ErrTimeout         = errors.New("rudp: receive timeout")
	ErrInvalidState    = errors.New("rudp: invalid state for operation")
	ErrClosed          = errors.New("rudp: connection closed")
	ErrShortBuffer     = errors.New("rudp: buffer too small for payload")
)

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64 // payload bytes acknowledged by the peer
	BytesReceived   uint64 // payload bytes delivered to the caller
	Retransmits     uint64
	CorruptDropped  uint64
	Duplicates      uint64
}

// Connection is one RUDP session. It is created by Transport.Connect or
// Transport.Accept and owned by that Transport.
type Connection struct {
	// ID tags the session in logs
	ID uuid.UUID

	mu    sync.RWMutex
	role  Role
	peer  net.Addr
	state State
	stats ConnectionStats

	// Sequence numbers, touched only by the engine goroutine
	epoch       uint16 // sequence number agreed during the handshake
	nextSendSeq uint16 // seq of the next DATA or FIN we send
	expectedSeq uint16 // seq of the next new packet we accept

	log *logging.Logger
}

func newConnection(role Role, peer net.Addr, log *logging.Logger) *Connection {
	id := uuid.New()
	return &Connection{
		ID:    id,
		role:  role,
		peer:  peer,
		state: StateClosed,
		log:   log.With("conn", id.String()).With("role", role.String()),
	}
}

// State returns the current connection state
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.log.Debug("state %s -> %s", prev, s)
	}
}

// Role returns whether this side initiated or accepted the session
func (c *Connection) Role() Role {
	return c.role
}

// RemoteAddr returns the peer address, nil until a responder sees a SYN.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer
}

func (c *Connection) bind(peer net.Addr) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()
}

// establish adopts seq as the connection epoch.
func (c *Connection) establish(seq uint16) {
	c.epoch = seq
	c.nextSendSeq = seq
	c.expectedSeq = seq
	c.setState(StateEstablished)
	c.log.Info("established with %s (epoch %d)", c.RemoteAddr(), seq)
}

// Stats returns a snapshot of the connection counters
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Connection) count(update func(s *ConnectionStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}

// String provides a human-readable representation for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{ID:%s, Role:%s, Peer:%v, State:%s}", c.ID, c.role, c.RemoteAddr(), c.State())
}
