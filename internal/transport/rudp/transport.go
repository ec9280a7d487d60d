package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rcarmo/go-rudp/internal/endpoint"
	"github.com/rcarmo/go-rudp/internal/logging"
	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// internal wait outcomes, never returned to callers
var (
	errWaitTimeout = errors.New("rudp: wait timed out")
	errCorrupt     = errors.New("rudp: corrupt frame dropped")
)

// Transport bundles one datagram endpoint with at most one live Connection.
//
// Connect, Accept, Send, Receive, ReceiveTransfer, Disconnect and Terminate
// run on the caller's goroutine and must not be called concurrently.
// Close may be called from any goroutine.
type Transport struct {
	pc     net.PacketConn
	config *Config
	log    *logging.Logger

	mu     sync.Mutex
	conn   *Connection
	closed bool

	// frame buffers and packets reused across calls
	rbuf []byte
	wbuf []byte
	rx   wire.Packet
	tx   wire.Packet
}

// New wraps pc. A nil cfg uses DefaultConfig; zero fields take defaults.
func New(pc net.PacketConn, cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.normalize()

	return &Transport{
		pc:     pc,
		config: cfg,
		log:    cfg.Logger,
		rbuf:   make([]byte, wire.MaxFrameSize),
		wbuf:   make([]byte, wire.MaxFrameSize),
	}
}

// Listen binds a UDP endpoint on addr for a responder.
func Listen(addr string, cfg *Config) (*Transport, error) {
	pc, err := endpoint.ListenUDP(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportIO, err)
	}
	return New(pc, cfg), nil
}

// Open binds an ephemeral UDP endpoint for an initiator.
func Open(cfg *Config) (*Transport, error) {
	return Listen(":0", cfg)
}

// LocalAddr returns the endpoint's local address
func (t *Transport) LocalAddr() net.Addr {
	return t.pc.LocalAddr()
}

// Connection returns the current connection, if any
func (t *Transport) Connection() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Config returns the effective configuration
func (t *Transport) Config() Config {
	return *t.config
}

// Close releases the endpoint and closes any connection. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.setState(StateClosed)
	}
	return t.pc.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// newConnection installs a fresh connection, refusing while another one is live.
func (t *Transport) newConnection(role Role, peer net.Addr) (*Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.conn != nil && t.conn.State() != StateClosed {
		return nil, fmt.Errorf("%w: connection %s is %s", ErrInvalidState, t.conn.ID, t.conn.State())
	}

	t.conn = newConnection(role, peer, t.log)
	return t.conn, nil
}

// checkConn verifies conn belongs to t and is in state want.
func (t *Transport) checkConn(conn *Connection, want State) error {
	t.mu.Lock()
	closed, owned := t.closed, conn != nil && conn == t.conn
	t.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case !owned:
		return fmt.Errorf("%w: connection not owned by this transport", ErrInvalidState)
	}
	if s := conn.State(); s != want {
		return fmt.Errorf("%w: connection is %s, need %s", ErrInvalidState, s, want)
	}
	return nil
}

// writePacket serializes p and sends it to addr. The checksum must already
// be sealed.
func (t *Transport) writePacket(conn *Connection, p *wire.Packet, addr net.Addr) error {
	n, err := p.SerializeTo(t.wbuf)
	if err != nil {
		return err
	}

	if _, err := t.pc.WriteTo(t.wbuf[:n], addr); err != nil {
		if t.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: write to %v: %w", ErrTransportIO, addr, err)
	}

	conn.count(func(s *ConnectionStats) { s.PacketsSent++ })
	conn.log.Debug("sent %s to %v", p, addr)
	return nil
}

// awaitPacket waits up to timeout (capped by ctx) for one frame from the
// connection's peer and decodes it into t.rx. Frames from other addresses
// are skipped under the same deadline, except while the initiator waits for
// SYN+ACK: a wildcard or aliased dial address may answer from another one. It returns errWaitTimeout when the
// wait expires and errCorrupt when the frame fails to decode or verify.
func (t *Transport) awaitPacket(ctx context.Context, conn *Connection, timeout time.Duration) (net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	ctxBound := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, ctxBound = d, true
	}
	if err := t.pc.SetReadDeadline(deadline); err != nil {
		if t.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: set deadline: %w", ErrTransportIO, err)
	}

	// cancellation cuts the current wait short
	stop := context.AfterFunc(ctx, func() {
		_ = t.pc.SetReadDeadline(time.Now())
	})
	defer stop()

	peer := conn.RemoteAddr()
	if conn.State() == StateSynSent {
		peer = nil
	}
	for {
		n, addr, err := t.pc.ReadFrom(t.rbuf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if isTimeout(err) {
				if ctxBound {
					// the endpoint deadline was the context's own
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return nil, errWaitTimeout
			}
			if t.isClosed() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: read: %w", ErrTransportIO, err)
		}

		if peer != nil && addr.String() != peer.String() {
			conn.log.Debug("ignoring %d bytes from stranger %v", n, addr)
			continue
		}

		if err := t.rx.Deserialize(t.rbuf[:n]); err != nil || !t.rx.Verify() {
			conn.count(func(s *ConnectionStats) { s.CorruptDropped++ })
			conn.log.Debug("dropping corrupt frame from %v (%d bytes)", addr, n)
			return addr, errCorrupt
		}

		conn.count(func(s *ConnectionStats) { s.PacketsReceived++ })
		conn.log.Debug("received %s from %v", &t.rx, addr)
		return addr, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// deliver writes p to the peer and waits for its exact acknowledgment:
// same seq, ACK plus p's SYN/FIN bits. It retransmits up to Retries times.
func (t *Transport) deliver(ctx context.Context, conn *Connection, p *wire.Packet) error {
	want := wire.AckFlags(p.Flags)
	peer := conn.RemoteAddr()

	for attempt := 0; attempt <= t.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			conn.count(func(s *ConnectionStats) { s.Retransmits++ })
			conn.log.Debug("retransmitting seq %d (attempt %d/%d)", p.SeqNum, attempt+1, t.config.Retries+1)
		}

		if err := t.writePacket(conn, p, peer); err != nil {
			return err
		}

		_, err := t.awaitPacket(ctx, conn, t.config.Timeout)
		switch {
		case err == nil:
		case errors.Is(err, errWaitTimeout), errors.Is(err, errCorrupt):
			continue
		default:
			return err
		}

		if t.rx.Flags.IsTerminate() {
			conn.setState(StateClosed)
			return fmt.Errorf("%w: peer terminated", ErrClosed)
		}
		if t.rx.Flags == want && t.rx.SeqNum == p.SeqNum {
			return nil
		}
		conn.log.Debug("unexpected %s while waiting for %s seq %d", &t.rx, want, p.SeqNum)
	}

	conn.log.Warn("seq %d unacknowledged after %d attempts", p.SeqNum, t.config.Retries+1)
	return fmt.Errorf("%w: seq %d unacknowledged after %d attempts", ErrDeliveryFailed, p.SeqNum, t.config.Retries+1)
}
