package endpoint

import (
	"net"
	"os"
	"sync"
	"time"
)

// pipeQueueLen is how many datagrams a pipe end buffers before dropping.
const pipeQueueLen = 128

// PipeAddr names one end of an in-memory pipe.
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

// pipeConn is one end of an in-memory datagram pipe.
type pipeConn struct {
	local  PipeAddr
	remote PipeAddr

	in   chan []byte
	peer *pipeConn

	readDeadline *deadline

	closeOnce sync.Once
	done      chan struct{}
}

// Pipe returns two connected in-memory datagram endpoints. Each WriteTo on
// one end delivers a copy of the frame to the other end regardless of the
// address argument. Like UDP, frames are dropped when the receive queue is
// full or the peer is closed.
func Pipe() (net.PacketConn, net.PacketConn) {
	a := &pipeConn{
		local:        "pipe-a",
		remote:       "pipe-b",
		in:           make(chan []byte, pipeQueueLen),
		readDeadline: newDeadline(),
		done:         make(chan struct{}),
	}
	b := &pipeConn{
		local:        "pipe-b",
		remote:       "pipe-a",
		in:           make(chan []byte, pipeQueueLen),
		readDeadline: newDeadline(),
		done:         make(chan struct{}),
	}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if isClosedChan(p.done) {
		return 0, nil, p.opError("read", net.ErrClosed)
	}

	select {
	case frame := <-p.in:
		return copy(b, frame), p.remote, nil
	case <-p.readDeadline.wait():
		return 0, nil, p.opError("read", os.ErrDeadlineExceeded)
	case <-p.done:
		return 0, nil, p.opError("read", net.ErrClosed)
	}
}

func (p *pipeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	if isClosedChan(p.done) {
		return 0, p.opError("write", net.ErrClosed)
	}
	if isClosedChan(p.peer.done) {
		return len(b), nil
	}

	frame := make([]byte, len(b))
	copy(frame, b)

	select {
	case p.peer.in <- frame:
	default:
		// queue full: dropped like an overrun socket buffer
	}
	return len(b), nil
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

func (p *pipeConn) LocalAddr() net.Addr { return p.local }

func (p *pipeConn) SetDeadline(t time.Time) error {
	return p.SetReadDeadline(t)
}

func (p *pipeConn) SetReadDeadline(t time.Time) error {
	if isClosedChan(p.done) {
		return p.opError("set deadline", net.ErrClosed)
	}
	p.readDeadline.set(t)
	return nil
}

// SetWriteDeadline is a no-op: pipe writes never block.
func (p *pipeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (p *pipeConn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "pipe", Source: p.local, Addr: p.remote, Err: err}
}
