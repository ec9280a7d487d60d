package rudp

import (
	"context"
	"errors"
	"fmt"
	"net"

	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// Connect runs the initiator side of the handshake against raddr: SYN with
// seq 0, then wait for SYN+ACK, retransmitting up to Retries times. The seq
// echoed in the SYN+ACK becomes the connection epoch and its source address
// becomes the peer.
func (t *Transport) Connect(ctx context.Context, raddr net.Addr) (*Connection, error) {
	conn, err := t.newConnection(RoleInitiator, raddr)
	if err != nil {
		return nil, err
	}

	conn.setState(StateSynSent)
	conn.log.Info("connecting to %s", raddr)

	syn := wire.NewControl(wire.FlagSYN, 0)
	for attempt := 0; attempt <= t.config.Retries; attempt++ {
		if attempt > 0 {
			conn.count(func(s *ConnectionStats) { s.Retransmits++ })
			conn.log.Debug("retransmitting SYN (attempt %d/%d)", attempt+1, t.config.Retries+1)
		}

		if err := ctx.Err(); err != nil {
			conn.setState(StateClosed)
			return nil, err
		}
		if err := t.writePacket(conn, syn, raddr); err != nil {
			conn.setState(StateClosed)
			return nil, err
		}

		addr, err := t.awaitPacket(ctx, conn, t.config.Timeout)
		switch {
		case err == nil:
		case errors.Is(err, errWaitTimeout), errors.Is(err, errCorrupt):
			continue
		default:
			conn.setState(StateClosed)
			return nil, err
		}

		f := t.rx.Flags
		if !f.IsTerminate() && f.Has(wire.FlagSYN|wire.FlagACK) {
			if addr.String() != raddr.String() {
				conn.log.Debug("peer %v answered for %v", addr, raddr)
				conn.bind(addr)
			}
			conn.establish(t.rx.SeqNum)
			return conn, nil
		}
		conn.log.Debug("ignoring %s during handshake", &t.rx)
	}

	conn.setState(StateClosed)
	conn.log.Warn("no SYN+ACK from %s after %d attempts", raddr, t.config.Retries+1)
	return nil, fmt.Errorf("%w: no SYN+ACK from %s after %d attempts", ErrHandshakeFailed, raddr, t.config.Retries+1)
}

// Accept runs the responder side of the handshake. It listens until a valid
// SYN arrives, binds its sender as the peer and answers SYN+ACK echoing the
// SYN's seq. Any other first packet is logged and ignored. Accept waits
// until ctx is done.
func (t *Transport) Accept(ctx context.Context) (*Connection, error) {
	conn, err := t.newConnection(RoleResponder, nil)
	if err != nil {
		return nil, err
	}

	conn.setState(StateListen)
	conn.log.Info("listening on %s", t.LocalAddr())

	for {
		addr, err := t.awaitPacket(ctx, conn, t.config.ReceiveTimeout)
		switch {
		case err == nil:
		case errors.Is(err, errWaitTimeout), errors.Is(err, errCorrupt):
			continue
		default:
			conn.setState(StateClosed)
			return nil, err
		}

		f := t.rx.Flags
		if f.IsTerminate() || !f.Has(wire.FlagSYN) || f.Has(wire.FlagACK) {
			conn.log.Warn("rejecting %s from %v while listening", &t.rx, addr)
			continue
		}

		conn.bind(addr)
		conn.setState(StateSynReceived)
		if err := t.writePacket(conn, wire.NewAck(&t.rx), addr); err != nil {
			conn.setState(StateClosed)
			return nil, err
		}

		conn.establish(t.rx.SeqNum)
		return conn, nil
	}
}
