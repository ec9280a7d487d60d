package rudp

import (
	"context"
	"errors"
	"io"
	"time"

	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// Disconnect runs the teardown initiator: a pure FIN with the next send seq,
// acknowledged by ACK+FIN with the same seq and retransmitted like data.
// The connection ends Closed whether or not the FIN was acknowledged; an
// unacknowledged FIN returns ErrDeliveryFailed.
func (t *Transport) Disconnect(ctx context.Context, conn *Connection) error {
	if err := t.checkConn(conn, StateEstablished); err != nil {
		return err
	}

	conn.setState(StateFinWait)
	conn.log.Info("disconnecting from %s", conn.RemoteAddr())

	p := &t.tx
	p.Reset()
	p.Flags = wire.FlagFIN
	p.SeqNum = conn.nextSendSeq
	p.Seal()

	err := t.deliver(ctx, conn, p)
	if err == nil {
		conn.nextSendSeq++
	}
	conn.setState(StateClosed)
	return err
}

// linger keeps a connection that acknowledged FIN finSeq reachable for
// FinDwell. A retransmitted FIN is acknowledged again and restarts the
// window; the terminate sentinel ends it early. The FIN is already
// acknowledged, so a peer releasing its endpoint also ends the window.
// The connection then closes.
func (t *Transport) linger(ctx context.Context, conn *Connection, finSeq uint16) (int, bool, error) {
	conn.setState(StateFinWait)
	until := time.Now().Add(t.config.FinDwell)

	for {
		remaining := time.Until(until)
		if remaining <= 0 {
			break
		}

		addr, err := t.awaitPacket(ctx, conn, remaining)
		switch {
		case err == nil:
		case errors.Is(err, errWaitTimeout), errors.Is(err, errCorrupt):
			continue
		default:
			conn.setState(StateClosed)
			conn.log.Debug("dwell ended early: %v", err)
			return 0, false, io.EOF
		}

		p := &t.rx
		if p.Flags.IsTerminate() {
			break
		}
		if p.Flags == wire.FlagFIN && p.SeqNum == finSeq {
			conn.count(func(s *ConnectionStats) { s.Duplicates++ })
			conn.log.Debug("duplicate FIN seq %d, re-acknowledging", finSeq)
			if err := t.writePacket(conn, wire.NewAck(p), addr); err != nil {
				conn.setState(StateClosed)
				conn.log.Debug("dwell ended early: %v", err)
				return 0, false, io.EOF
			}
			until = time.Now().Add(t.config.FinDwell)
			continue
		}
		conn.log.Debug("ignoring %s while lingering", p)
	}

	conn.setState(StateClosed)
	conn.log.Info("connection closed by peer")
	return 0, false, io.EOF
}

// Terminate sends the terminate sentinel once, best-effort, and closes the
// connection locally without a FIN handshake.
func (t *Transport) Terminate(conn *Connection) error {
	if conn == nil || conn.State() == StateClosed {
		return nil
	}

	var err error
	if peer := conn.RemoteAddr(); peer != nil {
		err = t.writePacket(conn, wire.NewTerminate(), peer)
	}
	conn.setState(StateClosed)
	conn.log.Info("terminated")
	return err
}
