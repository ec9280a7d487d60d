package rudp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// Receive waits for the next chunk of a transfer and copies it into buf.
//
// It returns the chunk length and whether the chunk was the last of its
// transfer. A stale SYN from the peer resets the expected sequence to the
// epoch and yields (0, false, nil). A pure FIN is acknowledged, then
// Receive lingers for FinDwell re-acknowledging retransmitted FINs before
// returning io.EOF; the terminate sentinel returns io.EOF at once.
//
// Corrupt frames are dropped unacknowledged. A retransmission of the chunk
// just delivered is acknowledged again but not copied. Any other sequence
// number fails with ErrSequence. ReceiveAttempts consecutive empty waits
// fail with ErrTimeout, as does going ReceiveAttempts*ReceiveTimeout without
// a usable frame while corrupt or ignored frames keep arriving.
func (t *Transport) Receive(ctx context.Context, conn *Connection, buf []byte) (int, bool, error) {
	if err := t.checkConn(conn, StateEstablished); err != nil {
		return 0, false, err
	}

	quiet := time.Duration(t.config.ReceiveAttempts) * t.config.ReceiveTimeout
	until := time.Now().Add(quiet)
	idle := 0
	for {
		wait := min(t.config.ReceiveTimeout, time.Until(until))
		if wait <= 0 {
			return 0, false, fmt.Errorf("%w: no usable frame in %s", ErrTimeout, quiet)
		}

		addr, err := t.awaitPacket(ctx, conn, wait)
		switch {
		case err == nil:
		case errors.Is(err, errWaitTimeout):
			idle++
			if idle >= t.config.ReceiveAttempts {
				return 0, false, fmt.Errorf("%w: nothing received in %d waits of %s",
					ErrTimeout, idle, t.config.ReceiveTimeout)
			}
			continue
		case errors.Is(err, errCorrupt):
			continue
		default:
			return 0, false, err
		}

		p := &t.rx
		switch {
		case p.Flags.IsTerminate():
			conn.setState(StateClosed)
			conn.log.Info("peer terminated the connection")
			return 0, false, io.EOF

		case p.Flags.Has(wire.FlagSYN) && !p.Flags.Has(wire.FlagACK):
			conn.log.Debug("stale SYN seq %d, resetting to epoch %d", p.SeqNum, conn.epoch)
			conn.expectedSeq = conn.epoch
			if err := t.writePacket(conn, wire.NewAck(p), addr); err != nil {
				return 0, false, err
			}
			return 0, false, nil

		case p.Flags.Has(wire.FlagACK):
			conn.log.Debug("ignoring stray %s", p)
			continue

		case !p.Flags.Has(wire.FlagDATA) && !p.Flags.Has(wire.FlagFIN):
			conn.log.Debug("ignoring flagless %s", p)
			continue
		}

		switch p.SeqNum {
		case conn.expectedSeq:
		case conn.expectedSeq - 1:
			conn.count(func(s *ConnectionStats) { s.Duplicates++ })
			conn.log.Debug("duplicate seq %d, re-acknowledging", p.SeqNum)
			if err := t.writePacket(conn, wire.NewAck(p), addr); err != nil {
				return 0, false, err
			}
			// a retransmitting peer is alive
			idle = 0
			until = time.Now().Add(quiet)
			continue
		default:
			conn.log.Error("seq %d out of order, expected %d", p.SeqNum, conn.expectedSeq)
			return 0, false, fmt.Errorf("%w: got seq %d, expected %d", ErrSequence, p.SeqNum, conn.expectedSeq)
		}

		if !p.Flags.Has(wire.FlagDATA) {
			// pure FIN: the peer is closing the connection
			finSeq := p.SeqNum
			if err := t.writePacket(conn, wire.NewAck(p), addr); err != nil {
				return 0, false, err
			}
			conn.expectedSeq++
			return t.linger(ctx, conn, finSeq)
		}

		if int(p.Length) > len(buf) {
			return 0, false, fmt.Errorf("%w: chunk of %d bytes, buffer holds %d", ErrShortBuffer, p.Length, len(buf))
		}
		n := copy(buf, p.Data())
		last := p.Flags.Has(wire.FlagFIN)

		if err := t.writePacket(conn, wire.NewAck(p), addr); err != nil {
			return 0, false, err
		}
		conn.expectedSeq++
		conn.count(func(s *ConnectionStats) { s.BytesReceived += uint64(n) })

		return n, last, nil
	}
}

// ReceiveTransfer reads chunks until the end of one transfer and writes
// them to w in order, returning the transfer size. io.EOF is returned when
// the peer closes before a transfer starts and io.ErrUnexpectedEOF when it
// closes in the middle of one.
func (t *Transport) ReceiveTransfer(ctx context.Context, conn *Connection, w io.Writer) (int64, error) {
	buf := make([]byte, wire.MaxPayloadSize)

	var total int64
	for {
		n, last, err := t.Receive(ctx, conn, buf)
		if err != nil {
			if errors.Is(err, io.EOF) && total > 0 {
				return total, io.ErrUnexpectedEOF
			}
			return total, err
		}

		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if last {
			return total, nil
		}
	}
}
