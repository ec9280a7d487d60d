package rudp

import (
	"context"

	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// Send delivers buf as one transfer using stop-and-wait. buf is cut into
// PayloadSize chunks, the last of which carries FIN to mark the end of the
// transfer; an empty buf is sent as a single empty final chunk. Each chunk
// must be acknowledged before the next is sent.
//
// Send returns len(buf) on success. On failure nothing can be assumed about
// how much of buf reached the peer.
func (t *Transport) Send(ctx context.Context, conn *Connection, buf []byte) (int, error) {
	if err := t.checkConn(conn, StateEstablished); err != nil {
		return 0, err
	}

	size := t.config.PayloadSize
	chunks := (len(buf) + size - 1) / size
	if chunks == 0 {
		chunks = 1
	}

	for i := 0; i < chunks; i++ {
		lo := i * size
		hi := min(lo+size, len(buf))
		if err := t.sendChunk(ctx, conn, buf[lo:hi], i == chunks-1); err != nil {
			return 0, err
		}
	}

	conn.log.Debug("sent %d bytes in %d chunks", len(buf), chunks)
	return len(buf), nil
}

func (t *Transport) sendChunk(ctx context.Context, conn *Connection, chunk []byte, last bool) error {
	p := &t.tx
	p.Reset()
	p.Flags = wire.FlagDATA
	if last {
		p.Flags |= wire.FlagFIN
	}
	p.SeqNum = conn.nextSendSeq
	if err := p.SetPayload(chunk); err != nil {
		return err
	}
	p.Seal()

	if err := t.deliver(ctx, conn, p); err != nil {
		return err
	}

	conn.nextSendSeq++
	conn.count(func(s *ConnectionStats) { s.BytesSent += uint64(len(chunk)) })
	return nil
}
