// Package rudp implements the RUDP wire frame: a 7-byte header followed by
// up to MaxPayloadSize payload bytes, protected by an Internet-style
// ones'-complement checksum over the payload.
package rudp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Wire layout (network byte order):
//
//	+-------+--------+----------+---------+-----------------+
//	| Flags | Length | Checksum | SeqNum  | Payload         |
//	+-------+--------+----------+---------+-----------------+
//	|  1B   |   2B   |    2B    |   2B    | Length bytes    |
const (
	offsetFlags    = 0
	offsetLength   = offsetFlags + 1
	offsetChecksum = offsetLength + 2
	offsetSeqNum   = offsetChecksum + 2

	// HeaderSize is the fixed header size in bytes.
	HeaderSize = offsetSeqNum + 2

	// MaxPayloadSize is the payload capacity of a single packet. Header plus
	// payload equals 65507 bytes, the largest UDP payload over IPv4.
	MaxPayloadSize = 65500

	// MaxFrameSize is the largest frame ever placed on the wire.
	MaxFrameSize = HeaderSize + MaxPayloadSize
)

// Flags is the packet flag bit set.
type Flags uint8

const (
	FlagSYN  Flags = 0x01
	FlagACK  Flags = 0x02
	FlagDATA Flags = 0x04
	FlagFIN  Flags = 0x08

	// FlagTerminate is the all-bits sentinel requesting abrupt teardown.
	// It is never combined with other flags and carries no checksum.
	FlagTerminate Flags = 0xFF
)

// Errors
var (
	ErrCorruptFrame    = errors.New("rudp: corrupt frame")
	ErrPayloadTooLarge = errors.New("rudp: payload exceeds packet capacity")
	ErrShortBuffer     = errors.New("rudp: buffer too small for frame")
)

// Has reports whether every bit of f is set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// IsTerminate reports whether fl is the terminate sentinel.
func (fl Flags) IsTerminate() bool {
	return fl == FlagTerminate
}

func (fl Flags) String() string {
	if fl.IsTerminate() {
		return "TERMINATE"
	}

	var names []string
	for _, f := range []struct {
		flag Flags
		name string
	}{
		{FlagSYN, "SYN"},
		{FlagACK, "ACK"},
		{FlagDATA, "DATA"},
		{FlagFIN, "FIN"},
	} {
		if fl.Has(f.flag) {
			names = append(names, f.name)
		}
	}

	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// Packet is a single RUDP frame. The payload is a fixed-capacity array so a
// Packet can be reused across sends and receives without reallocating;
// only Payload[:Length] is meaningful.
type Packet struct {
	Flags    Flags
	Length   uint16
	Checksum uint16
	SeqNum   uint16
	Payload  [MaxPayloadSize]byte
}

// Reset clears the header and marks the payload empty.
func (p *Packet) Reset() {
	p.Flags = 0
	p.Length = 0
	p.Checksum = 0
	p.SeqNum = 0
}

// Data returns the meaningful part of the payload. The slice aliases the
// packet and is only valid until the packet is reused.
func (p *Packet) Data() []byte {
	return p.Payload[:p.Length]
}

// SetPayload copies b into the packet and updates Length.
func (p *Packet) SetPayload(b []byte) error {
	if len(b) > MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(b), MaxPayloadSize)
	}
	p.Length = uint16(copy(p.Payload[:], b))
	return nil
}

// Seal recomputes the checksum over exactly Length payload bytes.
func (p *Packet) Seal() {
	if p.Flags.IsTerminate() {
		p.Checksum = 0
		return
	}
	p.Checksum = Checksum(p.Data())
}

// Verify reports whether the checksum matches the payload. The terminate
// sentinel always verifies.
func (p *Packet) Verify() bool {
	if p.Flags.IsTerminate() {
		return true
	}
	return Checksum(p.Data()) == p.Checksum
}

// Size returns the number of bytes the packet occupies on the wire.
func (p *Packet) Size() int {
	return HeaderSize + int(p.Length)
}

// SerializeTo writes the header and the used payload region into buf and
// returns the number of bytes written. The checksum field is written as is;
// call Seal first.
func (p *Packet) SerializeTo(buf []byte) (int, error) {
	n := p.Size()
	if len(buf) < n {
		return 0, fmt.Errorf("%w: need %d bytes, got %d", ErrShortBuffer, n, len(buf))
	}

	buf[offsetFlags] = byte(p.Flags)
	binary.BigEndian.PutUint16(buf[offsetLength:], p.Length)
	binary.BigEndian.PutUint16(buf[offsetChecksum:], p.Checksum)
	binary.BigEndian.PutUint16(buf[offsetSeqNum:], p.SeqNum)
	copy(buf[HeaderSize:n], p.Data())

	return n, nil
}

// Serialize encodes the packet into a newly allocated frame.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, p.Size())
	p.SerializeTo(buf) // #nosec G104 -- buffer sized by Size()
	return buf
}

// Deserialize parses a frame into p. Bytes past HeaderSize+Length are
// ignored; a frame too short for its declared Length is corrupt.
func (p *Packet) Deserialize(frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("%w: need %d header bytes, got %d", ErrCorruptFrame, HeaderSize, len(frame))
	}

	length := binary.BigEndian.Uint16(frame[offsetLength:])
	if int(length) > MaxPayloadSize {
		return fmt.Errorf("%w: length %d exceeds capacity %d", ErrCorruptFrame, length, MaxPayloadSize)
	}
	if len(frame)-HeaderSize < int(length) {
		return fmt.Errorf("%w: length %d but only %d payload bytes received",
			ErrCorruptFrame, length, len(frame)-HeaderSize)
	}

	p.Flags = Flags(frame[offsetFlags])
	p.Length = length
	p.Checksum = binary.BigEndian.Uint16(frame[offsetChecksum:])
	p.SeqNum = binary.BigEndian.Uint16(frame[offsetSeqNum:])
	copy(p.Payload[:length], frame[HeaderSize:HeaderSize+int(length)])

	return nil
}

// String provides a human-readable representation of a Packet for debugging.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{Seq:%d, Flags:[%s], Len:%d}", p.SeqNum, p.Flags, p.Length)
}

// NewControl builds a sealed packet with no payload.
func NewControl(flags Flags, seq uint16) *Packet {
	p := &Packet{Flags: flags, SeqNum: seq}
	p.Seal()
	return p
}

// NewData builds a sealed DATA packet. last additionally sets FIN, marking
// the final chunk of a transfer.
func NewData(seq uint16, payload []byte, last bool) (*Packet, error) {
	p := &Packet{Flags: FlagDATA, SeqNum: seq}
	if last {
		p.Flags |= FlagFIN
	}
	if err := p.SetPayload(payload); err != nil {
		return nil, err
	}
	p.Seal()
	return p, nil
}

// AckFlags returns the flags of the acknowledgment for a packet carrying
// flags: ACK plus the SYN and FIN bits being acknowledged.
func AckFlags(flags Flags) Flags {
	return FlagACK | flags&(FlagSYN|FlagFIN)
}

// NewAck builds the acknowledgment for of: same sequence number, ACK plus
// the SYN/FIN bits of the acknowledged packet.
func NewAck(of *Packet) *Packet {
	return NewControl(AckFlags(of.Flags), of.SeqNum)
}

// NewTerminate builds the abrupt-teardown sentinel.
func NewTerminate() *Packet {
	return &Packet{Flags: FlagTerminate}
}
