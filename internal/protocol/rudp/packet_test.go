package rudp

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"single zero word", []byte{0x00, 0x00}, 0xFFFF},
		{"single word", []byte{0x12, 0x34}, ^uint16(0x1234)},
		{"odd trailing byte", []byte{0xAB}, ^uint16(0xAB00)},
		// RFC 1071 example: 0001 f203 f4f5 f6f7 sums to ddf2 after folding
		{"rfc1071", []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}, ^uint16(0xddf2)},
		{"carry fold", []byte{0xFF, 0xFF, 0x00, 0x01}, ^uint16(0x0001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.data))
		})
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 2, 3, 1023, 4096, MaxPayloadSize} {
		data := make([]byte, size)
		rng.Read(data)

		clone := append([]byte(nil), data...)
		assert.Equal(t, Checksum(data), Checksum(clone), "size %d", size)
	}
}

func TestChecksum_DetectsSingleBitFlip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range []int{1, 2, 7, 64} {
		data := make([]byte, size)
		rng.Read(data)
		want := Checksum(data)

		for i := range data {
			for bit := 0; bit < 8; bit++ {
				data[i] ^= 1 << bit
				if Checksum(data) == want {
					t.Fatalf("size %d: flip of byte %d bit %d not detected", size, i, bit)
				}
				data[i] ^= 1 << bit
			}
		}
	}
}

func TestChecksum_DetectsBitFlipInFullPayload(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, MaxPayloadSize)
	rng.Read(data)
	want := Checksum(data)

	for i := 0; i < 200; i++ {
		pos := rng.Intn(len(data))
		bit := byte(1) << rng.Intn(8)
		data[pos] ^= bit
		assert.NotEqual(t, want, Checksum(data), "byte %d", pos)
		data[pos] ^= bit
	}
}

func TestFlags_String(t *testing.T) {
	tests := []struct {
		flags Flags
		want  string
	}{
		{0, "NONE"},
		{FlagSYN, "SYN"},
		{FlagSYN | FlagACK, "SYN|ACK"},
		{FlagDATA | FlagFIN, "DATA|FIN"},
		{FlagACK | FlagFIN, "ACK|FIN"},
		{FlagTerminate, "TERMINATE"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.String())
		})
	}
}

func TestFlags_Has(t *testing.T) {
	f := FlagDATA | FlagFIN
	assert.True(t, f.Has(FlagDATA))
	assert.True(t, f.Has(FlagFIN))
	assert.True(t, f.Has(FlagDATA|FlagFIN))
	assert.False(t, f.Has(FlagSYN))
	assert.False(t, f.Has(FlagDATA|FlagACK))
	assert.False(t, f.IsTerminate())
	assert.True(t, FlagTerminate.IsTerminate())
}

func TestPacket_SerializeDeserialize(t *testing.T) {
	pkt, err := NewData(513, []byte("hello, rudp"), true)
	require.NoError(t, err)

	frame := pkt.Serialize()
	require.Len(t, frame, HeaderSize+11)

	// header in network byte order
	assert.Equal(t, byte(FlagDATA|FlagFIN), frame[0])
	assert.Equal(t, []byte{0x00, 0x0B}, frame[1:3])
	assert.Equal(t, []byte{0x02, 0x01}, frame[5:7])

	var got Packet
	require.NoError(t, got.Deserialize(frame))
	assert.Equal(t, pkt.Flags, got.Flags)
	assert.Equal(t, pkt.SeqNum, got.SeqNum)
	assert.Equal(t, pkt.Checksum, got.Checksum)
	assert.Equal(t, []byte("hello, rudp"), got.Data())
	assert.True(t, got.Verify())
}

func TestPacket_OnlyUsedPayloadOnWire(t *testing.T) {
	p := NewControl(FlagACK, 9)
	assert.Len(t, p.Serialize(), HeaderSize)

	full := make([]byte, MaxPayloadSize)
	pkt, err := NewData(0, full, false)
	require.NoError(t, err)
	assert.Len(t, pkt.Serialize(), MaxFrameSize)
}

func TestPacket_Deserialize_Corrupt(t *testing.T) {
	good, err := NewData(1, []byte{1, 2, 3, 4}, false)
	require.NoError(t, err)
	frame := good.Serialize()

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"short header", frame[:HeaderSize-1]},
		{"truncated payload", frame[:len(frame)-1]},
		{"length beyond capacity", []byte{byte(FlagDATA), 0xFF, 0xFF, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Packet
			err := p.Deserialize(tt.frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptFrame))
		})
	}
}

func TestPacket_Deserialize_IgnoresTrailingBytes(t *testing.T) {
	good, err := NewData(1, []byte{9, 8, 7}, false)
	require.NoError(t, err)
	frame := append(good.Serialize(), 0xEE, 0xEE)

	var p Packet
	require.NoError(t, p.Deserialize(frame))
	assert.Equal(t, []byte{9, 8, 7}, p.Data())
	assert.True(t, p.Verify())
}

func TestPacket_VerifyDetectsCorruption(t *testing.T) {
	pkt, err := NewData(3, bytes.Repeat([]byte{0x5A}, 100), false)
	require.NoError(t, err)
	frame := pkt.Serialize()
	frame[HeaderSize+50] ^= 0x10

	var p Packet
	require.NoError(t, p.Deserialize(frame))
	assert.False(t, p.Verify())
}

func TestPacket_SetPayloadTooLarge(t *testing.T) {
	var p Packet
	err := p.SetPayload(make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = NewData(0, make([]byte, MaxPayloadSize+1), true)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPacket_SerializeToShortBuffer(t *testing.T) {
	pkt, err := NewData(0, []byte("abc"), false)
	require.NoError(t, err)

	_, err = pkt.SerializeTo(make([]byte, HeaderSize))
	assert.ErrorIs(t, err, ErrShortBuffer)

	buf := make([]byte, MaxFrameSize)
	n, err := pkt.SerializeTo(buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+3, n)
}

func TestNewAck(t *testing.T) {
	tests := []struct {
		name  string
		of    Flags
		flags Flags
	}{
		{"data", FlagDATA, FlagACK},
		{"last chunk", FlagDATA | FlagFIN, FlagACK | FlagFIN},
		{"syn", FlagSYN, FlagACK | FlagSYN},
		{"pure fin", FlagFIN, FlagACK | FlagFIN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := NewAck(&Packet{Flags: tt.of, SeqNum: 77})
			assert.Equal(t, tt.flags, ack.Flags)
			assert.Equal(t, uint16(77), ack.SeqNum)
			assert.Zero(t, ack.Length)
			assert.True(t, ack.Verify())
		})
	}
}

func TestTerminate_NoChecksumRequired(t *testing.T) {
	frame := NewTerminate().Serialize()
	frame[offsetChecksum] = 0xDE
	frame[offsetChecksum+1] = 0xAD

	var p Packet
	require.NoError(t, p.Deserialize(frame))
	assert.True(t, p.Flags.IsTerminate())
	assert.True(t, p.Verify())
}

func TestPacket_String(t *testing.T) {
	pkt, err := NewData(3, make([]byte, 19000), true)
	require.NoError(t, err)
	assert.Equal(t, "Packet{Seq:3, Flags:[DATA|FIN], Len:19000}", pkt.String())
}

func TestPacket_ReuseAcrossDeserialize(t *testing.T) {
	big, err := NewData(1, bytes.Repeat([]byte{1}, 500), false)
	require.NoError(t, err)
	small, err := NewData(2, []byte{2, 2}, true)
	require.NoError(t, err)

	var p Packet
	require.NoError(t, p.Deserialize(big.Serialize()))
	require.NoError(t, p.Deserialize(small.Serialize()))
	assert.Equal(t, []byte{2, 2}, p.Data())
	assert.True(t, p.Verify())

	p.Reset()
	assert.Zero(t, p.Length)
	assert.Empty(t, p.Data())
}
