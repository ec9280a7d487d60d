package endpoint

import (
	"math/rand"
	"net"
	"sync"
)

// Direction tells a Filter which way a frame is travelling.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Action is a Filter verdict.
type Action int

const (
	// Pass delivers the frame unchanged
	Pass Action = iota
	// Drop discards the frame silently
	Drop
	// Corrupt flips one bit in the middle of the frame
	Corrupt
)

// Filter decides the fate of each frame crossing a Lossy endpoint. It must
// not retain or modify frame.
type Filter func(dir Direction, frame []byte) Action

// Lossy wraps a PacketConn and applies a Filter to every frame, simulating
// an unreliable channel.
type Lossy struct {
	net.PacketConn

	mu     sync.Mutex
	filter Filter
}

// NewLossy wraps pc. A nil filter passes everything.
func NewLossy(pc net.PacketConn, filter Filter) *Lossy {
	return &Lossy{PacketConn: pc, filter: filter}
}

// SetFilter replaces the active filter.
func (l *Lossy) SetFilter(filter Filter) {
	l.mu.Lock()
	l.filter = filter
	l.mu.Unlock()
}

func (l *Lossy) verdict(dir Direction, frame []byte) Action {
	l.mu.Lock()
	f := l.filter
	l.mu.Unlock()
	if f == nil {
		return Pass
	}
	return f(dir, frame)
}

func (l *Lossy) WriteTo(b []byte, addr net.Addr) (int, error) {
	switch l.verdict(Outbound, b) {
	case Drop:
		return len(b), nil
	case Corrupt:
		frame := make([]byte, len(b))
		copy(frame, b)
		flipBit(frame)
		return l.PacketConn.WriteTo(frame, addr)
	default:
		return l.PacketConn.WriteTo(b, addr)
	}
}

// ReadFrom skips dropped frames and keeps reading under the same deadline.
func (l *Lossy) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		n, addr, err := l.PacketConn.ReadFrom(b)
		if err != nil {
			return n, addr, err
		}

		switch l.verdict(Inbound, b[:n]) {
		case Drop:
			continue
		case Corrupt:
			flipBit(b[:n])
		}
		return n, addr, nil
	}
}

func flipBit(frame []byte) {
	if len(frame) == 0 {
		return
	}
	frame[len(frame)/2] ^= 0x01
}

// RandomLoss drops each frame in either direction with probability rate.
func RandomLoss(rate float64, seed int64) Filter {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func(Direction, []byte) Action {
		mu.Lock()
		defer mu.Unlock()
		if rng.Float64() < rate {
			return Drop
		}
		return Pass
	}
}

// DropNth drops the n-th frame (1-based) travelling in dir and passes
// everything else.
func DropNth(dir Direction, n int) Filter {
	return ActOnNth(dir, n, Drop)
}

// ActOnNth applies action to the n-th frame (1-based) travelling in dir.
func ActOnNth(dir Direction, n int, action Action) Filter {
	var mu sync.Mutex
	count := 0
	return func(d Direction, _ []byte) Action {
		if d != dir {
			return Pass
		}
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == n {
			return action
		}
		return Pass
	}
}

// DropAll drops every frame travelling in dir.
func DropAll(dir Direction) Filter {
	return func(d Direction, _ []byte) Action {
		if d == dir {
			return Drop
		}
		return Pass
	}
}
