// Package endpoint provides the datagram endpoints RUDP runs over: plain
// UDP sockets, an in-memory pipe, a loss-simulating wrapper and a
// WebSocket relay. Every endpoint is a net.PacketConn.
package endpoint

import (
	"fmt"
	"net"
)

// ListenUDP binds a UDP socket on addr ("host:port"; port 0 picks one).
func ListenUDP(addr string) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP %s: %w", addr, err)
	}
	return pc, nil
}

// ResolveUDP resolves a "host:port" peer address.
func ResolveUDP(addr string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP %s: %w", addr, err)
	}
	return raddr, nil
}
