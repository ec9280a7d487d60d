package rudp

import (
	"fmt"
	"time"

	"github.com/rcarmo/go-rudp/internal/logging"
	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
)

// Protocol defaults
const (
	// DefaultTimeout is the per-attempt wait for an acknowledgment
	DefaultTimeout = 500 * time.Millisecond

	// DefaultRetries is the number of retransmissions after the first send.
	// A packet is therefore written at most 1+DefaultRetries times.
	DefaultRetries = 3

	// DefaultReceiveTimeout bounds a single receive wait
	DefaultReceiveTimeout = time.Second

	// DefaultReceiveAttempts is the number of consecutive empty receive
	// waits tolerated before Receive gives up
	DefaultReceiveAttempts = 10

	// DefaultFinDwell is how long the teardown responder stays reachable
	// for FIN retransmissions after acknowledging one
	DefaultFinDwell = 2 * time.Second
)

// Config holds RUDP transport configuration
type Config struct {
	// Timeout is the per-attempt wait for a matching ACK (handshake, data, FIN)
	Timeout time.Duration

	// Retries is the retransmission budget per packet
	Retries int

	// ReceiveTimeout bounds one wait inside Receive and Accept
	ReceiveTimeout time.Duration

	// ReceiveAttempts is how many consecutive ReceiveTimeout waits Receive
	// tolerates. Accept waits indefinitely unless its context says otherwise.
	ReceiveAttempts int

	// FinDwell is the linger window after acknowledging a pure FIN
	FinDwell time.Duration

	// PayloadSize is the chunk size used by Send, at most wire.MaxPayloadSize
	PayloadSize int

	// Logger receives protocol events. nil uses logging.Default().
	Logger *logging.Logger
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:         DefaultTimeout,
		Retries:         DefaultRetries,
		ReceiveTimeout:  DefaultReceiveTimeout,
		ReceiveAttempts: DefaultReceiveAttempts,
		FinDwell:        DefaultFinDwell,
		PayloadSize:     wire.MaxPayloadSize,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive")
	case c.Retries < 0:
		return fmt.Errorf("retries cannot be negative")
	case c.ReceiveTimeout <= 0:
		return fmt.Errorf("receive timeout must be positive")
	case c.ReceiveAttempts <= 0:
		return fmt.Errorf("receive attempts must be positive")
	case c.FinDwell < 0:
		return fmt.Errorf("fin dwell cannot be negative")
	case c.PayloadSize <= 0 || c.PayloadSize > wire.MaxPayloadSize:
		return fmt.Errorf("payload size must be within 1..%d", wire.MaxPayloadSize)
	}
	return nil
}

// normalize fills zero fields with defaults and clamps PayloadSize.
func (c *Config) normalize() *Config {
	out := *c
	def := DefaultConfig()
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	if out.ReceiveTimeout <= 0 {
		out.ReceiveTimeout = def.ReceiveTimeout
	}
	if out.ReceiveAttempts <= 0 {
		out.ReceiveAttempts = def.ReceiveAttempts
	}
	if out.FinDwell < 0 {
		out.FinDwell = 0
	}
	if out.PayloadSize <= 0 || out.PayloadSize > wire.MaxPayloadSize {
		out.PayloadSize = def.PayloadSize
	}
	if out.Logger == nil {
		out.Logger = logging.Default()
	}
	return &out
}
