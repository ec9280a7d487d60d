package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	wire "github.com/rcarmo/go-rudp/internal/protocol/rudp"
	"github.com/rcarmo/go-rudp/internal/transport/rudp"
)

// Config holds the application configuration
type Config struct {
	Transport TransportConfig `json:"transport"`
	Harness   HarnessConfig   `json:"harness"`
	Logging   LoggingConfig   `json:"logging"`
}

// LoadOptions holds command-line override options. Zero values mean
// "not set on the command line".
type LoadOptions struct {
	Host         string
	Port         string
	LogLevel     string
	TransferSize int
	Runs         int
	WebSocket    bool
	Loss         float64
}

// TransportConfig holds the RUDP protocol parameters
type TransportConfig struct {
	Timeout         time.Duration `json:"timeout" env:"RUDP_TIMEOUT" default:"500ms"`
	Retries         int           `json:"retries" env:"RUDP_RETRIES" default:"3"`
	ReceiveTimeout  time.Duration `json:"receiveTimeout" env:"RUDP_RECEIVE_TIMEOUT" default:"1s"`
	ReceiveAttempts int           `json:"receiveAttempts" env:"RUDP_RECEIVE_ATTEMPTS" default:"10"`
	FinDwell        time.Duration `json:"finDwell" env:"RUDP_FIN_DWELL" default:"2s"`
	PayloadSize     int           `json:"payloadSize" env:"RUDP_PAYLOAD_SIZE" default:"65500"`
}

// HarnessConfig holds sender/receiver harness settings
type HarnessConfig struct {
	Host         string  `json:"host" env:"RUDP_HOST" default:"0.0.0.0"`
	Port         string  `json:"port" env:"RUDP_PORT" default:"5060"`
	TransferSize int     `json:"transferSize" env:"RUDP_TRANSFER_SIZE" default:"2097152"`
	Runs         int     `json:"runs" env:"RUDP_RUNS" default:"1"`
	WebSocket    bool    `json:"webSocket" env:"RUDP_WEBSOCKET" default:"false"`
	Loss         float64 `json:"loss" env:"RUDP_LOSS" default:"0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"text"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	// Transport config
	config.Transport.Timeout = getDurationWithDefault("RUDP_TIMEOUT", rudp.DefaultTimeout)
	config.Transport.Retries = getIntWithDefault("RUDP_RETRIES", rudp.DefaultRetries)
	config.Transport.ReceiveTimeout = getDurationWithDefault("RUDP_RECEIVE_TIMEOUT", rudp.DefaultReceiveTimeout)
	config.Transport.ReceiveAttempts = getIntWithDefault("RUDP_RECEIVE_ATTEMPTS", rudp.DefaultReceiveAttempts)
	config.Transport.FinDwell = getDurationWithDefault("RUDP_FIN_DWELL", rudp.DefaultFinDwell)
	config.Transport.PayloadSize = getIntWithDefault("RUDP_PAYLOAD_SIZE", wire.MaxPayloadSize)

	// Harness config
	config.Harness.Host = getOverrideOrEnv(opts.Host, "RUDP_HOST", "0.0.0.0")
	config.Harness.Port = getOverrideOrEnv(opts.Port, "RUDP_PORT", "5060")
	config.Harness.TransferSize = getIntWithDefault("RUDP_TRANSFER_SIZE", 2*1024*1024)
	if opts.TransferSize > 0 {
		config.Harness.TransferSize = opts.TransferSize
	}
	config.Harness.Runs = getIntWithDefault("RUDP_RUNS", 1)
	if opts.Runs > 0 {
		config.Harness.Runs = opts.Runs
	}
	config.Harness.WebSocket = getBoolWithDefault("RUDP_WEBSOCKET", false) || opts.WebSocket
	config.Harness.Loss = getFloatWithDefault("RUDP_LOSS", 0)
	if opts.Loss > 0 {
		config.Harness.Loss = opts.Loss
	}

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")
	config.Logging.Format = getEnvWithDefault("LOG_FORMAT", "text")

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate harness config
	if c.Harness.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Harness.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s", c.Harness.Port)
	}

	if c.Harness.TransferSize < 0 {
		return fmt.Errorf("transfer size cannot be negative")
	}

	if c.Harness.Runs <= 0 {
		return fmt.Errorf("runs must be positive")
	}

	if c.Harness.Loss < 0 || c.Harness.Loss >= 1 {
		return fmt.Errorf("loss rate must be within [0, 1)")
	}

	// Validate transport config
	if err := c.RUDP().Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}

	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// RUDP maps the transport section onto the protocol engine config.
func (c *Config) RUDP() *rudp.Config {
	return &rudp.Config{
		Timeout:         c.Transport.Timeout,
		Retries:         c.Transport.Retries,
		ReceiveTimeout:  c.Transport.ReceiveTimeout,
		ReceiveAttempts: c.Transport.ReceiveAttempts,
		FinDwell:        c.Transport.FinDwell,
		PayloadSize:     c.Transport.PayloadSize,
	}
}

// Address returns host:port for the harness endpoint.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Harness.Host, c.Harness.Port)
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}
