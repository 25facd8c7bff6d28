package session

import (
	"fmt"
	"time"
)

// Default heartbeat and call bounds.
const (
	DefaultPingInterval   = 5 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultCallTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxMessageSize = 64 * 1024
)

// Config holds the per-connection timing and size limits.
type Config struct {
	// PingInterval is how often a ping is sent.
	PingInterval time.Duration

	// PingTimeout is how long the session tolerates silence from the peer.
	// Must be greater than PingInterval.
	PingTimeout time.Duration

	// CallTimeout bounds the wait for a result frame.
	CallTimeout time.Duration

	// WriteTimeout is the deadline applied to each frame write.
	WriteTimeout time.Duration

	// MaxMessageSize is the read limit for a single message in bytes.
	MaxMessageSize int64
}

// DefaultConfig returns the 5s/10s heartbeat configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval:   DefaultPingInterval,
		PingTimeout:    DefaultPingTimeout,
		CallTimeout:    DefaultCallTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Validate checks the heartbeat ordering and that every bound is positive.
func (c Config) Validate() error {
	if c.PingInterval <= 0 || c.CallTimeout <= 0 || c.WriteTimeout <= 0 || c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: intervals, timeouts and message size must be positive", ErrInvalidConfig)
	}
	if c.PingTimeout <= c.PingInterval {
		return fmt.Errorf("%w: ping timeout %v must exceed ping interval %v", ErrInvalidConfig, c.PingTimeout, c.PingInterval)
	}
	return nil
}
