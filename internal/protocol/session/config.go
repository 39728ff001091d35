package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode selects how strictly client transport settings are checked.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes trust settings for wss endpoints.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines relay connection reliability defaults.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	CloseTimeout     time.Duration
	MaxMessageBytes  int64
	// Backoff gates reconnects after a failed connection. A zero
	// InitialDelay reconnects on the very next frame.
	Backoff      BackoffConfig
	SecurityMode SecurityMode
	TLS          TLSConfig
}

// DefaultConfig returns the relay keep-alive defaults: ping every 5s, fail
// when no pong arrives within 5s, wait up to 10s for a close handshake.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     5 * time.Second,
		PingTimeout:      5 * time.Second,
		CloseTimeout:     10 * time.Second,
		MaxMessageBytes:  1 << 20,
		Backoff: BackoffConfig{
			InitialDelay: 0,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}
