package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

// Config tunes the live connection.
type Config struct {
	// URL of the gateway websocket endpoint (ws:// or wss://).
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// PongWait must be longer than PingInterval.
	PongWait time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// StableAfter is how long a connection must stay up before the reconnect
	// backoff starts over from ReconnectInitial.
	StableAfter time.Duration

	OutboxSize        int
	OutboxMaxAge      time.Duration
	OutboxMaxAttempts int
	// FlushRate is in frames per second.
	FlushRate  float64
	FlushBurst int

	// Dialer overrides the default websocket dialer (tests, custom TLS).
	Dialer *websocket.Dialer
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      25 * time.Second,
		PongWait:          60 * time.Second,
		ReconnectInitial:  500 * time.Millisecond,
		ReconnectMax:      30 * time.Second,
		StableAfter:       10 * time.Second,
		OutboxSize:        100,
		OutboxMaxAge:      2 * time.Minute,
		OutboxMaxAttempts: 3,
		FlushRate:         20,
		FlushBurst:        5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = d.ReconnectInitial
	}
	if c.ReconnectMax < c.ReconnectInitial {
		c.ReconnectMax = c.ReconnectInitial
		if d.ReconnectMax > c.ReconnectMax {
			c.ReconnectMax = d.ReconnectMax
		}
	}
	if c.StableAfter <= 0 {
		c.StableAfter = d.StableAfter
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.OutboxMaxAttempts <= 0 {
		c.OutboxMaxAttempts = d.OutboxMaxAttempts
	}
	if c.FlushRate <= 0 {
		c.FlushRate = d.FlushRate
	}
	if c.FlushBurst <= 0 {
		c.FlushBurst = d.FlushBurst
	}
	return c
}
